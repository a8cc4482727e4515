package dialog

// IntentKind is the closed set of intents the router can produce.
type IntentKind string

const (
	IntentGreeting      IntentKind = "greeting"
	IntentProductSearch IntentKind = "product_search"
	IntentPriceCheck    IntentKind = "price_check"
	IntentDeliveryQuote IntentKind = "delivery_quote"
	IntentStoreInfo     IntentKind = "store_info"
	IntentFAQ           IntentKind = "faq"
	IntentHandoff       IntentKind = "human_handoff"
	IntentSmalltalk     IntentKind = "smalltalk"
	IntentUnknown       IntentKind = "unknown"
)

// Intent is a classified utterance with the router's confidence in it.
type Intent struct {
	Kind       IntentKind
	Confidence float64
}

// SlotName identifies a slot within an intent's schema.
type SlotName string

const (
	SlotItem     SlotName = "item"
	SlotPostcode SlotName = "postcode"
	SlotSKU      SlotName = "sku"
	SlotVariant  SlotName = "variant"
	SlotDate     SlotName = "date"
	SlotQuantity SlotName = "quantity"
	SlotPhone    SlotName = "phone"
	SlotBranch   SlotName = "branch"
)

// SlotSpec declares one slot of an intent schema. Declaration order within
// the schema is the clarifier tie-break order.
type SlotSpec struct {
	Name     SlotName
	Required bool
}

// slotSchemas maps each intent to its slot schema. Required slots are asked
// before optional ones when a clarifier is needed.
var slotSchemas = map[IntentKind][]SlotSpec{
	IntentProductSearch: {
		{Name: SlotItem, Required: true},
		{Name: SlotVariant, Required: false},
		{Name: SlotQuantity, Required: false},
	},
	IntentPriceCheck: {
		{Name: SlotSKU, Required: true},
		{Name: SlotQuantity, Required: false},
	},
	IntentDeliveryQuote: {
		{Name: SlotPostcode, Required: true},
		{Name: SlotDate, Required: false},
	},
	IntentStoreInfo: {
		{Name: SlotBranch, Required: false},
	},
	IntentHandoff: {
		{Name: SlotPhone, Required: false},
	},
}

// SchemaFor returns the slot schema for an intent. Intents with no slots
// (greeting, faq, smalltalk, unknown) return nil.
func SchemaFor(kind IntentKind) []SlotSpec {
	return slotSchemas[kind]
}

// Slots is the set of slot values resolved so far. A slot absent from the
// map (or mapped to "") is missing.
type Slots map[SlotName]string

// Get returns the slot value, or "" when missing.
func (s Slots) Get(name SlotName) string {
	if s == nil {
		return ""
	}
	return s[name]
}

// Missing reports whether the named slot has no resolved value.
func (s Slots) Missing(name SlotName) bool {
	return s.Get(name) == ""
}

// Clone returns an independent copy.
func (s Slots) Clone() Slots {
	out := make(Slots, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
