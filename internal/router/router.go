// Package router classifies raw utterances into intents and slot
// candidates using only the tenant's indexed vocabulary. It makes no
// network or model calls, so classification is deterministic for a given
// text and data snapshot.
package router

import (
	"strings"

	"github.com/tendaro/tendaro/internal/dialog"
	"github.com/tendaro/tendaro/internal/retrieval"
)

// DefaultConfidenceThreshold marks intents as unknown when evidence is
// weaker than this. Overridable per tenant.
const DefaultConfidenceThreshold = 0.55

var stopwords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(
		"a an the i we you to for and or of with on at in near around show find tell need want me my do does please some got get",
	) {
		stopwords[w] = true
	}
}

var greetingWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "salam": true, "salaam": true,
	"morning": true, "evening": true, "afternoon": true,
}

var handoffPhrases = []string{
	"human", "real person", "speak to someone", "talk to someone",
	"speak to a person", "talk to a person", "staff", "manager", "call me",
}

// Result is one classification: the intent, candidate slot values, and the
// normalized tokens that produced them.
type Result struct {
	Intent dialog.Intent
	Slots  dialog.Slots
	Tags   []string // canonical catalog tags found in the utterance
	Query  string   // residual free-text product query
}

// Router classifies utterances against a tenant index.
type Router struct {
	// Threshold below which intents degrade to unknown.
	Threshold float64
}

// New creates a Router with the given confidence threshold; zero or
// negative means the default.
func New(threshold float64) *Router {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &Router{Threshold: threshold}
}

// Classify maps an utterance to an intent, slot candidates, and a
// confidence score in [0,1]. Confidence below the router threshold forces
// the unknown intent so the orchestrator clarifies rather than guesses.
func (r *Router) Classify(text string, idx *retrieval.Index) Result {
	norm := retrieval.NormalizeText(text)
	tokens := contentTokens(norm)

	slots := make(dialog.Slots)

	pc := extractPostcode(text)
	if pc != "" {
		slots[dialog.SlotPostcode] = pc
	}
	phone := extractPhone(text)
	if phone != "" {
		slots[dialog.SlotPhone] = phone
	}
	sku := extractSKU(text)
	if sku != "" && idx.HasSKU(sku) {
		slots[dialog.SlotSKU] = sku
	}
	if qty := extractQuantity(text, pc, phone); qty != "" {
		slots[dialog.SlotQuantity] = qty
	}

	tags := canonicalTags(tokens, idx)
	if len(tags) > 0 {
		slots[dialog.SlotItem] = tags[0]
	}

	kind, confidence, query := r.inferIntent(norm, tokens, tags, slots, idx)
	if confidence < r.Threshold {
		kind = dialog.IntentUnknown
	}

	return Result{
		Intent: dialog.Intent{Kind: kind, Confidence: confidence},
		Slots:  slots,
		Tags:   tags,
		Query:  query,
	}
}

// inferIntent applies evidence rules in priority order. Each rule carries
// its own base confidence; token evidence from the index nudges the score.
func (r *Router) inferIntent(norm string, tokens, tags []string, slots dialog.Slots, idx *retrieval.Index) (dialog.IntentKind, float64, string) {
	query := strings.Join(tokens, " ")

	// Handoff requests take priority over everything: the user asked for
	// a person, not an answer.
	for _, phrase := range handoffPhrases {
		if strings.Contains(norm, phrase) {
			return dialog.IntentHandoff, 0.9, query
		}
	}

	if isGreeting(tokens) {
		return dialog.IntentGreeting, 0.9, ""
	}

	if containsAny(norm, "deliver", "delivery", "ship", "shipping", "postcode", "post code") {
		conf := 0.75
		if !slots.Missing(dialog.SlotPostcode) {
			conf = 0.9
		}
		return dialog.IntentDeliveryQuote, conf, query
	}

	priceAsk := containsAny(norm, "price", "cost", "how much")
	if priceAsk && !slots.Missing(dialog.SlotSKU) {
		return dialog.IntentPriceCheck, 0.9, query
	}

	if containsAny(norm, "open", "hours", "closing", "address", "branch", "phone number", "located") {
		return dialog.IntentStoreInfo, 0.75, query
	}

	if !slots.Missing(dialog.SlotSKU) {
		return dialog.IntentPriceCheck, 0.8, query
	}

	nameHits := idx.MatchNameTokens(tokens)
	if priceAsk || len(tags) > 0 || nameHits > 0 {
		conf := 0.6
		if len(tags) > 0 {
			conf += 0.15
		}
		if nameHits > 0 {
			conf += 0.1
		}
		if conf > 0.95 {
			conf = 0.95
		}
		return dialog.IntentProductSearch, conf, query
	}

	faqHits := idx.MatchFAQTokens(tokens)
	questionish := strings.HasSuffix(strings.TrimSpace(norm), "?") ||
		containsAny(norm, "can ", "is ", "are ", "what", "when", "where", "why", "how")
	if faqHits > 0 && questionish {
		conf := 0.55 + 0.1*float64(faqHits)
		if conf > 0.9 {
			conf = 0.9
		}
		return dialog.IntentFAQ, conf, query
	}
	if questionish && faqHits == 0 && len(tokens) > 0 {
		return dialog.IntentFAQ, 0.5, query
	}

	if len(tokens) > 0 && len(tokens) <= 4 && !questionish {
		return dialog.IntentSmalltalk, 0.4, query
	}
	return dialog.IntentUnknown, 0.3, query
}

// canonicalTags maps tokens through synonyms and keeps those that are
// known catalog tags or categories. Near-miss tokens (edit distance 1 for
// length >= 5) are forgiven, so "chiken" still finds chicken.
func canonicalTags(tokens []string, idx *retrieval.Index) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range tokens {
		c := idx.Canonical(tok)
		if !idx.IsTag(c) && len(tok) >= 5 {
			if fixed := fuzzyTag(tok, idx); fixed != "" {
				c = fixed
			}
		}
		if idx.IsTag(c) && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
		if len(out) == 5 {
			break
		}
	}
	return out
}

// fuzzyTag finds a known tag within edit distance 1 of the token.
func fuzzyTag(token string, idx *retrieval.Index) string {
	best := ""
	for _, cand := range idx.KnownTags() {
		if abs(len(cand)-len(token)) > 1 {
			continue
		}
		if levenshtein(token, cand) <= 1 {
			if best == "" || cand < best {
				best = cand
			}
		}
	}
	return best
}

func contentTokens(norm string) []string {
	var out []string
	for _, t := range retrieval.Tokenize(norm) {
		if !stopwords[t] {
			out = append(out, t)
		}
	}
	return out
}

func isGreeting(tokens []string) bool {
	if len(tokens) == 0 || len(tokens) > 3 {
		return false
	}
	for _, t := range tokens {
		if greetingWords[t] {
			return true
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
