package dialog

// SourceRef points back into the tenant store so a fact can be re-resolved
// at verification time.
type SourceRef struct {
	Store   string // "catalog", "delivery", "branches", "faq"
	ID      string // row identifier within the store (sku, postcode, branch id, faq id)
	Version int64  // tenant data snapshot version the fact was read at
}

// Fact is a single verifiable claim: a claim key, its value, and where it
// came from. Facts are immutable once issued for a turn.
type Fact struct {
	Key    string
	Value  string
	Source SourceRef
}

// VerificationStatus is the verifier's judgement on one fact.
type VerificationStatus string

const (
	// StatusVerified means re-resolving the claim key returned the same value.
	StatusVerified VerificationStatus = "verified"
	// StatusStale means the key resolves but to a different value now.
	StatusStale VerificationStatus = "stale"
	// StatusNotFound means the key no longer resolves.
	StatusNotFound VerificationStatus = "not_found"
)

// VerificationResult pairs a fact with its verification status.
type VerificationResult struct {
	Fact   Fact
	Status VerificationStatus
}

// ClaimKeys returns the set of claim keys present in a fact list.
func ClaimKeys(facts []Fact) map[string]bool {
	keys := make(map[string]bool, len(facts))
	for _, f := range facts {
		keys[f.Key] = true
	}
	return keys
}
