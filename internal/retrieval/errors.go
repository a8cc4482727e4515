package retrieval

import "errors"

var (
	// ErrNotFound means the claim key does not resolve in the tenant store.
	ErrNotFound = errors.New("claim not found")

	// ErrUnavailable means the tenant store could not be reached. Callers
	// may retry; the gateway never substitutes stale or fabricated data.
	ErrUnavailable = errors.New("tenant store unavailable")

	// ErrBadClaimKey means the claim key is not part of the vocabulary.
	ErrBadClaimKey = errors.New("malformed claim key")
)
