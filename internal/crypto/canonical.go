package crypto

import "fmt"

// CanonicalRequest builds the canonical payload signed for a bodyless request.
// Binding method, path and timestamp into the signature prevents a captured
// signature from being replayed against a different endpoint.
// Format: METHOD SP PATH SP TIMESTAMP (timestamp in Unix milliseconds).
func CanonicalRequest(method, path string, timestampMillis int64) []byte {
	return []byte(fmt.Sprintf("%s %s %d", method, path, timestampMillis))
}
