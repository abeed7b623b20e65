// Package secret wraps byte slices that may carry credentials (SASL initial
// responses, LOGIN literal payloads) so that default formatting never
// prints them. Callers that genuinely need the raw bytes for forensic
// diagnostics must call Declassify explicitly.
package secret

import "strconv"

// Bytes is a credential-shaped byte slice. Its zero value is an empty,
// already-declassified secret.
type Bytes struct {
	b []byte
}

// New wraps b as a Bytes. The caller must not mutate b afterwards.
func New(b []byte) Bytes {
	return Bytes{b: b}
}

// Len returns the number of wrapped bytes without exposing them.
func (s Bytes) Len() int {
	return len(s.b)
}

// Declassify returns the wrapped bytes. Use only for forensic logging or
// diagnostics explicitly requested by an operator.
func (s Bytes) Declassify() []byte {
	return s.b
}

// String implements fmt.Stringer without leaking the wrapped bytes.
func (s Bytes) String() string {
	return "secret.Bytes(REDACTED, len=" + strconv.Itoa(len(s.b)) + ")"
}

// GoString implements fmt.GoStringer so that %#v also redacts.
func (s Bytes) GoString() string {
	return s.String()
}
