package auth

import (
	"crypto/subtle"
	"strings"
)

// DefaultHeader is used when Policy.Header is empty.
const DefaultHeader = "x-api-key"

// Policy describes API-key enforcement shared by the HTTP and gRPC listeners.
type Policy struct {
	// Mode is "apikey" to enforce; anything else allows all requests.
	Mode string
	// Header is the HTTP header and gRPC metadata key carrying the key.
	Header string
	// Key is the expected value. Empty disables enforcement.
	Key string
}

// Enabled reports whether requests must present a key.
func (p Policy) Enabled() bool {
	return p.Mode == "apikey" && p.Key != ""
}

// Valid compares got with the expected key in constant time.
func (p Policy) Valid(got string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(p.Key)) == 1
}

func (p Policy) header() string {
	if p.Header == "" {
		return DefaultHeader
	}
	return strings.ToLower(p.Header)
}
