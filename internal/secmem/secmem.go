// Package secmem wraps sensitive in-memory values (passwords, derived
// keys) so that a stray %v, a JSON-encoded config dump, or a crash log
// can't leak them. Go's GC may still copy the backing array before Zero
// wipes it, so this is defense-in-depth, not a guarantee.
package secmem

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mirrorx/endpoint/internal/logging"
)

var log = logging.L("secmem")

const redacted = "[REDACTED]"

// SecureString holds a secret value behind a type that always formats,
// marshals, and prints as "[REDACTED]"; the only way to the plaintext is
// Reveal. Call Zero() in shutdown or error paths to overwrite the value in
// place rather than waiting for the GC.
type SecureString struct {
	mu         sync.Mutex
	data       []byte
	warnedOnce atomic.Bool
}

// NewSecureString copies s into a SecureString. The caller's own copy of s
// is not wiped; prefer building secrets directly into a SecureString where
// the call site allows it.
func NewSecureString(s string) *SecureString {
	b := make([]byte, len(s))
	copy(b, s)
	return &SecureString{data: b}
}

// Reveal returns the plaintext value, or "" once the value has been
// zeroed. The first Reveal after Zero logs a warning, since it usually
// means a secret outlived the scope that owned it.
func (s *SecureString) Reveal() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		if !s.warnedOnce.Swap(true) {
			log.Warn("secret revealed after being zeroed")
		}
		return ""
	}
	return string(s.data)
}

// IsZeroed reports whether Zero has already been called.
func (s *SecureString) IsZeroed() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data == nil
}

// Zero overwrites the backing byte slice and drops the reference to it.
// Safe to call more than once and on a nil receiver.
func (s *SecureString) Zero() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data {
		s.data[i] = 0
	}
	s.data = nil
}

// String implements fmt.Stringer, returning the redacted marker instead of
// the value so logging a config struct can never leak it through %s, %v,
// or %+v.
func (s *SecureString) String() string {
	return redacted
}

// GoString implements fmt.GoStringer, redacting %#v the same way String
// redacts the other verbs.
func (s *SecureString) GoString() string {
	return redacted
}

// Format implements fmt.Formatter so every verb, including %q and %x,
// prints the redacted marker unquoted.
func (s *SecureString) Format(f fmt.State, verb rune) {
	_, _ = f.Write([]byte(redacted))
}

// MarshalJSON always encodes the redacted marker; a SecureString embedded
// in a config struct that gets JSON-logged or persisted never round-trips
// its plaintext.
func (s *SecureString) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

// MarshalText mirrors MarshalJSON for encoders that prefer TextMarshaler
// (e.g. YAML via a JSON shim).
func (s *SecureString) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// UnmarshalJSON always fails: a SecureString field has no business being
// populated from a plaintext value sitting in a JSON document, since that
// value is already the thing this type exists to avoid.
func (s *SecureString) UnmarshalJSON([]byte) error {
	return fmt.Errorf("secmem: SecureString cannot be unmarshaled from JSON")
}

// Zero overwrites b in place. Shared by any fixed-size secret buffer
// (derived keys, ephemeral private key halves) that isn't itself wrapped
// in a SecureString.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
