package crypto

import (
	"encoding/binary"
	"sync"
)

// NonceSize is the AES-256-GCM nonce length in bytes.
const NonceSize = 12

// NonceValue is a stateful AEAD nonce: a 12-byte array whose 4-byte prefix
// is fixed at exchange time and whose 8-byte little-endian suffix is
// incremented by Advance before every seal/open. Two peers that exchanged
// nonces during key agreement each use their own NonceValue for sealing
// and the peer's for opening, so the two directions never share a counter.
type NonceValue struct {
	mu     sync.Mutex
	prefix [4]byte
	ctr    uint64
}

// NewNonceValue builds a NonceValue from the 12 bytes exchanged during key
// agreement (the active or passive side's nonce).
func NewNonceValue(exchanged [NonceSize]byte) *NonceValue {
	n := &NonceValue{}
	copy(n.prefix[:], exchanged[:4])
	n.ctr = binary.LittleEndian.Uint64(exchanged[4:])
	return n
}

// Advance increments the counter suffix and returns the 12-byte nonce to
// use for the operation that follows. It must be called exactly once per
// seal or open.
func (n *NonceValue) Advance() [NonceSize]byte {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out [NonceSize]byte
	copy(out[:4], n.prefix[:])
	binary.LittleEndian.PutUint64(out[4:], n.ctr)
	n.ctr++
	return out
}
