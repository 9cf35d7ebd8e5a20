package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// DeriveSeed folds a base seed and a stream label into a new 64-bit seed.
// Distinct labels give unrelated streams for the same base seed.
func DeriveSeed(base uint64, label string) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], base)
	h := sha256.New()
	h.Write(buf[:])
	h.Write([]byte(label))
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum[:8])
}

// ComputeConfigHash fingerprints a flat parameter map independent of key order.
func ComputeConfigHash(params map[string]interface{}) Hash {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data strings.Builder
	for _, key := range keys {
		data.WriteString(key)
		data.WriteString(fmt.Sprintf("%v", params[key]))
	}

	return NewHash([]byte(data.String()))
}
