package block

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tolelom/rbchain/crypto"
)

// Hash is the 32-byte content hash used for message hashes (the mempool
// key), block hashes, and
// gossip deduplication. All hashing in this module goes through
// crypto.HashBytes so the hash function stays in one place (SHA-256).
type Hash [32]byte

// ZeroHash is the all-zeros hash used for the genesis block.
var ZeroHash Hash

// HashOf hashes data into a Hash.
func HashOf(data []byte) Hash {
	var h Hash
	copy(h[:], crypto.HashBytes(data))
	return h
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zeros hash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// HashFromBytes copies raw 32-byte hash data into a Hash.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != len(h) {
		return h, fmt.Errorf("hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashFromHex decodes a hex-encoded Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := HashFromHex(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// encodeCanonical is the single canonical encoding used for both hashing
// and the wire (spec's "pick one encoding" note): JSON over Go structs,
// whose field order is fixed by declaration order.
func encodeCanonical(v any) ([]byte, error) {
	return json.Marshal(v)
}
