package block

import (
	"fmt"
	"sort"
	"time"

	"github.com/tolelom/rbchain/crypto"
)

// BlockHeader is the block metadata that participates in the block hash.
type BlockHeader struct {
	TimestampS int64         `json:"timestamp_s"`
	Creator    crypto.PeerId `json:"creator"`
	Height     uint64        `json:"height"`
	Hash       Hash          `json:"hash"`
}

// Block is an ordered bundle of messages produced by one node.
type Block struct {
	Header   BlockHeader `json:"header"`
	Messages []Message   `json:"messages"`
}

// rawBlock is the header-without-hash plus messages: what the block hash is
// computed over. Messages must already be sorted by id.
type rawBlock struct {
	TimestampS int64         `json:"timestamp_s"`
	Creator    crypto.PeerId `json:"creator"`
	Height     uint64        `json:"height"`
	Messages   []Message     `json:"messages"`
}

func (b Block) raw() rawBlock {
	return rawBlock{
		TimestampS: b.Header.TimestampS,
		Creator:    b.Header.Creator,
		Height:     b.Header.Height,
		Messages:   b.Messages,
	}
}

// RecomputeHash recomputes the block hash from the current header fields
// and messages, independent of the stored Header.Hash.
func (b Block) RecomputeHash() (Hash, error) {
	data, err := encodeCanonical(b.raw())
	if err != nil {
		return Hash{}, fmt.Errorf("encode block: %w", err)
	}
	return HashOf(data), nil
}

// VerifyIntegrity checks that Header.Hash matches the recomputed hash and
// that messages are sorted by id (the producer's canonicity invariant).
func (b Block) VerifyIntegrity() error {
	if !sort.SliceIsSorted(b.Messages, func(i, j int) bool {
		return b.Messages[i].ID.Less(b.Messages[j].ID)
	}) {
		return fmt.Errorf("block messages not sorted by id")
	}
	computed, err := b.RecomputeHash()
	if err != nil {
		return err
	}
	if computed != b.Header.Hash {
		return fmt.Errorf("block hash mismatch: stored %s computed %s", b.Header.Hash, computed)
	}
	return nil
}

// sortMessages returns a copy of msgs sorted lexicographically by id, per
// the hash-canonicity invariant (identical mempool contents hash the same
// regardless of admission order).
func sortMessages(msgs []Message) []Message {
	sorted := make([]Message, len(msgs))
	copy(sorted, msgs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID.Less(sorted[j].ID)
	})
	return sorted
}

// Build is the stateless block producer (C4): it sorts messages by id,
// stamps the current time and creator/height, and computes the resulting
// hash. It never signs — that is the block signer's job (C2) — so any two
// producers that pick the same message set produce byte-identical blocks.
func Build(height uint64, creator crypto.PeerId, messages []Message) (Block, error) {
	sorted := sortMessages(messages)
	b := Block{
		Header: BlockHeader{
			TimestampS: time.Now().Unix(),
			Creator:    creator,
			Height:     height,
		},
		Messages: sorted,
	}
	hash, err := b.RecomputeHash()
	if err != nil {
		return Block{}, err
	}
	b.Header.Hash = hash
	return b, nil
}

// Rebuild re-proposes the same message set at the same height but with a
// fresh timestamp — the block manager's repeat-last-block tick policy.
func Rebuild(prev Block) (Block, error) {
	return Build(prev.Header.Height, prev.Header.Creator, prev.Messages)
}
