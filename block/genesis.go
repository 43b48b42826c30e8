package block

import "github.com/tolelom/rbchain/crypto"

// NewGenesis builds the height-0 anchor block: creator is the local peer,
// hash is all zeros, messages are empty. It is never signed or broadcast —
// storage seeds it directly on a fresh chain.
func NewGenesis(local crypto.PeerId) Block {
	return Block{
		Header: BlockHeader{
			TimestampS: 0,
			Creator:    local,
			Height:     0,
			Hash:       ZeroHash,
		},
		Messages: []Message{},
	}
}

// IsGenesis reports whether b is a height-0 anchor block.
func IsGenesis(b Block) bool {
	return b.Header.Height == 0 && b.Header.Hash.IsZero()
}
