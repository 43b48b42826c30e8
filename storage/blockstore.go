package storage

import (
	"errors"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/crypto"
)

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// ErrBlockExists is returned by StoreBlock when block_hash:<h> is already
// present — commits are append-only and must never silently overwrite a
// prior block.
var ErrBlockExists = errors.New("block already stored")

// BlockStore is C9's capability set: the only storage surface the commit
// coordinator depends on. The reference implementation backs it with
// LevelDB; tests use the in-memory stub in internal/testutil, and the
// coordinator is indifferent to which one it is holding.
type BlockStore interface {
	// StoreBlock durably records blk and its accumulated certificates and
	// advances the last-block pointer, all in a single atomic write.
	// Commits are append-only: it returns ErrBlockExists if
	// block_hash:<hash> is already present rather than overwriting it.
	StoreBlock(blk block.Block, certs []crypto.Certificate) error
	GetBlockByHash(hash block.Hash) (block.Block, error)
	GetBlockByHeight(height uint64) (block.Block, error)
	GetLastBlock() (block.Block, error)
	GetBlockCertificates(hash block.Hash) ([]crypto.Certificate, error)
}
