package config

import (
	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/crypto"
	"github.com/tolelom/rbchain/storage"
)

// SeedGenesis writes the height-0 anchor block into store if it is not
// already present, and returns the last committed block the node should
// resume from either way.
func SeedGenesis(store storage.BlockStore, local crypto.PeerId) (block.Block, error) {
	last, err := store.GetLastBlock()
	if err == nil {
		return last, nil
	}
	if err != storage.ErrNotFound {
		return block.Block{}, err
	}
	genesis := block.NewGenesis(local)
	if err := store.StoreBlock(genesis, nil); err != nil {
		return block.Block{}, err
	}
	return genesis, nil
}
