package block

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/tolelom/rbchain/crypto"
)

// DefaultRecentBlocksCapacity bounds the block manager's recent-blocks LRU.
const DefaultRecentBlocksCapacity = 1000

// Config is the block manager's tick policy.
type Config struct {
	Producer           bool
	CreationIntervalS  int64
	RepeatLastBlock    bool
}

// RejectKind tags which messages an application-rejected produced block
// asks the mempool to drop.
type RejectKind int

const (
	RejectAll RejectKind = iota
	RejectSelected
)

// ChainState is C5: drives the mempool+producer on a tick, validates
// inbound blocks, and applies commits. It holds no storage handle of its
// own — the coordinator owns durable writes.
type ChainState struct {
	cfg          Config
	local        crypto.PeerId
	mempool      *Mempool
	lastCommitted Block
	lastProduced  *Block
	recent       *lru.Cache // block.Hash -> Block
}

// NewChainState creates a block manager seeded at lastCommitted (typically
// the genesis block or the last block read from storage at startup).
func NewChainState(cfg Config, local crypto.PeerId, mempool *Mempool, lastCommitted Block) (*ChainState, error) {
	cache, err := lru.New(DefaultRecentBlocksCapacity)
	if err != nil {
		return nil, err
	}
	return &ChainState{
		cfg:           cfg,
		local:         local,
		mempool:       mempool,
		lastCommitted: lastCommitted,
		recent:        cache,
	}, nil
}

// LastCommitted returns the most recently committed block.
func (c *ChainState) LastCommitted() Block { return c.lastCommitted }

// LastProduced returns the in-flight proposal, if any.
func (c *ChainState) LastProduced() (Block, bool) {
	if c.lastProduced == nil {
		return Block{}, false
	}
	return *c.lastProduced, true
}

// Tick implements the periodic tick behavior. It returns ok=false
// only if producer=false; an empty mempool still yields a block with no
// messages.
func (c *ChainState) Tick() (Block, bool, error) {
	if !c.cfg.Producer {
		return Block{}, false, nil
	}

	if c.lastProduced != nil {
		if c.cfg.RepeatLastBlock {
			blk, err := Rebuild(*c.lastProduced)
			if err != nil {
				return Block{}, false, fmt.Errorf("rebuild last block: %w", err)
			}
			c.lastProduced = &blk
			c.recent.Add(blk.Header.Hash, blk)
			return blk, true, nil
		}
		blk, err := Build(c.lastProduced.Header.Height, c.local, c.mempool.Snapshot())
		if err != nil {
			return Block{}, false, fmt.Errorf("rebuild from mempool: %w", err)
		}
		c.lastProduced = &blk
		c.recent.Add(blk.Header.Hash, blk)
		return blk, true, nil
	}

	blk, err := Build(c.lastCommitted.Header.Height+1, c.local, c.mempool.Snapshot())
	if err != nil {
		return Block{}, false, fmt.Errorf("build block: %w", err)
	}
	c.lastProduced = &blk
	c.recent.Add(blk.Header.Hash, blk)
	return blk, true, nil
}

// AdmitMessage inserts msg into the mempool after the application's
// check_tx has already accepted it.
func (c *ChainState) AdmitMessage(msg Message) error {
	return c.mempool.Admit(msg)
}

// ValidateInbound implements the on-inbound-block rule: the
// network sender must be the certificate's signer, the hash must
// recompute, and the certificate must verify against it. On success the
// block is cached in the recent-blocks LRU.
func (c *ChainState) ValidateInbound(blk Block, sender crypto.PeerId, cert crypto.Certificate) error {
	signer, err := cert.Signer()
	if err != nil {
		return fmt.Errorf("inbound block %s: invalid certificate public key: %w", blk.Header.Hash, err)
	}
	if signer != sender {
		return fmt.Errorf("inbound block %s: sender %s is not the certificate signer %s", blk.Header.Hash, sender, signer)
	}
	computed, err := blk.RecomputeHash()
	if err != nil {
		return fmt.Errorf("inbound block %s: %w", blk.Header.Hash, err)
	}
	if computed != blk.Header.Hash {
		return fmt.Errorf("inbound block %s: hash mismatch, computed %s", blk.Header.Hash, computed)
	}
	if !crypto.VerifyCertificate(blk.Header.Hash[:], cert) {
		return fmt.Errorf("inbound block %s: certificate does not verify", blk.Header.Hash)
	}
	c.recent.Add(blk.Header.Hash, blk)
	return nil
}

// RecentBlock returns the cached block for hash, if still held in the LRU.
func (c *ChainState) RecentBlock(hash Hash) (Block, bool) {
	v, ok := c.recent.Get(hash)
	if !ok {
		return Block{}, false
	}
	return v.(Block), true
}

// ClearLastProduced clears the outstanding proposal without touching the
// mempool — used on a bare application Reject (CheckBlockResult has a
// Reject variant distinct from RejectAndRemove; only the latter names
// messages to evict).
func (c *ChainState) ClearLastProduced() {
	c.lastProduced = nil
}

// RejectProduced implements the on-application-rejected-produced-block
// rule: evict the named (or all) messages from the mempool and clear
// last_produced so the next tick proposes afresh.
func (c *ChainState) RejectProduced(blk Block, kind RejectKind, selected []Message) {
	switch kind {
	case RejectAll:
		c.mempool.RemoveAll(blk.Messages)
	case RejectSelected:
		c.mempool.RemoveAll(selected)
	}
	c.lastProduced = nil
}

// Commit implements the on-commit-of-hash-H rule. It is a fatal
// bug (returned as an error, never silently ignored) if H does not match
// the currently outstanding proposal.
func (c *ChainState) Commit(hash Hash) error {
	if c.lastProduced == nil || c.lastProduced.Header.Hash != hash {
		return fmt.Errorf("commit of %s does not match outstanding proposal", hash)
	}
	c.mempool.RemoveAll(c.lastProduced.Messages)
	c.lastCommitted = *c.lastProduced
	c.lastProduced = nil
	return nil
}
