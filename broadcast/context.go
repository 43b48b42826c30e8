package broadcast

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/crypto"
)

// DefaultContextCapacity bounds the per-block context LRU. An evicted
// undelivered context is a deliberate liveness-vs-memory trade-off.
const DefaultContextCapacity = 1000

// State is the per-block context's lifecycle stage.
type State int

const (
	StateInit State = iota
	StateEchoed
	StateVoted
	StateDelivered
)

// Context is the per-block-hash Bracha state: the accumulated echo/vote
// sets, whether delivery has fired, and the membership epoch bound to this
// hash at first observation. It is never mutated once Delivered is true.
type Context struct {
	Hash            block.Hash
	Echo            map[crypto.PeerId]struct{}
	Vote            map[crypto.PeerId]struct{}
	State           State
	Delivered       bool
	MembershipEpoch uint64
}

// NewContext creates an empty context bound to epoch.
func NewContext(hash block.Hash, epoch uint64) *Context {
	return &Context{
		Hash:            hash,
		Echo:            make(map[crypto.PeerId]struct{}),
		Vote:            make(map[crypto.PeerId]struct{}),
		State:           StateInit,
		MembershipEpoch: epoch,
	}
}

func (c *Context) AddEcho(p crypto.PeerId) { c.Echo[p] = struct{}{} }
func (c *Context) AddVote(p crypto.PeerId) { c.Vote[p] = struct{}{} }

func (c *Context) HasEchoed(p crypto.PeerId) bool {
	_, ok := c.Echo[p]
	return ok
}

func (c *Context) HasVoted(p crypto.PeerId) bool {
	_, ok := c.Vote[p]
	return ok
}

// ContextStore is the bounded LRU arena of per-block contexts (C7's
// "arena-by-eviction").
type ContextStore struct {
	cache *lru.Cache
}

// NewContextStore creates a context store bounded at capacity (0 means
// DefaultContextCapacity).
func NewContextStore(capacity int) (*ContextStore, error) {
	if capacity <= 0 {
		capacity = DefaultContextCapacity
	}
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	return &ContextStore{cache: cache}, nil
}

// GetOrCreate returns the existing context for hash, or lazily creates one
// bound to currentEpoch on first observation.
func (s *ContextStore) GetOrCreate(hash block.Hash, currentEpoch uint64) *Context {
	if v, ok := s.cache.Get(hash); ok {
		return v.(*Context)
	}
	ctx := NewContext(hash, currentEpoch)
	s.cache.Add(hash, ctx)
	return ctx
}

// Peek returns the context for hash without affecting LRU recency, if present.
func (s *ContextStore) Peek(hash block.Hash) (*Context, bool) {
	v, ok := s.cache.Peek(hash)
	if !ok {
		return nil, false
	}
	return v.(*Context), true
}
