package broadcast

import (
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/crypto"
)

// DefaultGroupCapacity bounds the per-block membership-binding LRU.
const DefaultGroupCapacity = 100

// PeerInfo is a member's network address and public key.
type PeerInfo struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
}

type membershipKindTag int

const (
	kindThreshold membershipKindTag = iota
	kindAnyOnline
	kindAllOnline
)

// MembershipKind is the acceptance rule applied to a pending snapshot
// before it is promoted to current.
type MembershipKind struct {
	tag       membershipKindTag
	threshold float64
}

// MembershipThreshold accepts a pending snapshot once connected_count >=
// floor(total_count * r).
func MembershipThreshold(r float64) MembershipKind {
	return MembershipKind{tag: kindThreshold, threshold: r}
}

// MembershipAnyOnline accepts once at least one peer is connected.
func MembershipAnyOnline() MembershipKind { return MembershipKind{tag: kindAnyOnline} }

// MembershipAllOnline accepts only once every known peer is connected.
func MembershipAllOnline() MembershipKind { return MembershipKind{tag: kindAllOnline} }

// Accepts reports whether a pending snapshot with these counts satisfies
// the rule.
func (k MembershipKind) Accepts(connected, total int) bool {
	switch k.tag {
	case kindThreshold:
		return float64(connected) >= math.Floor(float64(total)*k.threshold)
	case kindAnyOnline:
		return connected >= 1
	case kindAllOnline:
		return total > 0 && connected == total
	default:
		return false
	}
}

// Snapshot is a membership view at a point in time.
type Snapshot struct {
	Epoch     uint64
	All       map[crypto.PeerId]PeerInfo
	Connected map[crypto.PeerId]struct{}
	Local     crypto.PeerId
}

// IsMember reports whether p is in the snapshot's full membership.
func (s *Snapshot) IsMember(p crypto.PeerId) bool {
	_, ok := s.All[p]
	return ok
}

// Size returns the total membership count.
func (s *Snapshot) Size() int { return len(s.All) }

// Store is C6: the current/pending snapshot pair plus per-block epoch
// binding. Promotion from pending to current is not a consensus event —
// different nodes may promote at different wall-clock times.
type Store struct {
	mu               sync.RWMutex
	kind             MembershipKind
	current          *Snapshot
	pending          *Snapshot
	blockGroups      *lru.Cache // block.Hash -> *Snapshot
	strictOriginAuth bool
}

// NewStore creates a membership store whose current snapshot is epoch 0
// with local as its only member and no connected peers.
func NewStore(kind MembershipKind, local crypto.PeerId, strictOriginAuth bool) (*Store, error) {
	groups, err := lru.New(DefaultGroupCapacity)
	if err != nil {
		return nil, err
	}
	return &Store{
		kind: kind,
		current: &Snapshot{
			Epoch:     0,
			All:       map[crypto.PeerId]PeerInfo{local: {}},
			Connected: map[crypto.PeerId]struct{}{},
			Local:     local,
		},
		blockGroups:      groups,
		strictOriginAuth: strictOriginAuth,
	}, nil
}

// StrictOriginAuth reports whether original_sender must equal the
// delivering network peer, an explicit config option rather than an
// implicit default.
func (m *Store) StrictOriginAuth() bool { return m.strictOriginAuth }

// UpdatePending rebuilds the pending snapshot from an externally supplied
// member list and connected set, and promotes it to current immediately if
// the configured MembershipKind now accepts it. Returns true if this call
// promoted, letting a caller (the discovery loop) report the transition.
func (m *Store) UpdatePending(all map[crypto.PeerId]PeerInfo, connected map[crypto.PeerId]struct{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	local := m.current.Local
	m.pending = &Snapshot{Epoch: m.current.Epoch, All: all, Connected: connected, Local: local}
	if m.kind.Accepts(len(connected), len(all)) {
		m.promoteLocked()
		return true
	}
	return false
}

func (m *Store) promoteLocked() {
	promoted := *m.pending
	promoted.Epoch = m.current.Epoch + 1
	m.current = &promoted
	m.pending = nil
}

// Current returns the currently promoted snapshot.
func (m *Store) Current() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// BindBlock records, on first observation of hash, the then-current
// snapshot for all subsequent quorum checks on that block hash.
func (m *Store) BindBlock(hash block.Hash) *Snapshot {
	if v, ok := m.blockGroups.Get(hash); ok {
		return v.(*Snapshot)
	}
	m.mu.RLock()
	snap := m.current
	m.mu.RUnlock()
	m.blockGroups.Add(hash, snap)
	return snap
}
