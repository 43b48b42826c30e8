package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tolelom/rbchain/broadcast"
	"github.com/tolelom/rbchain/crypto"
)

// PeerDiscovery streams the current list<PeerInfo> to whoever polls it; the
// membership store (C6) is the only consumer.
type PeerDiscovery interface {
	Discover(ctx context.Context) (map[crypto.PeerId]broadcast.PeerInfo, error)
}

// StaticPeerDiscovery returns a fixed peer set read once from configuration
// — the glue every libp2p-backed reference implementation uses before
// falling back to a real DHT/mDNS provider (the core itself treats the
// provider as opaque).
type StaticPeerDiscovery struct {
	peers map[crypto.PeerId]broadcast.PeerInfo
}

// NewStaticPeerDiscovery builds a discovery provider around a fixed set.
func NewStaticPeerDiscovery(peers map[crypto.PeerId]broadcast.PeerInfo) *StaticPeerDiscovery {
	return &StaticPeerDiscovery{peers: peers}
}

func (s *StaticPeerDiscovery) Discover(context.Context) (map[crypto.PeerId]broadcast.PeerInfo, error) {
	return s.peers, nil
}

type filePeerEntry struct {
	PeerID  string `json:"peer_id"`
	Address string `json:"address"`
	PubKey  string `json:"public_key"`
}

// FilePeerDiscovery re-reads a JSON peer list from disk on every poll,
// letting an operator add/remove members without restarting the node.
type FilePeerDiscovery struct {
	path string
}

// NewFilePeerDiscovery builds a discovery provider backed by path.
func NewFilePeerDiscovery(path string) *FilePeerDiscovery {
	return &FilePeerDiscovery{path: path}
}

func (f *FilePeerDiscovery) Discover(context.Context) (map[crypto.PeerId]broadcast.PeerInfo, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read peer file %s: %w", f.path, err)
	}
	var entries []filePeerEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode peer file %s: %w", f.path, err)
	}
	out := make(map[crypto.PeerId]broadcast.PeerInfo, len(entries))
	for _, e := range entries {
		id, err := crypto.PeerIdFromHex(e.PeerID)
		if err != nil {
			return nil, fmt.Errorf("peer file %s: invalid peer_id %q: %w", f.path, e.PeerID, err)
		}
		out[id] = broadcast.PeerInfo{Address: e.Address, PublicKey: e.PubKey}
	}
	return out, nil
}

// RunDiscoveryLoop polls disc at interval and pushes results, along with the
// currently-connected set from live, into membership.UpdatePending — the
// external task that streams list<PeerInfo> to the membership store at a
// configurable interval. onPromote, if non-nil, is called whenever a poll
// promotes the pending snapshot to current.
func RunDiscoveryLoop(ctx context.Context, disc PeerDiscovery, membership *broadcast.Store, live func() map[crypto.PeerId]struct{}, interval time.Duration, onPromote func(*broadcast.Snapshot)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			all, err := disc.Discover(ctx)
			if err != nil {
				log.Warnf("peer discovery: %v", err)
				continue
			}
			if membership.UpdatePending(all, live()) && onPromote != nil {
				onPromote(membership.Current())
			}
		}
	}
}
