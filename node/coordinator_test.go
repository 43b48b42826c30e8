package node

import (
	"context"
	"testing"
	"time"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/broadcast"
	"github.com/tolelom/rbchain/crypto"
	"github.com/tolelom/rbchain/internal/testutil"
)

// fakeTransport is the transport of a single-node cluster. Self-delivery
// happens in-process, so SendRbMsg fails the test if it is ever called;
// GossipMessage accepts and drops the message.
type fakeTransport struct {
	t *testing.T
}

func (f fakeTransport) SendRbMsg(context.Context, crypto.PeerId, broadcast.RbMsg) error {
	f.t.Fatalf("unexpected SendRbMsg in a single-node cluster")
	return nil
}

func (f fakeTransport) GossipMessage(context.Context, block.Message) error { return nil }

type fakePublisher struct {
	published chan block.Block
}

func (p *fakePublisher) PublishBlock(blk block.Block) {
	p.published <- blk
}

func newSingleNodeCoordinator(t *testing.T) (*Coordinator, crypto.PeerId, *fakePublisher) {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	local := pub.PeerId()
	svc := crypto.NewCertService(priv)

	store := testutil.NewMemBlockStore()
	genesis := block.NewGenesis(local)
	if err := store.StoreBlock(genesis, nil); err != nil {
		t.Fatalf("seed genesis: %v", err)
	}

	membership, err := broadcast.NewStore(broadcast.MembershipAllOnline(), local, false)
	if err != nil {
		t.Fatalf("new membership store: %v", err)
	}
	membership.UpdatePending(
		map[crypto.PeerId]broadcast.PeerInfo{local: {PublicKey: pub.Hex()}},
		map[crypto.PeerId]struct{}{local: {}},
	)

	contexts, err := broadcast.NewContextStore(0)
	if err != nil {
		t.Fatalf("new context store: %v", err)
	}
	signer, err := broadcast.NewBlockSigner(svc, 0)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	machine := broadcast.NewMachine(contexts, membership, signer, local)

	mempool := block.NewMempool(0)
	chain, err := block.NewChainState(block.Config{Producer: true}, local, mempool, genesis)
	if err != nil {
		t.Fatalf("new chain state: %v", err)
	}

	pub2 := &fakePublisher{published: make(chan block.Block, 4)}
	coord := NewCoordinator(
		Config{CreationInterval: 15 * time.Millisecond},
		local, chain, machine, membership, signer, store,
		DefaultApplication{}, fakeTransport{t: t}, pub2, nil,
	)
	return coord, local, pub2
}

func TestCoordinatorSingleNodeCommit(t *testing.T) {
	coord, _, pub := newSingleNodeCoordinator(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go coord.Run(ctx)

	msgSvc := crypto.NewCertService(mustKey(t))
	msg, err := block.Sign(msgSvc, "m", []byte("A"), 1)
	if err != nil {
		t.Fatalf("sign message: %v", err)
	}

	if err := coord.SubmitMessage(ctx, msg); err != nil {
		t.Fatalf("submit message: %v", err)
	}

	select {
	case committed := <-pub.published:
		if committed.Header.Height != 1 {
			t.Fatalf("expected height 1, got %d", committed.Header.Height)
		}
		if len(committed.Messages) != 1 || committed.Messages[0].ID != msg.ID {
			t.Fatalf("expected committed block to contain the submitted message, got %+v", committed.Messages)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for commit")
	}

	last, err := coord.GetLastBlock(ctx)
	if err != nil {
		t.Fatalf("get last block: %v", err)
	}
	if last.Header.Height != 1 {
		t.Fatalf("expected storage last_block at height 1, got %d", last.Header.Height)
	}
}

func mustKey(t *testing.T) crypto.PrivateKey {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}
