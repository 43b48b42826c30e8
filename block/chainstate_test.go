package block

import (
	"testing"

	"github.com/tolelom/rbchain/crypto"
)

func newChainStateFixture(t *testing.T, cfg Config) (*ChainState, *crypto.CertService, crypto.PeerId) {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	svc := crypto.NewCertService(priv)
	local := pub.PeerId()
	cs, err := NewChainState(cfg, local, NewMempool(0), NewGenesis(local))
	if err != nil {
		t.Fatalf("new chain state: %v", err)
	}
	return cs, svc, local
}

func TestChainStateTickBuildsFromMempool(t *testing.T) {
	cs, svc, local := newChainStateFixture(t, Config{Producer: true})
	msg := newSignedMessage(t, svc, "a", []byte("A"))
	if err := cs.AdmitMessage(msg); err != nil {
		t.Fatalf("admit: %v", err)
	}
	blk, ok, err := cs.Tick()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !ok {
		t.Fatalf("expected a produced block")
	}
	if blk.Header.Height != 1 {
		t.Fatalf("expected height 1, got %d", blk.Header.Height)
	}
	if len(blk.Messages) != 1 || blk.Messages[0].ID != msg.ID {
		t.Fatalf("expected proposal to contain the admitted message, got %+v", blk.Messages)
	}
	if _, ok := cs.LastProduced(); !ok {
		t.Fatalf("expected last_produced to be set")
	}
}

func TestChainStateTickNoopWhenNotProducer(t *testing.T) {
	cs, _, _ := newChainStateFixture(t, Config{Producer: false})
	_, ok, err := cs.Tick()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if ok {
		t.Fatalf("expected no proposal when producer=false")
	}
}

func TestChainStateRepeatLastBlockKeepsSameMessages(t *testing.T) {
	cs, svc, _ := newChainStateFixture(t, Config{Producer: true, RepeatLastBlock: true})
	msg := newSignedMessage(t, svc, "a", []byte("A"))
	if err := cs.AdmitMessage(msg); err != nil {
		t.Fatalf("admit: %v", err)
	}
	first, _, err := cs.Tick()
	if err != nil {
		t.Fatalf("first tick: %v", err)
	}
	second, ok, err := cs.Tick()
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if !ok {
		t.Fatalf("expected a re-proposal")
	}
	if second.Header.Height != first.Header.Height {
		t.Fatalf("repeat-last-block must keep the same height")
	}
	if len(second.Messages) != 1 || second.Messages[0].ID != msg.ID {
		t.Fatalf("repeat-last-block must keep the same messages")
	}
}

func TestChainStateCommitRequiresMatchingHash(t *testing.T) {
	cs, svc, _ := newChainStateFixture(t, Config{Producer: true})
	msg := newSignedMessage(t, svc, "a", []byte("A"))
	if err := cs.AdmitMessage(msg); err != nil {
		t.Fatalf("admit: %v", err)
	}
	blk, _, err := cs.Tick()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if err := cs.Commit(HashOf([]byte("wrong"))); err == nil {
		t.Fatalf("expected commit of mismatched hash to fail")
	}
	if err := cs.Commit(blk.Header.Hash); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if cs.LastCommitted().Header.Hash != blk.Header.Hash {
		t.Fatalf("last_committed did not advance to the committed block")
	}
	if _, ok := cs.LastProduced(); ok {
		t.Fatalf("expected last_produced to be cleared after commit")
	}
	if cs.mempool.Size() != 0 {
		t.Fatalf("expected committed messages removed from mempool, size=%d", cs.mempool.Size())
	}
}

func TestChainStateRejectProducedClearsLastProducedAndMempool(t *testing.T) {
	cs, svc, _ := newChainStateFixture(t, Config{Producer: true})
	msg := newSignedMessage(t, svc, "a", []byte("A"))
	if err := cs.AdmitMessage(msg); err != nil {
		t.Fatalf("admit: %v", err)
	}
	blk, _, err := cs.Tick()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	cs.RejectProduced(blk, RejectAll, nil)
	if _, ok := cs.LastProduced(); ok {
		t.Fatalf("expected last_produced cleared after rejection")
	}
	if cs.mempool.Size() != 0 {
		t.Fatalf("expected rejected messages removed from mempool")
	}

	other := newSignedMessage(t, svc, "b", []byte("B"))
	if err := cs.AdmitMessage(other); err != nil {
		t.Fatalf("admit other: %v", err)
	}
	fresh, ok, err := cs.Tick()
	if err != nil {
		t.Fatalf("tick after rejection: %v", err)
	}
	if !ok || len(fresh.Messages) != 1 || fresh.Messages[0].ID != other.ID {
		t.Fatalf("expected a fresh proposal containing only the new message, got %+v", fresh.Messages)
	}
}

func TestChainStateValidateInboundRejectsSignerMismatch(t *testing.T) {
	cs, svc, local := newChainStateFixture(t, Config{Producer: false})
	msg := newSignedMessage(t, svc, "a", []byte("A"))
	blk, err := Build(1, local, []Message{msg})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	cert, err := svc.Sign(blk.Header.Hash[:])
	if err != nil {
		t.Fatalf("sign hash: %v", err)
	}

	_, otherPub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate other key: %v", err)
	}
	if err := cs.ValidateInbound(blk, otherPub.PeerId(), cert); err == nil {
		t.Fatalf("expected validation to fail when sender differs from certificate signer")
	}
	if err := cs.ValidateInbound(blk, local, cert); err != nil {
		t.Fatalf("expected validation to succeed for the true signer: %v", err)
	}
	if _, ok := cs.RecentBlock(blk.Header.Hash); !ok {
		t.Fatalf("expected validated block to be cached")
	}
}
