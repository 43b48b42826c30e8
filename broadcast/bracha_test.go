package broadcast

import (
	"fmt"
	"strings"
	"testing"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/crypto"
)

type node struct {
	id      crypto.PeerId
	svc     *crypto.CertService
	machine *Machine
	store   *Store
}

func newCluster(t *testing.T, n int) []*node {
	t.Helper()
	privs := make([]crypto.PrivateKey, n)
	ids := make([]crypto.PeerId, n)
	all := make(map[crypto.PeerId]PeerInfo, n)
	for i := 0; i < n; i++ {
		priv, pub, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("generate key %d: %v", i, err)
		}
		privs[i] = priv
		ids[i] = pub.PeerId()
		all[ids[i]] = PeerInfo{PublicKey: pub.Hex()}
	}

	nodes := make([]*node, n)
	for i := 0; i < n; i++ {
		svc := crypto.NewCertService(privs[i])
		store, err := NewStore(MembershipAllOnline(), ids[i], false)
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		connected := make(map[crypto.PeerId]struct{}, n)
		for _, id := range ids {
			connected[id] = struct{}{}
		}
		store.UpdatePending(all, connected)

		contexts, err := NewContextStore(0)
		if err != nil {
			t.Fatalf("new context store: %v", err)
		}
		signer, err := NewBlockSigner(svc, 0)
		if err != nil {
			t.Fatalf("new signer: %v", err)
		}
		nodes[i] = &node{
			id:      ids[i],
			svc:     svc,
			store:   store,
			machine: NewMachine(contexts, store, signer, ids[i]),
		}
	}
	return nodes
}

// delivery is one inbound RbMsg addressed to a node, as claimed delivered by
// from.
type delivery struct {
	toIdx int
	rb    RbMsg
	from  crypto.PeerId
}

// runNetwork drains a worklist seeded with the initial broadcast, fanning
// out every outbound reply to all participating nodes (silent/faulty nodes
// never react). Once the worklist is exhausted it replays the accumulated
// message history to all participants, round after round, until a full
// round changes no node's tally for hash. This mirrors the redundant
// delivery a live gossip network provides: a node whose own vote crosses
// the deliver threshold inside an early-returning broadcast step (see
// processVote) only observes that threshold on a later, separate delivery.
func runNetwork(t *testing.T, nodes []*node, participants map[int]bool, hash block.Hash, seed []delivery) {
	t.Helper()
	var history []delivery
	queue := append([]delivery{}, seed...)

	apply := func(d delivery) {
		if !participants[d.toIdx] {
			return
		}
		resp, err := nodes[d.toIdx].machine.Handle(d.rb, d.from)
		if err != nil {
			t.Fatalf("node %d handle: %v", d.toIdx, err)
		}
		history = append(history, d)
		if resp.Command == CommandBroadcast && resp.Reply != nil {
			for k := range nodes {
				if k == d.toIdx {
					continue
				}
				queue = append(queue, delivery{toIdx: k, rb: *resp.Reply, from: nodes[d.toIdx].id})
			}
		}
	}
	drain := func() {
		for len(queue) > 0 {
			d := queue[0]
			queue = queue[1:]
			apply(d)
		}
	}
	tally := func() string {
		var b strings.Builder
		for _, n := range nodes {
			ctx, ok := n.machine.contexts.Peek(hash)
			if !ok {
				b.WriteString("_|")
				continue
			}
			fmt.Fprintf(&b, "%d-%d-%d-%v|", ctx.State, len(ctx.Echo), len(ctx.Vote), ctx.Delivered)
		}
		return b.String()
	}

	drain()
	for round := 0; round < len(nodes)+2; round++ {
		before := tally()
		queue = append(queue, history...)
		drain()
		if tally() == before {
			break
		}
	}
}

func buildSignedBlock(t *testing.T, creator *node) block.Block {
	t.Helper()
	msg, err := block.Sign(creator.svc, "m", []byte("A"), 1)
	if err != nil {
		t.Fatalf("sign message: %v", err)
	}
	blk, err := block.Build(1, creator.id, []block.Message{msg})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return blk
}

func TestBrachaThreeNodeNoFaults(t *testing.T) {
	nodes := newCluster(t, 3)
	blk := buildSignedBlock(t, nodes[0])
	cert, err := nodes[0].svc.Sign(blk.Header.Hash[:])
	if err != nil {
		t.Fatalf("sign hash: %v", err)
	}

	participants := map[int]bool{0: true, 1: true, 2: true}
	resp, err := nodes[0].machine.StartBroadcast(blk, cert)
	if err != nil {
		t.Fatalf("start broadcast: %v", err)
	}
	if resp.Command != CommandBroadcast || resp.Reply == nil {
		t.Fatalf("expected initial ECHO broadcast, got %+v", resp)
	}

	seed := make([]delivery, 0, 2)
	for j := 1; j < 3; j++ {
		seed = append(seed, delivery{toIdx: j, rb: *resp.Reply, from: nodes[0].id})
	}
	runNetwork(t, nodes, participants, blk.Header.Hash, seed)

	for i, n := range nodes {
		ctx, ok := n.machine.contexts.Peek(blk.Header.Hash)
		if !ok || !ctx.Delivered {
			t.Fatalf("node %d did not deliver block %s", i, blk.Header.Hash)
		}
	}
}

func TestBrachaThreeNodeOneSilentFault(t *testing.T) {
	nodes := newCluster(t, 3)
	blk := buildSignedBlock(t, nodes[0])
	cert, err := nodes[0].svc.Sign(blk.Header.Hash[:])
	if err != nil {
		t.Fatalf("sign hash: %v", err)
	}

	// Node 2 (index 2) is silent: it is a member but never reacts.
	participants := map[int]bool{0: true, 1: true, 2: false}
	resp, err := nodes[0].machine.StartBroadcast(blk, cert)
	if err != nil {
		t.Fatalf("start broadcast: %v", err)
	}
	seed := []delivery{{toIdx: 1, rb: *resp.Reply, from: nodes[0].id}}
	runNetwork(t, nodes, participants, blk.Header.Hash, seed)

	for i := 0; i < 2; i++ {
		ctx, ok := nodes[i].machine.contexts.Peek(blk.Header.Hash)
		if !ok || !ctx.Delivered {
			t.Fatalf("node %d did not deliver despite n-f=2 liveness, ctx=%+v", i, ctx)
		}
	}
}

func TestBrachaFourNodeOneSilentLiveness(t *testing.T) {
	nodes := newCluster(t, 4)
	blk := buildSignedBlock(t, nodes[0])
	cert, err := nodes[0].svc.Sign(blk.Header.Hash[:])
	if err != nil {
		t.Fatalf("sign hash: %v", err)
	}

	// Node 3 silent; nodes 0,1,2 participate. n=4,f=1,n-f=3 — exactly the
	// live participants, so delivery should still occur.
	participants := map[int]bool{0: true, 1: true, 2: true, 3: false}
	resp, err := nodes[0].machine.StartBroadcast(blk, cert)
	if err != nil {
		t.Fatalf("start broadcast: %v", err)
	}
	seed := make([]delivery, 0, 2)
	for j := 1; j < 3; j++ {
		seed = append(seed, delivery{toIdx: j, rb: *resp.Reply, from: nodes[0].id})
	}
	runNetwork(t, nodes, participants, blk.Header.Hash, seed)

	for i := 0; i < 3; i++ {
		ctx, ok := nodes[i].machine.contexts.Peek(blk.Header.Hash)
		if !ok || !ctx.Delivered {
			t.Fatalf("node %d did not deliver, ctx=%+v", i, ctx)
		}
	}
}

func TestBrachaFourNodeTwoSilentNoDelivery(t *testing.T) {
	nodes := newCluster(t, 4)
	blk := buildSignedBlock(t, nodes[0])
	cert, err := nodes[0].svc.Sign(blk.Header.Hash[:])
	if err != nil {
		t.Fatalf("sign hash: %v", err)
	}

	// Nodes 2 and 3 silent; only 0,1 participate. n=4,f=1,n-f=3 — two live
	// participants can never reach the echo threshold, so no node should
	// ever deliver.
	participants := map[int]bool{0: true, 1: true, 2: false, 3: false}
	resp, err := nodes[0].machine.StartBroadcast(blk, cert)
	if err != nil {
		t.Fatalf("start broadcast: %v", err)
	}
	seed := []delivery{{toIdx: 1, rb: *resp.Reply, from: nodes[0].id}}
	runNetwork(t, nodes, participants, blk.Header.Hash, seed)

	for i := 0; i < 2; i++ {
		ctx, ok := nodes[i].machine.contexts.Peek(blk.Header.Hash)
		if ok && ctx.Delivered {
			t.Fatalf("node %d delivered despite only %d of 4 live, ctx=%+v", i, 2, ctx)
		}
	}
}
