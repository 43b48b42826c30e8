// Package broadcast implements the Bracha-style reliable broadcast state
// machine that turns a locally or remotely produced block proposal into an
// agreed, certified commit.
package broadcast

import (
	logger "github.com/sirupsen/logrus"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/crypto"
)

var log = logger.WithFields(logger.Fields{"process": "broadcast"})

// Status reports whether handling an event delivered the block.
type Status int

const (
	StatusPending Status = iota
	StatusCommitted
)

// Command tells the caller what to do with Response.Reply.
type Command int

const (
	CommandDrop Command = iota
	CommandBroadcast
)

// Response is the outcome of folding one RbMsg into the state machine.
type Response struct {
	Status  Status
	Command Command
	Reply   *RbMsg
}

var dropped = Response{Status: StatusPending, Command: CommandDrop}

// Machine is C7: the per-node Bracha engine. It is not safe for concurrent
// use — the commit coordinator is its sole caller, per the single-mutator
// discipline.
type Machine struct {
	contexts   *ContextStore
	membership *Store
	signer     *BlockSigner
	local      crypto.PeerId
}

// NewMachine assembles a Machine from its collaborators.
func NewMachine(contexts *ContextStore, membership *Store, signer *BlockSigner, local crypto.PeerId) *Machine {
	return &Machine{contexts: contexts, membership: membership, signer: signer, local: local}
}

// StartBroadcast synthesises ECHO(H) from self for a locally produced block
// and folds it into a fresh context, returning the outbound ECHO to send to
// all members.
func (m *Machine) StartBroadcast(blk block.Block, cert crypto.Certificate) (Response, error) {
	rb, err := NewRbMsg(PhaseEcho, blk, m.local, cert)
	if err != nil {
		return Response{}, err
	}
	return m.Handle(rb, m.local)
}

// Handle folds one inbound RbMsg, delivered by networkPeer, into its
// block's context and returns the resulting outbound action.
func (m *Machine) Handle(rb RbMsg, networkPeer crypto.PeerId) (Response, error) {
	h := rb.Block.Header.Hash
	snap := m.membership.BindBlock(h)

	if !snap.IsMember(rb.OriginalSender) || !snap.IsMember(networkPeer) {
		log.Tracef("dropping rbmsg %s for block %s: sender/peer not members", rb.ID, h)
		return dropped, nil
	}
	if m.membership.StrictOriginAuth() && rb.OriginalSender != networkPeer {
		log.Tracef("dropping rbmsg %s for block %s: strict origin auth failed", rb.ID, h)
		return dropped, nil
	}
	if !crypto.VerifyCertificate(h[:], rb.Certificate) {
		log.Tracef("dropping rbmsg %s for block %s: certificate invalid", rb.ID, h)
		return dropped, nil
	}
	if !snap.IsMember(rb.Block.Header.Creator) {
		log.Tracef("dropping rbmsg %s for block %s: creator not a member", rb.ID, h)
		return dropped, nil
	}

	ctx := m.contexts.GetOrCreate(h, snap.Epoch)
	if ctx.Delivered {
		return dropped, nil
	}

	switch rb.Phase {
	case PhaseEcho:
		log.Tracef("processing ECHO for %s from %s", h, networkPeer)
		return m.processEcho(ctx, snap, rb, networkPeer)
	case PhaseVote:
		log.Tracef("processing VOTE for %s from %s", h, networkPeer)
		return m.processVote(ctx, snap, rb, networkPeer)
	default:
		return dropped, nil
	}
}

// processEcho implements the on-ECHO(H)-from-p rule. rb's
// original_sender is the peer vouching for this particular ECHO (it is
// re-stamped to m.local on every outbound reply below, not preserved
// hop-to-hop), so it is only added to the echo set when it differs from
// this node's own id.
func (m *Machine) processEcho(ctx *Context, snap *Snapshot, rb RbMsg, networkPeer crypto.PeerId) (Response, error) {
	if rb.OriginalSender != m.local {
		ctx.AddEcho(rb.OriginalSender)
	}
	if ctx.State == StateInit {
		ctx.State = StateEchoed
	}

	q := NewQuorum(snap.Size())

	if !ctx.HasEchoed(m.local) {
		ctx.AddEcho(m.local)
		cert, err := m.signer.SignBlock(ctx.Hash)
		if err != nil {
			return Response{}, err
		}
		reply, err := NewRbMsg(PhaseEcho, rb.Block, m.local, cert)
		if err != nil {
			return Response{}, err
		}
		return Response{Status: StatusPending, Command: CommandBroadcast, Reply: &reply}, nil
	}

	if !ctx.HasVoted(m.local) && len(ctx.Echo) >= q.EchoThreshold() {
		log.Tracef("echo quorum reached for %s, voting", ctx.Hash)
		ctx.AddVote(m.local)
		ctx.State = StateVoted
		cert, err := m.signer.SignBlock(ctx.Hash)
		if err != nil {
			return Response{}, err
		}
		reply, err := NewRbMsg(PhaseVote, rb.Block, m.local, cert)
		if err != nil {
			return Response{}, err
		}
		return Response{Status: StatusPending, Command: CommandBroadcast, Reply: &reply}, nil
	}

	return dropped, nil
}

// processVote implements the on-VOTE(H)-from-p rule. As with
// processEcho, rb.OriginalSender identifies the peer vouching for this
// VOTE and is re-stamped to m.local on every outbound reply.
func (m *Machine) processVote(ctx *Context, snap *Snapshot, rb RbMsg, networkPeer crypto.PeerId) (Response, error) {
	if rb.OriginalSender != m.local {
		ctx.AddVote(rb.OriginalSender)
	}

	q := NewQuorum(snap.Size())

	if !ctx.HasVoted(m.local) && len(ctx.Vote) >= q.VoteSendThreshold() {
		ctx.AddVote(m.local)
		ctx.State = StateVoted
		cert, err := m.signer.SignBlock(ctx.Hash)
		if err != nil {
			return Response{}, err
		}
		reply, err := NewRbMsg(PhaseVote, rb.Block, m.local, cert)
		if err != nil {
			return Response{}, err
		}
		return Response{Status: StatusPending, Command: CommandBroadcast, Reply: &reply}, nil
	}

	if ctx.HasVoted(m.local) && !ctx.Delivered && len(ctx.Vote) >= q.DeliverThreshold() {
		log.Debugf("commit complete for %s", ctx.Hash)
		ctx.Delivered = true
		ctx.State = StateDelivered
		return Response{Status: StatusCommitted, Command: CommandDrop}, nil
	}

	return dropped, nil
}
