package node

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/broadcast"
	"github.com/tolelom/rbchain/crypto"
	"github.com/tolelom/rbchain/events"
	"github.com/tolelom/rbchain/storage"
)

var log = logger.WithFields(logger.Fields{"process": "node"})

// Transport is the outbound side of the request-response and gossip
// channels the coordinator depends on. Its implementation lives
// outside the core, on its own task.
type Transport interface {
	SendRbMsg(ctx context.Context, to crypto.PeerId, rb broadcast.RbMsg) error
	GossipMessage(ctx context.Context, msg block.Message) error
}

// BlockPublisher fans out committed blocks to external subscribers (the
// WebSocket broadcaster).
type BlockPublisher interface {
	PublishBlock(blk block.Block)
}

// Config is C8's tick and wiring configuration.
type Config struct {
	CreationInterval time.Duration
}

// Coordinator is C8: the single-threaded event loop that is the sole
// mutator of the block manager and broadcast state machine. All inputs are
// processed one at a time over channels. Other goroutines reach it only
// through SubmitMessage, DeliverRbMsg and the GetBlock*/GetLastBlock
// queries, which hand their work to Run; the remaining methods run on the
// Run goroutine only.
type Coordinator struct {
	cfg        Config
	local      crypto.PeerId
	chain      *block.ChainState
	bcast      *broadcast.Machine
	membership *broadcast.Store
	signer     *broadcast.BlockSigner
	store      storage.BlockStore
	app        Application
	transport  Transport
	publisher  BlockPublisher
	events     *events.Emitter

	submitCh  chan submitRequest
	inboundCh chan inboundRb
	queryCh   chan queryRequest
}

type submitRequest struct {
	msg  block.Message
	resp chan error
}

type inboundRb struct {
	rb   broadcast.RbMsg
	from crypto.PeerId
}

type queryKind int

const (
	queryByHash queryKind = iota
	queryByHeight
	queryLast
	queryCertificates
)

type queryRequest struct {
	kind   queryKind
	hash   block.Hash
	height uint64
	resp   chan queryResult
}

type queryResult struct {
	blk   block.Block
	certs []crypto.Certificate
	err   error
}

// NewCoordinator assembles a coordinator from its collaborators. store
// must already contain the genesis block (or the node's prior chain) — the
// caller seeds it before construction.
func NewCoordinator(
	cfg Config,
	local crypto.PeerId,
	chain *block.ChainState,
	bcast *broadcast.Machine,
	membership *broadcast.Store,
	signer *broadcast.BlockSigner,
	store storage.BlockStore,
	app Application,
	transport Transport,
	publisher BlockPublisher,
	emitter *events.Emitter,
) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		local:      local,
		chain:      chain,
		bcast:      bcast,
		membership: membership,
		signer:     signer,
		store:      store,
		app:        app,
		transport:  transport,
		publisher:  publisher,
		events:     emitter,
		submitCh:   make(chan submitRequest, 100),
		inboundCh:  make(chan inboundRb, 1000),
		queryCh:    make(chan queryRequest, 100),
	}
}

// emit is a no-op if the coordinator was built without an emitter (events
// are observability, never a dependency of the commit path).
func (c *Coordinator) emit(ev events.Event) {
	if c.events != nil {
		c.events.Emit(ev)
	}
}

// SubmitMessage is the external entry point for application-submitted
// messages (the HTTP submit_message endpoint). It runs check_tx, admits to
// the mempool, and gossips on success — all serialized through the event
// loop.
func (c *Coordinator) SubmitMessage(ctx context.Context, msg block.Message) error {
	resp := make(chan error, 1)
	select {
	case c.submitCh <- submitRequest{msg: msg, resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeliverRbMsg is the external entry point for an inbound broadcast
// protocol message, delivered by the network peer `from`.
func (c *Coordinator) DeliverRbMsg(ctx context.Context, rb broadcast.RbMsg, from crypto.PeerId) error {
	select {
	case c.inboundCh <- inboundRb{rb: rb, from: from}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) query(ctx context.Context, req queryRequest) queryResult {
	req.resp = make(chan queryResult, 1)
	select {
	case c.queryCh <- req:
	case <-ctx.Done():
		return queryResult{err: ctx.Err()}
	}
	select {
	case res := <-req.resp:
		return res
	case <-ctx.Done():
		return queryResult{err: ctx.Err()}
	}
}

func (c *Coordinator) GetBlockByHash(ctx context.Context, hash block.Hash) (block.Block, error) {
	res := c.query(ctx, queryRequest{kind: queryByHash, hash: hash})
	return res.blk, res.err
}

func (c *Coordinator) GetBlockByHeight(ctx context.Context, height uint64) (block.Block, error) {
	res := c.query(ctx, queryRequest{kind: queryByHeight, height: height})
	return res.blk, res.err
}

func (c *Coordinator) GetLastBlock(ctx context.Context) (block.Block, error) {
	res := c.query(ctx, queryRequest{kind: queryLast})
	return res.blk, res.err
}

func (c *Coordinator) GetBlockCertificates(ctx context.Context, hash block.Hash) ([]crypto.Certificate, error) {
	res := c.query(ctx, queryRequest{kind: queryCertificates, hash: hash})
	return res.certs, res.err
}

// Run drives the event loop until ctx is cancelled. Shutdown is
// cooperative: one event is drained per iteration, then the context is
// rechecked.
func (c *Coordinator) Run(ctx context.Context) {
	interval := c.cfg.CreationInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("coordinator shutting down")
			return
		case <-ticker.C:
			c.onTick(ctx)
		case req := <-c.submitCh:
			req.resp <- c.onSubmit(ctx, req.msg)
		case in := <-c.inboundCh:
			c.onInboundRbMsg(ctx, in.rb, in.from)
		case q := <-c.queryCh:
			q.resp <- c.onQuery(q)
		}
	}
}

func (c *Coordinator) onTick(ctx context.Context) {
	blk, ok, err := c.chain.Tick()
	if err != nil {
		log.Errorf("block manager tick: %v", err)
		return
	}
	if !ok {
		return
	}
	cert, err := c.signer.SignBlock(blk.Header.Hash)
	if err != nil {
		log.Errorf("sign produced block %s: %v", blk.Header.Hash, err)
		return
	}
	c.emit(events.Event{Type: events.EventBlockProduced, BlockHash: blk.Header.Hash, BlockHeight: blk.Header.Height})
	resp, err := c.bcast.StartBroadcast(blk, cert)
	if err != nil {
		log.Errorf("start broadcast for %s: %v", blk.Header.Hash, err)
		return
	}
	c.dispatch(ctx, blk.Header.Hash, resp)
}

func (c *Coordinator) onSubmit(ctx context.Context, msg block.Message) error {
	ok, err := c.app.CheckTx(msg)
	if err != nil {
		return fmt.Errorf("check_tx: %w", err)
	}
	if !ok {
		return fmt.Errorf("check_tx rejected message %s", msg.ID)
	}
	if err := c.chain.AdmitMessage(msg); err != nil {
		return err
	}
	c.emit(events.Event{Type: events.EventMessageAdmitted, MessageID: msg.ID})
	if err := c.transport.GossipMessage(ctx, msg); err != nil {
		log.Warnf("gossip message %s: %v", msg.ID, err)
	}
	return nil
}

func (c *Coordinator) onInboundRbMsg(ctx context.Context, rb broadcast.RbMsg, from crypto.PeerId) {
	if err := c.chain.ValidateInbound(rb.Block, from, rb.Certificate); err != nil {
		log.Tracef("dropping inbound block %s: %v", rb.Block.Header.Hash, err)
		return
	}
	resp, err := c.bcast.Handle(rb, from)
	if err != nil {
		log.Errorf("handle rbmsg %s for block %s: %v", rb.ID, rb.Block.Header.Hash, err)
		return
	}
	c.dispatch(ctx, rb.Block.Header.Hash, resp)
}

func (c *Coordinator) dispatch(ctx context.Context, hash block.Hash, resp broadcast.Response) {
	if resp.Command == broadcast.CommandBroadcast && resp.Reply != nil {
		switch resp.Reply.Phase {
		case broadcast.PhaseEcho:
			c.emit(events.Event{Type: events.EventBroadcastEcho, BlockHash: hash, Peer: c.local})
		case broadcast.PhaseVote:
			c.emit(events.Event{Type: events.EventBroadcastVote, BlockHash: hash, Peer: c.local})
		}
		c.broadcastToMembers(ctx, *resp.Reply)
	}
	if resp.Status == broadcast.StatusCommitted {
		c.onCommitted(ctx, hash)
	}
}

// broadcastToMembers implements "broadcast ECHO/VOTE(H) to all members"
// literally, including local: self-delivery happens in-process (the state
// machine's own echo/vote quorum progress depends on re-observing its own
// replies, not just on other peers': processEcho and processVote return as
// soon as they emit a reply, so the echo-quorum and deliver checks only run
// when a later message, such as this node's own reply, arrives), everyone
// else goes out over the transport.
func (c *Coordinator) broadcastToMembers(ctx context.Context, rb broadcast.RbMsg) {
	snap := c.membership.Current()
	for peer := range snap.All {
		if peer == c.local {
			c.onInboundRbMsg(ctx, rb, c.local)
			continue
		}
		if err := c.transport.SendRbMsg(ctx, peer, rb); err != nil {
			log.Warnf("send rbmsg %s to %s: %v", rb.ID, peer, err)
		}
	}
}

// onCommitted implements the commit path. Only the node that
// proposed the block runs it — a foreign committed block is served by its
// producer over HTTP and re-proposed locally by whoever needs it.
func (c *Coordinator) onCommitted(ctx context.Context, hash block.Hash) {
	blk, ok := c.chain.RecentBlock(hash)
	if !ok {
		log.Errorf("committed block %s not found in recent cache", hash)
		return
	}
	if blk.Header.Creator != c.local {
		return
	}

	result, err := c.app.CheckBlock(blk)
	if err != nil {
		log.Errorf("check_block for %s: %v", hash, err)
		return
	}
	switch result.Outcome {
	case Reject:
		c.chain.ClearLastProduced()
		return
	case RejectAndRemove:
		kind := block.RejectAll
		if result.Remove.Kind == RemoveSelected {
			kind = block.RejectSelected
		}
		c.chain.RejectProduced(blk, kind, result.Remove.Selected)
		return
	}

	certs := c.signer.CertificatesOf(hash)
	if err := c.store.StoreBlock(blk, certs); err != nil {
		log.Errorf("FATAL: storage conflict committing %s: %v", hash, err)
		return
	}
	if err := c.app.DeliverBlock(blk); err != nil {
		log.Errorf("deliver_block for %s: %v", hash, err)
	}
	if err := c.chain.Commit(hash); err != nil {
		log.Errorf("FATAL: %v", err)
		return
	}
	c.emit(events.Event{Type: events.EventBlockCommitted, BlockHash: hash, BlockHeight: blk.Header.Height})
	c.publisher.PublishBlock(blk)
}

func (c *Coordinator) onQuery(req queryRequest) queryResult {
	switch req.kind {
	case queryByHash:
		blk, err := c.store.GetBlockByHash(req.hash)
		return queryResult{blk: blk, err: err}
	case queryByHeight:
		blk, err := c.store.GetBlockByHeight(req.height)
		return queryResult{blk: blk, err: err}
	case queryLast:
		blk, err := c.store.GetLastBlock()
		return queryResult{blk: blk, err: err}
	case queryCertificates:
		certs, err := c.store.GetBlockCertificates(req.hash)
		return queryResult{certs: certs, err: err}
	default:
		return queryResult{err: fmt.Errorf("unknown query kind %d", req.kind)}
	}
}
