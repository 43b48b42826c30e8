package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/broadcast"
	"github.com/tolelom/rbchain/crypto"
)

var log = logger.WithFields(logger.Fields{"process": "transport"})

// DefaultMaxPeers bounds simultaneous peer connections.
const DefaultMaxPeers = 50

// Receiver is the inbound side the coordinator exposes to the transport —
// a request-response handoff, not a direct dependency on node.Coordinator's
// concrete type.
type Receiver interface {
	DeliverRbMsg(ctx context.Context, rb broadcast.RbMsg, from crypto.PeerId) error
	SubmitMessage(ctx context.Context, msg block.Message) error
}

type helloPayload struct {
	PeerID crypto.PeerId `json:"peer_id"`
}

// Node listens for incoming peers and manages outgoing connections,
// implementing node.Transport (SendRbMsg, GossipMessage) for the commit
// coordinator.
type Node struct {
	local      crypto.PeerId
	listenAddr string
	tlsConfig  *tls.Config // nil -> plain TCP
	maxPeers   int
	receiver   Receiver

	mu    sync.RWMutex
	peers map[crypto.PeerId]*Peer

	listener net.Listener
	stopCh   chan struct{}
}

// NewNode creates a Node that will listen on listenAddr once Start is
// called.
func NewNode(local crypto.PeerId, listenAddr string, tlsCfg *tls.Config, receiver Receiver) *Node {
	return &Node{
		local:      local,
		listenAddr: listenAddr,
		tlsConfig:  tlsCfg,
		maxPeers:   DefaultMaxPeers,
		receiver:   receiver,
		peers:      make(map[crypto.PeerId]*Peer),
		stopCh:     make(chan struct{}),
	}
}

// Start begins accepting inbound connections.
func (n *Node) Start() error {
	var ln net.Listener
	var err error
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", n.listenAddr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", n.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

// Stop closes the listener and every connected peer.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.Close()
	}
}

// ConnectedPeers returns the set of peer ids currently connected, for
// feeding the membership store's live-connection check.
func (n *Node) ConnectedPeers() map[crypto.PeerId]struct{} {
	n.mu.RLock()
	defer n.mu.RUnlock()
	live := make(map[crypto.PeerId]struct{}, len(n.peers))
	for id := range n.peers {
		live[id] = struct{}{}
	}
	return live
}

// Connect dials addr, exchanges hello frames, and registers the remote
// peer under the id it announces.
func (n *Node) Connect(addr string) (crypto.PeerId, error) {
	peer, err := Dial("", addr, n.tlsConfig)
	if err != nil {
		return crypto.PeerId{}, err
	}
	if err := n.sendHello(peer); err != nil {
		peer.Close()
		return crypto.PeerId{}, err
	}
	frame, err := peer.Receive()
	if err != nil || frame.Type != FrameHello {
		peer.Close()
		return crypto.PeerId{}, fmt.Errorf("expected hello from %s, got %v (err=%v)", addr, frame.Type, err)
	}
	var hello helloPayload
	if err := json.Unmarshal(frame.Payload, &hello); err != nil {
		peer.Close()
		return crypto.PeerId{}, fmt.Errorf("decode hello from %s: %w", addr, err)
	}
	peer.ID = hello.PeerID.String()
	peer.Addr = addr
	n.mu.Lock()
	n.peers[hello.PeerID] = peer
	n.mu.Unlock()
	go n.readLoop(hello.PeerID, peer)
	return hello.PeerID, nil
}

func (n *Node) sendHello(peer *Peer) error {
	payload, err := json.Marshal(helloPayload{PeerID: n.local})
	if err != nil {
		return err
	}
	return peer.Send(Frame{Type: FrameHello, Payload: payload})
}

// SendRbMsg implements node.Transport: send a single RbMsg request to a
// known peer.
func (n *Node) SendRbMsg(ctx context.Context, to crypto.PeerId, rb broadcast.RbMsg) error {
	n.mu.RLock()
	peer, ok := n.peers[to]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no connection to peer %s", to)
	}
	payload, err := json.Marshal(rb)
	if err != nil {
		return fmt.Errorf("marshal rbmsg: %w", err)
	}
	return peer.Send(Frame{Type: FrameRbMsg, Payload: payload})
}

// GossipMessage implements node.Transport: fan an admitted message out to
// every connected peer.
func (n *Node) GossipMessage(ctx context.Context, msg block.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	frame := Frame{Type: FrameGossipMsg, Payload: payload}
	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()
	var firstErr error
	for _, p := range peers {
		if err := p.Send(frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				log.Warnf("accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		n.mu.RLock()
		count := len(n.peers)
		n.mu.RUnlock()
		if count >= n.maxPeers {
			log.Warnf("max peers (%d) reached, rejecting %s", n.maxPeers, conn.RemoteAddr())
			conn.Close()
			continue
		}
		go n.handleInbound(conn)
	}
}

func (n *Node) handleInbound(conn net.Conn) {
	peer := NewPeer("", conn.RemoteAddr().String(), conn)
	frame, err := peer.Receive()
	if err != nil || frame.Type != FrameHello {
		log.Warnf("inbound handshake failed from %s: %v", conn.RemoteAddr(), err)
		peer.Close()
		return
	}
	var hello helloPayload
	if err := json.Unmarshal(frame.Payload, &hello); err != nil {
		log.Warnf("inbound hello decode failed from %s: %v", conn.RemoteAddr(), err)
		peer.Close()
		return
	}
	if err := n.sendHello(peer); err != nil {
		peer.Close()
		return
	}
	peer.ID = hello.PeerID.String()
	n.mu.Lock()
	n.peers[hello.PeerID] = peer
	n.mu.Unlock()
	n.readLoop(hello.PeerID, peer)
}

func (n *Node) readLoop(remote crypto.PeerId, peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("readLoop panic from %s: %v", remote, r)
		}
		peer.Close()
		n.mu.Lock()
		delete(n.peers, remote)
		n.mu.Unlock()
	}()
	ctx := context.Background()
	for {
		frame, err := peer.Receive()
		if err != nil {
			return
		}
		n.dispatch(ctx, remote, frame)
	}
}

func (n *Node) dispatch(ctx context.Context, from crypto.PeerId, frame Frame) {
	switch frame.Type {
	case FrameRbMsg:
		var rb broadcast.RbMsg
		if err := json.Unmarshal(frame.Payload, &rb); err != nil {
			log.Warnf("decode rbmsg from %s: %v", from, err)
			return
		}
		if err := n.receiver.DeliverRbMsg(ctx, rb, from); err != nil {
			log.Warnf("deliver rbmsg from %s: %v", from, err)
		}
	case FrameGossipMsg:
		var msg block.Message
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			log.Warnf("decode gossip message from %s: %v", from, err)
			return
		}
		if err := n.receiver.SubmitMessage(ctx, msg); err != nil {
			log.Tracef("submit gossiped message from %s: %v", from, err)
		}
	default:
		log.Tracef("unhandled frame type %s from %s", frame.Type, from)
	}
}
