// Package transport is the request-response + gossip network layer the
// commit coordinator (node.Transport) sends through and receives from.
// Framing is length-prefixed JSON over TCP, varint-prefixed rather than a
// fixed-width length.
package transport

import (
	"bufio"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// MaxFrameSize is the protocol's payload ceiling, 1 MiB.
const MaxFrameSize = 1 << 20

// ProtocolID identifies the request-response protocol over which RbMsg
// frames travel.
const ProtocolID = "/ephemera/rb/1"

// FrameType tags the envelope carried over a connection.
type FrameType string

const (
	FrameHello      FrameType = "hello"
	FrameGossipMsg  FrameType = "gossip_message"
	FrameRbMsg      FrameType = "rb_msg"
	FrameRbMsgAck   FrameType = "rb_msg_ack"
	FrameDhtStore   FrameType = "dht_store"
	FrameDhtQuery   FrameType = "dht_query"
	FrameDhtResult  FrameType = "dht_result"
)

// Frame is the envelope for every message exchanged between peers.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Peer wraps an established TCP connection and frames messages with a
// varint length prefix.
type Peer struct {
	ID   string
	Addr string

	conn   net.Conn
	r      *bufio.Reader
	mu     sync.Mutex
	closed bool
}

// NewPeer wraps an established connection as a Peer.
func NewPeer(id, addr string, conn net.Conn) *Peer {
	return &Peer{ID: id, Addr: addr, conn: conn, r: bufio.NewReader(conn)}
}

// Dial connects to addr (optionally over TLS) and wraps the connection.
func Dial(id, addr string, tlsCfg *tls.Config) (*Peer, error) {
	var conn net.Conn
	var err error
	if tlsCfg != nil {
		conn, err = tls.Dial("tcp", addr, tlsCfg)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewPeer(id, addr, conn), nil
}

// Send writes a varint-length-prefixed frame to the peer.
func (p *Peer) Send(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(data))
	}
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(data)))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("peer %s closed", p.ID)
	}
	if _, err := p.conn.Write(lenBuf[:n]); err != nil {
		return err
	}
	_, err = p.conn.Write(data)
	return err
}

// Receive reads the next varint-length-prefixed frame. A read deadline
// prevents a stalled peer from blocking the reader loop indefinitely.
func (p *Peer) Receive() (Frame, error) {
	_ = p.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	length, err := binary.ReadUvarint(p.r)
	if err != nil {
		return Frame{}, err
	}
	if length > MaxFrameSize {
		return Frame{}, fmt.Errorf("frame too large: %d bytes", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(buf, &f); err != nil {
		return Frame{}, fmt.Errorf("unmarshal frame: %w", err)
	}
	return f, nil
}

// Close terminates the underlying connection, idempotently.
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.conn.Close()
	}
}
