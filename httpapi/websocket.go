package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tolelom/rbchain/block"
)

// Broadcaster is node.BlockPublisher fanned out to every connected
// WebSocket client. No pack source wires gorilla/websocket (it only shows
// up in manifest-only repos), so this stays a plain reader/writer pump
// rather than anything grounded in a specific teacher file.
type Broadcaster struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan block.Block
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan block.Block),
	}
}

// Handler upgrades the connection and pumps committed blocks to it until
// the client disconnects.
func (b *Broadcaster) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade: %v", err)
		return
	}

	feed := make(chan block.Block, 32)
	b.mu.Lock()
	b.clients[conn] = feed
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		b.mu.Unlock()
		conn.Close()
	}()

	go b.drainPings(conn)

	for blk := range feed {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(blk); err != nil {
			return
		}
	}
}

// drainPings discards anything the client sends; the protocol is
// server-push-only. It returns on the first read error and does not close
// conn; the Handler loop ends when a later WriteJSON fails, and its deferred
// cleanup then closes conn.
func (b *Broadcaster) drainPings(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// PublishBlock implements node.BlockPublisher: fan out blk to every
// connected client, dropping it for any client whose feed is full rather
// than blocking the coordinator's single-threaded loop.
func (b *Broadcaster) PublishBlock(blk block.Block) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn, feed := range b.clients {
		select {
		case feed <- blk:
		default:
			log.Warnf("websocket client %s feed full, dropping block %s", conn.RemoteAddr(), blk.Header.Hash)
		}
	}
}
