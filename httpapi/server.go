// Package httpapi exposes the node's REST/JSON surface over the
// coordinator's query/submit channels and the DHT capability set.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/crypto"
	"github.com/tolelom/rbchain/transport"
)

var log = logger.WithFields(logger.Fields{"process": "httpapi"})

// Coordinator is the subset of node.Coordinator the HTTP surface depends
// on — a capability set, not a concrete type, so this package never
// imports node.
type Coordinator interface {
	GetBlockByHash(ctx context.Context, hash block.Hash) (block.Block, error)
	GetBlockByHeight(ctx context.Context, height uint64) (block.Block, error)
	GetLastBlock(ctx context.Context) (block.Block, error)
	GetBlockCertificates(ctx context.Context, hash block.Hash) ([]crypto.Certificate, error)
	SubmitMessage(ctx context.Context, msg block.Message) error
}

// Server is the node's REST/JSON HTTP surface.
type Server struct {
	coord  Coordinator
	dht    transport.DHT
	config any // echoed by GET /ephemera/node/config; caller must pre-redact secrets
	addr   string
	srv    *http.Server
	ln     net.Listener
}

// WsServer is the WebSocket commit-fan-out endpoint, bound to its own
// port, separate from the REST surface's port.
type WsServer struct {
	bcast *Broadcaster
	addr  string
	srv   *http.Server
	ln    net.Listener
}

func NewWsServer(addr string, bcast *Broadcaster) *WsServer {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ephemera/ws/blocks", bcast.Handler)
	return &WsServer{
		bcast: bcast,
		addr:  addr,
		srv:   &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second},
	}
}

func (s *WsServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("websocket server error: %v", err)
		}
	}()
	return nil
}

func (s *WsServer) Addr() net.Addr {
	if s.ln != nil {
		return s.ln.Addr()
	}
	return nil
}

func (s *WsServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// NewServer builds a Server bound to addr, routing the node's REST/JSON
// path table.
func NewServer(addr string, coord Coordinator, dht transport.DHT, config any) *Server {
	s := &Server{coord: coord, dht: dht, config: config, addr: addr}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ephemera/node/health", s.handleHealth)
	mux.HandleFunc("GET /ephemera/node/config", s.handleConfig)
	mux.HandleFunc("GET /ephemera/broadcast/block/height/{h}", s.handleBlockByHeight)
	mux.HandleFunc("GET /ephemera/broadcast/block/certificates/{hash}", s.handleBlockCertificates)
	mux.HandleFunc("GET /ephemera/broadcast/block/{hash}", s.handleBlockByHash)
	mux.HandleFunc("GET /ephemera/broadcast/blocks/last", s.handleLastBlock)
	mux.HandleFunc("POST /ephemera/broadcast/submit_message", s.handleSubmitMessage)
	mux.HandleFunc("POST /ephemera/dht/store", s.handleDhtStore)
	mux.HandleFunc("GET /ephemera/dht/query", s.handleDhtQuery)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start binds the port synchronously so callers learn immediately of a
// bind failure, then serves in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listener's bound address, useful when started on ":0".
func (s *Server) Addr() net.Addr {
	if s.ln != nil {
		return s.ln.Addr()
	}
	return nil
}

// Stop gracefully shuts down the server, waiting up to 5 seconds for
// in-flight requests.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
