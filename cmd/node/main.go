// Command node starts an Ephemera node.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/broadcast"
	"github.com/tolelom/rbchain/config"
	"github.com/tolelom/rbchain/crypto"
	"github.com/tolelom/rbchain/crypto/certgen"
	"github.com/tolelom/rbchain/events"
	"github.com/tolelom/rbchain/exampleapp"
	"github.com/tolelom/rbchain/httpapi"
	"github.com/tolelom/rbchain/node"
	"github.com/tolelom/rbchain/storage"
	"github.com/tolelom/rbchain/transport"
	"github.com/tolelom/rbchain/wallet"
)

var log = logger.WithFields(logger.Fields{"process": "cmd"})

func main() {
	app := &cli.App{
		Name:  "ephemera-node",
		Usage: "run an Ephemera reliable-broadcast node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "config.json", Usage: "path to config file"},
		},
		Action: runStart,
		Commands: []*cli.Command{
			{
				Name:  "keygen",
				Usage: "generate a new validator key",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "keystore", Usage: "if set, also write an encrypted keystore file here"},
				},
				Action: runKeygen,
			},
			{
				Name:  "gencerts",
				Usage: "generate a CA + node TLS certificate pair for mTLS",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Value: "config.json", Usage: "path to config file"},
					&cli.StringFlag{Name: "out", Value: "./certs", Usage: "output directory"},
				},
				Action: runGenCerts,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runKeygen(c *cli.Context) error {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	fmt.Printf("node.private_key: %s\n", config.EncodePrivateKey(priv))
	fmt.Printf("peer id: %s\n", priv.Public().PeerId())

	if path := c.String("keystore"); path != "" {
		password := os.Getenv("EPHEMERA_PASSWORD")
		if password == "" {
			log.Warn("EPHEMERA_PASSWORD not set, keystore will use an empty password")
		}
		if err := wallet.SaveKey(path, password, priv); err != nil {
			return err
		}
		fmt.Printf("encrypted keystore written to %s\n", path)
	}
	return nil
}

func runGenCerts(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	priv, err := cfg.PrivateKey()
	if err != nil {
		return fmt.Errorf("node.private_key: %w", err)
	}
	local := priv.Public().PeerId()
	outDir := c.String("out")
	if err := certgen.GenerateAll(outDir, local.String(), nil); err != nil {
		return fmt.Errorf("gencerts: %w", err)
	}
	fmt.Printf("certificates generated in %s for node %s\n", outDir, local)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("config file not found at %s, using defaults (will not start without node.private_key)", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// receiverRef breaks the construction cycle between transport.Node (which
// needs a Receiver at construction) and node.Coordinator (which needs a
// Transport at construction): transport.NewNode is given this indirection
// and coord is assigned into it once it exists.
type receiverRef struct {
	coord *node.Coordinator
}

func (r *receiverRef) DeliverRbMsg(ctx context.Context, rb broadcast.RbMsg, from crypto.PeerId) error {
	return r.coord.DeliverRbMsg(ctx, rb, from)
}

func (r *receiverRef) SubmitMessage(ctx context.Context, msg block.Message) error {
	return r.coord.SubmitMessage(ctx, msg)
}

func runStart(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	priv, err := cfg.PrivateKey()
	if err != nil {
		return fmt.Errorf("node.private_key: %w", err)
	}
	certSvc := crypto.NewCertService(priv)
	local := certSvc.PeerId()
	log.Infof("node identity: %s", local)

	// ---- storage ----
	if err := os.MkdirAll(cfg.Storage.RocksdbPath, 0755); err != nil {
		return fmt.Errorf("mkdir storage dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.Storage.RocksdbPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()
	blockStore := storage.NewLevelBlockStore(db)

	lastCommitted, err := config.SeedGenesis(blockStore, local)
	if err != nil {
		return fmt.Errorf("seed genesis: %w", err)
	}
	log.Infof("resuming from block %s height %d", lastCommitted.Header.Hash, lastCommitted.Header.Height)

	// ---- block manager ----
	mempool := block.NewMempool(0)
	chainCfg := block.Config{
		Producer:          cfg.Block.Producer,
		CreationIntervalS: int64(cfg.Block.CreationIntervalSec),
		RepeatLastBlock:   cfg.Block.RepeatLastBlock,
	}
	chain, err := block.NewChainState(chainCfg, local, mempool, lastCommitted)
	if err != nil {
		return fmt.Errorf("block manager: %w", err)
	}

	// ---- broadcast ----
	membershipKind, err := cfg.Membership()
	if err != nil {
		return fmt.Errorf("membership_kind: %w", err)
	}
	membership, err := broadcast.NewStore(membershipKind, local, cfg.Broadcast.StrictOriginAuth)
	if err != nil {
		return fmt.Errorf("membership store: %w", err)
	}
	contexts, err := broadcast.NewContextStore(0)
	if err != nil {
		return fmt.Errorf("context store: %w", err)
	}
	signer, err := broadcast.NewBlockSigner(certSvc, 0)
	if err != nil {
		return fmt.Errorf("block signer: %w", err)
	}
	machine := broadcast.NewMachine(contexts, membership, signer, local)

	// ---- events ----
	emitter := events.NewEmitter()

	// ---- application ----
	application := exampleapp.NewApp(emitter)

	// ---- DHT ----
	dht := transport.NewMemDHT()

	// ---- TLS ----
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if tlsCfg != nil {
		log.Info("mTLS enabled for P2P")
	}

	// ---- websocket fan-out ----
	broadcaster := httpapi.NewBroadcaster()

	// ---- transport + coordinator (construction cycle via receiverRef) ----
	ref := &receiverRef{}
	p2pAddr := cfg.Libp2p.Listen
	tnode := transport.NewNode(local, p2pAddr, tlsCfg, ref)

	coordCfg := node.Config{CreationInterval: time.Duration(cfg.Block.CreationIntervalSec) * time.Second}
	coord := node.NewCoordinator(coordCfg, local, chain, machine, membership, signer, blockStore, application, tnode, broadcaster, emitter)
	ref.coord = coord

	if err := tnode.Start(); err != nil {
		return fmt.Errorf("p2p start: %w", err)
	}
	defer tnode.Stop()
	log.Infof("P2P listening on %s", p2pAddr)

	seeds := make(map[crypto.PeerId]broadcast.PeerInfo, len(cfg.SeedPeers))
	for _, sp := range cfg.SeedPeers {
		id, err := crypto.PeerIdFromHex(sp.ID)
		if err != nil {
			log.Warnf("seed peer %q: invalid peer id: %v", sp.ID, err)
			continue
		}
		seeds[id] = broadcast.PeerInfo{Address: sp.Addr}
		if _, err := tnode.Connect(sp.Addr); err != nil {
			log.Warnf("connect to seed peer %s (%s): %v", sp.ID, sp.Addr, err)
			continue
		}
		log.Infof("connected to seed peer %s (%s)", sp.ID, sp.Addr)
	}
	discovery := transport.NewStaticPeerDiscovery(seeds)

	// ---- HTTP + WebSocket ----
	httpAddr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	wsAddr := fmt.Sprintf(":%d", cfg.HTTP.WebsocketPort)
	restServer := httpapi.NewServer(httpAddr, coord, dht, cfg.Redacted())
	if err := restServer.Start(); err != nil {
		return fmt.Errorf("http start: %w", err)
	}
	defer restServer.Stop()
	log.Infof("REST API listening on %s", httpAddr)

	wsServer := httpapi.NewWsServer(wsAddr, broadcaster)
	if err := wsServer.Start(); err != nil {
		return fmt.Errorf("websocket start: %w", err)
	}
	defer wsServer.Stop()
	log.Infof("WebSocket commit feed listening on %s", wsAddr)

	// ---- coordinator + discovery loop ----
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		coord.Run(ctx)
	}()

	go transport.RunDiscoveryLoop(ctx, discovery, membership, tnode.ConnectedPeers, 10*time.Second, func(snap *broadcast.Snapshot) {
		emitter.Emit(events.Event{Type: events.EventMembershipPromoted, Data: map[string]any{"epoch": snap.Epoch, "size": snap.Size()}})
		log.Infof("membership promoted to epoch %d, %d members", snap.Epoch, snap.Size())
	})

	log.Infof("coordinator running (producer: %v)", cfg.Block.Producer)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")

	cancel()
	<-done
	log.Info("shutdown complete")
	return nil
}
