// Package config loads and validates node configuration from a JSON file.
package config

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"

	"github.com/decred/base58"

	"github.com/tolelom/rbchain/broadcast"
	"github.com/tolelom/rbchain/crypto"
)

// SeedPeer identifies a remote node to connect to on startup.
type SeedPeer struct {
	ID   string `json:"id"`   // hex-encoded PeerId
	Addr string `json:"addr"` // host:port
}

// TLSConfig holds paths to the PEM files needed for mTLS.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`   // CA certificate PEM path
	NodeCert string `json:"node_cert"` // node certificate PEM path
	NodeKey  string `json:"node_key"`  // node private key PEM path
}

// NodeConfig holds `node.*` keys.
type NodeConfig struct {
	PrivateKey string `json:"private_key"` // base58 Ed25519 seed; derives PeerId
}

// BlockConfig holds `block.*` keys.
type BlockConfig struct {
	Producer            bool   `json:"producer"`
	CreationIntervalSec  uint64 `json:"creation_interval_sec"`
	RepeatLastBlock      bool   `json:"repeat_last_block"`
}

// BroadcastConfig holds `broadcast.*` keys.
type BroadcastConfig struct {
	ClusterSize      int  `json:"cluster_size"` // informational; actual n taken from membership
	StrictOriginAuth bool `json:"strict_origin_auth"`
}

// StorageConfig holds `storage.*` keys.
type StorageConfig struct {
	RocksdbPath       string `json:"rocksdb_path"`
	CreateIfNotExists bool   `json:"create_if_not_exists"`
}

// HTTPConfig holds `http.port` and `http.websocket_port`.
type HTTPConfig struct {
	Port          int `json:"port"`
	WebsocketPort int `json:"websocket_port"`
}

// Libp2pConfig holds `libp2p.listen`.
type Libp2pConfig struct {
	Listen string `json:"listen"`
}

// Config holds all node configuration.
type Config struct {
	Node          NodeConfig       `json:"node"`
	Block         BlockConfig      `json:"block"`
	Broadcast     BroadcastConfig  `json:"broadcast"`
	MembershipKind string          `json:"membership_kind"` // "threshold:<r>" | "any_online" | "all_online"
	Storage       StorageConfig    `json:"storage"`
	HTTP          HTTPConfig       `json:"http"`
	Libp2p        Libp2pConfig     `json:"libp2p"`
	SeedPeers     []SeedPeer       `json:"seed_peers,omitempty"`
	TLS           *TLSConfig       `json:"tls,omitempty"` // nil → plain TCP
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		Block: BlockConfig{
			Producer:            true,
			CreationIntervalSec: 5,
			RepeatLastBlock:     false,
		},
		Broadcast:      BroadcastConfig{ClusterSize: 1},
		MembershipKind: "any_online",
		Storage: StorageConfig{
			RocksdbPath:       "./data",
			CreateIfNotExists: true,
		},
		HTTP: HTTPConfig{Port: 8080, WebsocketPort: 8081},
		Libp2p: Libp2pConfig{Listen: "0.0.0.0:30300"},
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.Node.PrivateKey == "" {
		return fmt.Errorf("node.private_key must not be empty")
	}
	if _, err := c.PrivateKey(); err != nil {
		return fmt.Errorf("node.private_key: %w", err)
	}
	if c.Storage.RocksdbPath == "" {
		return fmt.Errorf("storage.rocksdb_path must not be empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be 1-65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.WebsocketPort <= 0 || c.HTTP.WebsocketPort > 65535 {
		return fmt.Errorf("http.websocket_port must be 1-65535, got %d", c.HTTP.WebsocketPort)
	}
	if c.HTTP.Port == c.HTTP.WebsocketPort {
		return fmt.Errorf("http.port and http.websocket_port must not be the same (%d)", c.HTTP.Port)
	}
	if _, err := c.Membership(); err != nil {
		return fmt.Errorf("membership_kind: %w", err)
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// PrivateKey decodes `node.private_key` from base58. Both a 32-byte
// Ed25519 seed and the 64-byte private key that EncodePrivateKey writes
// are accepted.
func (c *Config) PrivateKey() (crypto.PrivateKey, error) {
	raw := base58.Decode(c.Node.PrivateKey)
	if len(raw) == ed25519.SeedSize {
		return crypto.PrivateKey(ed25519.NewKeyFromSeed(raw)), nil
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("base58 private key must decode to %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
	return crypto.PrivateKey(raw), nil
}

// EncodePrivateKey base58-encodes priv for writing into `node.private_key`.
func EncodePrivateKey(priv crypto.PrivateKey) string {
	return base58.Encode(priv)
}

// Redacted returns a copy of c with node.private_key masked, safe to
// expose over GET /ephemera/node/config.
func (c *Config) Redacted() *Config {
	clone := *c
	if clone.Node.PrivateKey != "" {
		clone.Node.PrivateKey = "REDACTED"
	}
	return &clone
}

// Membership parses `membership_kind` into a broadcast.MembershipKind.
func (c *Config) Membership() (broadcast.MembershipKind, error) {
	switch {
	case c.MembershipKind == "any_online":
		return broadcast.MembershipAnyOnline(), nil
	case c.MembershipKind == "all_online":
		return broadcast.MembershipAllOnline(), nil
	default:
		var r float64
		if _, err := fmt.Sscanf(c.MembershipKind, "threshold:%f", &r); err != nil {
			return broadcast.MembershipKind{}, fmt.Errorf("unrecognized membership_kind %q", c.MembershipKind)
		}
		return broadcast.MembershipThreshold(r), nil
	}
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
