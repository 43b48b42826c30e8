package wallet

import (
	"time"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/crypto"
)

// Wallet holds a key pair and provides message-signing helpers.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
	svc  *crypto.CertService
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public(), svc: crypto.NewCertService(priv)}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key.
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// PeerId returns the PeerId derived from the wallet's public key — the
// identity a node submitting through this wallet is known by.
func (w *Wallet) PeerId() crypto.PeerId {
	return w.pub.PeerId()
}

// Address returns the short human-readable address (first 20 bytes of
// SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// SignMessage certifies data as a new Message, stamped with the current
// time, ready for submission to a node's /ephemera/broadcast/submit_message
// endpoint.
func (w *Wallet) SignMessage(label string, data []byte) (block.Message, error) {
	return block.Sign(w.svc, label, data, time.Now().Unix())
}
