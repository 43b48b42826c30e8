package broadcast

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/crypto"
)

// DefaultSignerCapacity bounds the block-signer certificate cache.
const DefaultSignerCapacity = 1000

// BlockSigner is C2: a bounded LRU accumulator of verified per-block
// certificates, plus the means to produce this node's own certificate over
// a block hash.
type BlockSigner struct {
	mu      sync.Mutex
	certs   *lru.Cache // block.Hash -> map[string]crypto.Certificate, keyed by signer pubkey hex
	certSvc *crypto.CertService
}

// NewBlockSigner builds a signer around svc, bounded at capacity (0 means
// DefaultSignerCapacity).
func NewBlockSigner(svc *crypto.CertService, capacity int) (*BlockSigner, error) {
	if capacity <= 0 {
		capacity = DefaultSignerCapacity
	}
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	return &BlockSigner{certs: cache, certSvc: svc}, nil
}

// SignBlock signs h with this node's key and records the resulting
// certificate in the accumulator.
func (s *BlockSigner) SignBlock(h block.Hash) (crypto.Certificate, error) {
	cert, err := s.certSvc.Sign(h[:])
	if err != nil {
		return crypto.Certificate{}, fmt.Errorf("sign block %s: %w", h, err)
	}
	s.record(h, cert)
	return cert, nil
}

// VerifyBlock verifies cert against h. Idempotent: if this (hash, signer)
// pair was already accepted, it returns nil without re-verifying;
// otherwise it verifies against h's bytes and records cert on success.
func (s *BlockSigner) VerifyBlock(h block.Hash, cert crypto.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.setLocked(h)
	if _, already := set[cert.PublicKey]; already {
		return nil
	}
	if !crypto.VerifyCertificate(h[:], cert) {
		return fmt.Errorf("certificate from %s does not verify against block %s", cert.PublicKey, h)
	}
	set[cert.PublicKey] = cert
	s.certs.Add(h, set)
	return nil
}

// CertificatesOf returns the accumulated certificates for h.
func (s *BlockSigner) CertificatesOf(h block.Hash) []crypto.Certificate {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.certs.Peek(h)
	if !ok {
		return nil
	}
	set := v.(map[string]crypto.Certificate)
	out := make([]crypto.Certificate, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

func (s *BlockSigner) record(h block.Hash, cert crypto.Certificate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.setLocked(h)
	set[cert.PublicKey] = cert
	s.certs.Add(h, set)
}

func (s *BlockSigner) setLocked(h block.Hash) map[string]crypto.Certificate {
	if v, ok := s.certs.Get(h); ok {
		return v.(map[string]crypto.Certificate)
	}
	set := make(map[string]crypto.Certificate)
	s.certs.Add(h, set)
	return set
}
