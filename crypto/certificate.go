package crypto

import "fmt"

// Certificate asserts that the holder of PublicKey endorses some byte
// sequence. The signer peer is derived from PublicKey, never carried
// separately.
type Certificate struct {
	Signature string `json:"signature"`
	PublicKey string `json:"public_key"`
}

// Signer returns the PeerId of the certificate's public key.
func (c Certificate) Signer() (PeerId, error) {
	pub, err := PubKeyFromHex(c.PublicKey)
	if err != nil {
		return PeerId{}, err
	}
	return pub.PeerId(), nil
}

// CertService signs and verifies byte payloads with a fixed node keypair.
// It holds no mutable state and takes no locks; sign/verify are pure
// functions of the keypair and the input.
type CertService struct {
	priv PrivateKey
	pub  PublicKey
}

// NewCertService builds a CertService around a node's keypair.
func NewCertService(priv PrivateKey) *CertService {
	return &CertService{priv: priv, pub: priv.Public()}
}

// PublicKey returns the service's public key.
func (s *CertService) PublicKey() PublicKey { return s.pub }

// PeerId returns the PeerId derived from the service's public key.
func (s *CertService) PeerId() PeerId { return s.pub.PeerId() }

// Sign certifies data, returning a Certificate carrying the service's
// public key. Sign only fails on an internal key error, which is fatal.
func (s *CertService) Sign(data []byte) (Certificate, error) {
	if len(s.priv) == 0 {
		return Certificate{}, fmt.Errorf("cert service: no private key loaded")
	}
	return Certificate{
		Signature: Sign(s.priv, data),
		PublicKey: s.pub.Hex(),
	}, nil
}

// VerifyCertificate reports whether cert is a valid endorsement of data.
// It never returns an error for a bad signature — only false.
func VerifyCertificate(data []byte, cert Certificate) bool {
	pub, err := PubKeyFromHex(cert.PublicKey)
	if err != nil {
		return false
	}
	return Verify(pub, data, cert.Signature) == nil
}
