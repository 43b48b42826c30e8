package crypto

import "testing"

func TestCertServiceSignVerifyRoundTrip(t *testing.T) {
	priv, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	svc := NewCertService(priv)
	data := []byte("block-hash-bytes")

	cert, err := svc.Sign(data)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !VerifyCertificate(data, cert) {
		t.Fatal("expected certificate to verify")
	}

	signer, err := cert.Signer()
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	if signer != svc.PeerId() {
		t.Fatalf("signer mismatch: got %s want %s", signer, svc.PeerId())
	}
}

func TestCertificateBitFlipFails(t *testing.T) {
	priv, _, _ := GenerateKeyPair()
	svc := NewCertService(priv)
	data := []byte("payload")
	cert, err := svc.Sign(data)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	flipped := append([]byte(nil), data...)
	flipped[0] ^= 0xFF
	if VerifyCertificate(flipped, cert) {
		t.Fatal("expected verification to fail on mutated payload")
	}
}

func TestPeerIdFromHexRoundTrip(t *testing.T) {
	_, pub, _ := GenerateKeyPair()
	id := pub.PeerId()
	parsed, err := PeerIdFromHex(id.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != id {
		t.Fatalf("peer id round trip mismatch: got %s want %s", parsed, id)
	}
}
