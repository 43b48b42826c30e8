package wallet

import "testing"

func TestGenerateSignMessageVerifies(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg, err := w.SignMessage("greeting", []byte("hello"))
	if err != nil {
		t.Fatalf("sign message: %v", err)
	}
	if !msg.VerifyCertificate() {
		t.Fatalf("expected signed message to verify")
	}
	signer, err := msg.Certificate.Signer()
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	if signer != w.PeerId() {
		t.Fatalf("expected signer %s, got %s", w.PeerId(), signer)
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := t.TempDir() + "/keystore.json"
	if err := SaveKey(path, "correct horse battery staple", w.PrivKey()); err != nil {
		t.Fatalf("save key: %v", err)
	}

	loaded, err := LoadKey(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	if loaded.Hex() != w.PrivKey().Hex() {
		t.Fatalf("round-tripped private key mismatch")
	}

	if _, err := LoadKey(path, "wrong password"); err == nil {
		t.Fatalf("expected wrong password to fail")
	}
}
