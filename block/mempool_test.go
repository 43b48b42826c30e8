package block

import (
	"errors"
	"testing"

	"github.com/tolelom/rbchain/crypto"
)

func TestMempoolDedupIdempotence(t *testing.T) {
	priv, _, _ := crypto.GenerateKeyPair()
	svc := crypto.NewCertService(priv)
	msg := newSignedMessage(t, svc, "a", []byte("payload"))

	mp := NewMempool(0)
	if err := mp.Admit(msg); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	if err := mp.Admit(msg); !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("expected ErrDuplicateMessage, got %v", err)
	}
	if mp.Size() != 1 {
		t.Fatalf("expected size 1, got %d", mp.Size())
	}
}

func TestMempoolLabelTimestampIgnoredForIdentity(t *testing.T) {
	priv, _, _ := crypto.GenerateKeyPair()
	svc := crypto.NewCertService(priv)
	id, err := NewMessageID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	raw := rawMessage{ID: id, Data: []byte("same-data")}
	rawBytes, err := encodeCanonical(raw)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cert, err := svc.Sign(rawBytes)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	m1 := Message{ID: id, TimestampS: 1, Label: "x", Data: []byte("same-data"), Certificate: cert}
	m2 := Message{ID: id, TimestampS: 999, Label: "y", Data: []byte("same-data"), Certificate: cert}

	mp := NewMempool(0)
	if err := mp.Admit(m1); err != nil {
		t.Fatalf("admit m1: %v", err)
	}
	if err := mp.Admit(m2); !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("expected duplicate despite differing label/timestamp, got %v", err)
	}
}

func TestMempoolRemoveAllAndSnapshot(t *testing.T) {
	priv, _, _ := crypto.GenerateKeyPair()
	svc := crypto.NewCertService(priv)
	a := newSignedMessage(t, svc, "a", []byte("A"))
	b := newSignedMessage(t, svc, "b", []byte("B"))

	mp := NewMempool(0)
	if err := mp.Admit(a); err != nil {
		t.Fatalf("admit a: %v", err)
	}
	if err := mp.Admit(b); err != nil {
		t.Fatalf("admit b: %v", err)
	}
	mp.RemoveAll([]Message{a})
	snap := mp.Snapshot()
	if len(snap) != 1 || snap[0].ID != b.ID {
		t.Fatalf("expected only b to remain, got %+v", snap)
	}
}

func TestMempoolCapacity(t *testing.T) {
	priv, _, _ := crypto.GenerateKeyPair()
	svc := crypto.NewCertService(priv)
	mp := NewMempool(1)
	a := newSignedMessage(t, svc, "a", []byte("A"))
	b := newSignedMessage(t, svc, "b", []byte("B"))
	if err := mp.Admit(a); err != nil {
		t.Fatalf("admit a: %v", err)
	}
	if err := mp.Admit(b); !errors.Is(err, ErrMempoolFull) {
		t.Fatalf("expected ErrMempoolFull, got %v", err)
	}
}
