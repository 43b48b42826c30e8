package storage

import (
	"bytes"
	"testing"

	"github.com/tolelom/rbchain/block"
)

func TestHeightKeyOrderingMatchesNumericOrder(t *testing.T) {
	k1 := heightKey(1)
	k2 := heightKey(2)
	k300 := heightKey(300)
	if !bytes.Contains(k1, []byte(keyPrefixHeight)) {
		t.Fatalf("heightKey missing prefix: %q", k1)
	}
	if bytes.Compare(k1, k2) >= 0 {
		t.Fatalf("expected key(1) < key(2), got %q >= %q", k1, k2)
	}
	if bytes.Compare(k2, k300) >= 0 {
		t.Fatalf("big-endian height encoding must keep byte order == numeric order: key(2) >= key(300)")
	}
}

func TestBlockHashKeyAndCertsKeyAreDistinctPerHash(t *testing.T) {
	h1 := block.HashOf([]byte("a"))
	h2 := block.HashOf([]byte("b"))
	if bytes.Equal(blockHashKey(h1), blockHashKey(h2)) {
		t.Fatalf("distinct hashes must produce distinct block_hash keys")
	}
	if bytes.Equal(blockCertsKey(h1), blockHashKey(h1)) {
		t.Fatalf("block_certificates and block_hash keys must not collide for the same hash")
	}
}
