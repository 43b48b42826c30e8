package storage_test

import (
	"testing"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/crypto"
	"github.com/tolelom/rbchain/internal/testutil"
	"github.com/tolelom/rbchain/storage"
)

func signedGenesisChild(t *testing.T) (block.Block, crypto.Certificate) {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	svc := crypto.NewCertService(priv)
	msg, err := block.Sign(svc, "m", []byte("A"), 1)
	if err != nil {
		t.Fatalf("sign message: %v", err)
	}
	blk, err := block.Build(1, pub.PeerId(), []block.Message{msg})
	if err != nil {
		t.Fatalf("build block: %v", err)
	}
	cert, err := svc.Sign(blk.Header.Hash[:])
	if err != nil {
		t.Fatalf("sign block hash: %v", err)
	}
	return blk, cert
}

// TestBlockStoreContract exercises the BlockStore capability set (spec
// §4.9) against the in-memory stub. The LevelDB-backed implementation
// satisfies the same contract against real disk storage.
func TestBlockStoreContract(t *testing.T) {
	store := testutil.NewMemBlockStore()
	blk, cert := signedGenesisChild(t)
	certs := []crypto.Certificate{cert}

	if _, err := store.GetLastBlock(); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	if err := store.StoreBlock(blk, certs); err != nil {
		t.Fatalf("store block: %v", err)
	}

	if err := store.StoreBlock(blk, certs); err != storage.ErrBlockExists {
		t.Fatalf("expected ErrBlockExists on duplicate store, got %v", err)
	}

	byHash, err := store.GetBlockByHash(blk.Header.Hash)
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if byHash.Header.Hash != blk.Header.Hash {
		t.Fatalf("hash mismatch on retrieval")
	}

	byHeight, err := store.GetBlockByHeight(blk.Header.Height)
	if err != nil {
		t.Fatalf("get by height: %v", err)
	}
	if byHeight.Header.Hash != blk.Header.Hash {
		t.Fatalf("height lookup returned wrong block")
	}

	last, err := store.GetLastBlock()
	if err != nil {
		t.Fatalf("get last block: %v", err)
	}
	if last.Header.Hash != blk.Header.Hash {
		t.Fatalf("last_block pointer did not advance to the stored block")
	}

	gotCerts, err := store.GetBlockCertificates(blk.Header.Hash)
	if err != nil {
		t.Fatalf("get certificates: %v", err)
	}
	if len(gotCerts) != 1 || gotCerts[0].PublicKey != cert.PublicKey {
		t.Fatalf("certificates mismatch: got %+v", gotCerts)
	}
}

func TestBlockStoreNotFoundForUnknownHash(t *testing.T) {
	store := testutil.NewMemBlockStore()
	unknown := block.HashOf([]byte("nope"))
	if _, err := store.GetBlockByHash(unknown); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetBlockCertificates(unknown); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound for certificates, got %v", err)
	}
}
