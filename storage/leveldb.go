package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/crypto"
)

// LevelDB implements DB using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB database at path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	val, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return val, err
}

func (l *LevelDB) Set(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) NewIterator(prefix []byte) Iterator {
	return l.db.NewIterator(util.BytesPrefix(prefix), nil)
}

func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{batch: new(leveldb.Batch), db: l.db}
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelBatch struct {
	batch *leveldb.Batch
	db    *leveldb.DB
}

func (b *levelBatch) Set(key, value []byte) { b.batch.Put(key, value) }
func (b *levelBatch) Delete(key []byte)      { b.batch.Delete(key) }
func (b *levelBatch) Reset()                 { b.batch.Reset() }
func (b *levelBatch) Write() error           { return b.db.Write(b.batch, nil) }

// ---- BlockStore implementation ----

// Key layout:
//
//	block_hash:<hex>         -> Block
//	block_height:<u64>       -> Hash
//	last_block               -> Hash
//	block_certificates:<hex> -> []Certificate
const (
	keyPrefixBlockHash  = "block_hash:"
	keyPrefixHeight     = "block_height:"
	keyPrefixCerts      = "block_certificates:"
	keyLastBlock        = "last_block"
)

func blockHashKey(h block.Hash) []byte  { return []byte(keyPrefixBlockHash + h.String()) }
func blockCertsKey(h block.Hash) []byte { return []byte(keyPrefixCerts + h.String()) }

func heightKey(height uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return append([]byte(keyPrefixHeight), buf[:]...)
}

// LevelBlockStore implements BlockStore on top of LevelDB.
type LevelBlockStore struct {
	db *LevelDB
}

// NewLevelBlockStore wraps a LevelDB instance as a BlockStore.
func NewLevelBlockStore(db *LevelDB) *LevelBlockStore {
	return &LevelBlockStore{db: db}
}

func (s *LevelBlockStore) StoreBlock(blk block.Block, certs []crypto.Certificate) error {
	if _, err := s.db.Get(blockHashKey(blk.Header.Hash)); err == nil {
		return ErrBlockExists
	} else if err != ErrNotFound {
		return fmt.Errorf("check existing block %s: %w", blk.Header.Hash, err)
	}

	blockData, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("marshal block %s: %w", blk.Header.Hash, err)
	}
	certsData, err := json.Marshal(certs)
	if err != nil {
		return fmt.Errorf("marshal certificates for %s: %w", blk.Header.Hash, err)
	}

	b := s.db.NewBatch()
	b.Set(blockHashKey(blk.Header.Hash), blockData)
	b.Set(heightKey(blk.Header.Height), blk.Header.Hash[:])
	b.Set(blockCertsKey(blk.Header.Hash), certsData)
	b.Set([]byte(keyLastBlock), blk.Header.Hash[:])
	return b.Write()
}

func (s *LevelBlockStore) GetBlockByHash(hash block.Hash) (block.Block, error) {
	data, err := s.db.Get(blockHashKey(hash))
	if err != nil {
		return block.Block{}, err
	}
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return block.Block{}, fmt.Errorf("unmarshal block %s: %w", hash, err)
	}
	return blk, nil
}

func (s *LevelBlockStore) GetBlockByHeight(height uint64) (block.Block, error) {
	raw, err := s.db.Get(heightKey(height))
	if err != nil {
		return block.Block{}, err
	}
	hash, err := block.HashFromBytes(raw)
	if err != nil {
		return block.Block{}, fmt.Errorf("decode hash at height %d: %w", height, err)
	}
	return s.GetBlockByHash(hash)
}

func (s *LevelBlockStore) GetLastBlock() (block.Block, error) {
	raw, err := s.db.Get([]byte(keyLastBlock))
	if err != nil {
		return block.Block{}, err
	}
	hash, err := block.HashFromBytes(raw)
	if err != nil {
		return block.Block{}, fmt.Errorf("decode last_block hash: %w", err)
	}
	return s.GetBlockByHash(hash)
}

func (s *LevelBlockStore) GetBlockCertificates(hash block.Hash) ([]crypto.Certificate, error) {
	data, err := s.db.Get(blockCertsKey(hash))
	if err != nil {
		return nil, err
	}
	var certs []crypto.Certificate
	if err := json.Unmarshal(data, &certs); err != nil {
		return nil, fmt.Errorf("unmarshal certificates for %s: %w", hash, err)
	}
	return certs, nil
}
