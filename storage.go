package main

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"memledger/core"

	bolt "go.etcd.io/bbolt"
)

// Store is the durable side of the ledger: blocks by hash, the ordered main
// chain, the head pointer and the UTXO set. Implementations must be safe for
// concurrent use and apply every write as one atomic batch.
type Store interface {
	// PutBlock writes a block with no UTXO changes and advances the head.
	PutBlock(block *core.Block) error
	// CommitBlock writes a block, head, hash list and UTXO changes atomically.
	CommitBlock(commit *BlockCommit) error
	// GetBlock returns nil, nil when the hash is unknown.
	GetBlock(hash string) (*core.Block, error)
	GetHead() (hash string, found bool, err error)
	BlockHashes() ([]string, error)
	PutUTXO(entry *core.UTXO) error
	// GetUTXO returns nil, nil when the key is unknown.
	GetUTXO(key string) (*core.UTXO, error)
	ScanUTXOs(fn func(*core.UTXO) error) error
	Close() error
}

// BlockCommit is everything one mined block changes.
type BlockCommit struct {
	Block      *core.Block
	NewOutputs []*core.UTXO
	SpentKeys  []string // outpoint keys flipped to spent
}

// Store-level commit failures. The ledger reports them as persistence errors.
var (
	ErrHeadLinkage   = errors.New("block does not link to the stored head")
	ErrBlockExists   = errors.New("block already stored")
	ErrOutputMissing = errors.New("spent output not found")
	ErrOutputSpent   = errors.New("output already spent")
	ErrOutputExists  = errors.New("output already exists")
)

func (c *BlockCommit) check() error {
	if c == nil {
		return fmt.Errorf("nil block commit")
	}
	if c.Block == nil {
		return fmt.Errorf("nil block in block commit")
	}
	if !core.IsHexDigest(c.Block.Hash) {
		return fmt.Errorf("commit block has no sealed hash")
	}
	return nil
}

// checkLinkage applies the head rules shared by both backends.
func checkLinkage(block *core.Block, headHash string, headIndex uint64, found bool) error {
	if !found {
		if block.Header.Index != 0 || block.Header.PreviousHash != core.ZeroHash {
			return fmt.Errorf("%w: cannot commit non-genesis block to empty chain: index=%d", ErrHeadLinkage, block.Header.Index)
		}
		return nil
	}
	if block.Header.Index != headIndex+1 {
		return fmt.Errorf("%w: index mismatch: current=%d new=%d", ErrHeadLinkage, headIndex, block.Header.Index)
	}
	if block.Header.PreviousHash != headHash {
		return fmt.Errorf("%w: expected prev %.16s got %.16s", ErrHeadLinkage, headHash, block.Header.PreviousHash)
	}
	return nil
}

// ============================================================================
// bbolt backend
// ============================================================================

// Bucket names
var (
	bucketBlocks  = []byte("blocks")  // hash -> block json
	bucketHeights = []byte("heights") // index (big-endian) -> hash
	bucketUTXOs   = []byte("utxos")   // "txid:idx" -> utxo json
	bucketMeta    = []byte("meta")    // head pointer

	metaKeyHead  = []byte("head")
	metaKeyIndex = []byte("index")
)

// BoltStorage is the default Store, backed by a single bbolt file.
type BoltStorage struct {
	db *bolt.DB
}

func heightKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}

func readHeadMeta(meta *bolt.Bucket) (hash string, index uint64, found bool, err error) {
	headData := meta.Get(metaKeyHead)
	indexData := meta.Get(metaKeyIndex)

	if headData == nil {
		if indexData != nil {
			return "", 0, false, fmt.Errorf("index metadata present without head metadata")
		}
		return "", 0, false, nil
	}
	if !core.IsHexDigest(string(headData)) {
		return "", 0, false, fmt.Errorf("invalid head hash %q", headData)
	}
	if len(indexData) != 8 {
		return "", 0, false, fmt.Errorf("invalid head index length: got %d", len(indexData))
	}
	return string(headData), binary.BigEndian.Uint64(indexData), true, nil
}

// NewBoltStorage opens or creates the chain database under dataDir.
func NewBoltStorage(dataDir string) (*BoltStorage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultChainDBFilename)
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{
		Timeout: time.Second, // another process holds the file lock
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBlocks, bucketHeights, bucketUTXOs, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to create buckets: %w (additionally failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltStorage{db: db}, nil
}

// Close closes the database
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

func (s *BoltStorage) PutBlock(block *core.Block) error {
	return s.CommitBlock(&BlockCommit{Block: block})
}

func (s *BoltStorage) CommitBlock(commit *BlockCommit) error {
	if err := commit.check(); err != nil {
		return err
	}
	block := commit.Block
	blockData, err := json.Marshal(block)
	if err != nil {
		return err
	}
	indexBytes := heightKey(block.Header.Index)

	return s.db.Update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		heights := tx.Bucket(bucketHeights)
		utxos := tx.Bucket(bucketUTXOs)
		meta := tx.Bucket(bucketMeta)

		headHash, headIndex, found, err := readHeadMeta(meta)
		if err != nil {
			return fmt.Errorf("invalid head metadata: %w", err)
		}
		if err := checkLinkage(block, headHash, headIndex, found); err != nil {
			return err
		}
		if blocks.Get([]byte(block.Hash)) != nil {
			return fmt.Errorf("%w: %.16s", ErrBlockExists, block.Hash)
		}

		if err := blocks.Put([]byte(block.Hash), blockData); err != nil {
			return err
		}
		if err := heights.Put(indexBytes, []byte(block.Hash)); err != nil {
			return err
		}

		for _, out := range commit.NewOutputs {
			key := []byte(out.Key())
			if utxos.Get(key) != nil {
				return fmt.Errorf("%w: %s", ErrOutputExists, key)
			}
			data, err := json.Marshal(out)
			if err != nil {
				return err
			}
			if err := utxos.Put(key, data); err != nil {
				return err
			}
		}

		for _, key := range commit.SpentKeys {
			data := utxos.Get([]byte(key))
			if data == nil {
				return fmt.Errorf("%w: %s", ErrOutputMissing, key)
			}
			var entry core.UTXO
			if err := json.Unmarshal(data, &entry); err != nil {
				return fmt.Errorf("decode utxo %s: %w", key, err)
			}
			if entry.Spent {
				return fmt.Errorf("%w: %s", ErrOutputSpent, key)
			}
			entry.Spent = true
			updated, err := json.Marshal(&entry)
			if err != nil {
				return err
			}
			if err := utxos.Put([]byte(key), updated); err != nil {
				return err
			}
		}

		if err := meta.Put(metaKeyHead, []byte(block.Hash)); err != nil {
			return err
		}
		return meta.Put(metaKeyIndex, indexBytes)
	})
}

func (s *BoltStorage) GetBlock(hash string) (*core.Block, error) {
	var block *core.Block
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBlocks).Get([]byte(hash))
		if data == nil {
			return nil // Not found
		}
		block = &core.Block{}
		return json.Unmarshal(data, block)
	})
	return block, err
}

func (s *BoltStorage) GetHead() (hash string, found bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		var readErr error
		hash, _, found, readErr = readHeadMeta(tx.Bucket(bucketMeta))
		return readErr
	})
	return hash, found, err
}

// BlockHashes walks the height index in order.
func (s *BoltStorage) BlockHashes() ([]string, error) {
	var hashes []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHeights).ForEach(func(k, v []byte) error {
			if want := uint64(len(hashes)); binary.BigEndian.Uint64(k) != want {
				return fmt.Errorf("height index gap at %d", want)
			}
			hashes = append(hashes, string(v))
			return nil
		})
	})
	return hashes, err
}

func (s *BoltStorage) PutUTXO(entry *core.UTXO) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUTXOs).Put([]byte(entry.Key()), data)
	})
}

func (s *BoltStorage) GetUTXO(key string) (*core.UTXO, error) {
	var entry *core.UTXO
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUTXOs).Get([]byte(key))
		if data == nil {
			return nil
		}
		entry = &core.UTXO{}
		return json.Unmarshal(data, entry)
	})
	return entry, err
}

func (s *BoltStorage) ScanUTXOs(fn func(*core.UTXO) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUTXOs).ForEach(func(_, v []byte) error {
			entry := &core.UTXO{}
			if err := json.Unmarshal(v, entry); err != nil {
				return err
			}
			return fn(entry)
		})
	})
}
