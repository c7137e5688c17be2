package main

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"memledger/core"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS blocks (
	hash  TEXT PRIMARY KEY,
	idx   INTEGER NOT NULL UNIQUE,
	data  BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS utxos (
	key     TEXT PRIMARY KEY,
	address TEXT NOT NULL,
	spent   INTEGER NOT NULL DEFAULT 0,
	data    BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	k TEXT PRIMARY KEY,
	v TEXT NOT NULL
);
`

const (
	sqlSelectHead   = `SELECT b.hash, b.idx FROM meta m JOIN blocks b ON b.hash = m.v WHERE m.k = 'head'`
	sqlInsertBlock  = `INSERT INTO blocks (hash, idx, data) VALUES (?, ?, ?)`
	sqlInsertUTXO   = `INSERT INTO utxos (key, address, spent, data) VALUES (?, ?, ?, ?)`
	sqlUpsertUTXO   = `INSERT OR REPLACE INTO utxos (key, address, spent, data) VALUES (?, ?, ?, ?)`
	sqlSelectUTXO   = `SELECT data FROM utxos WHERE key = ?`
	sqlUpdateUTXO   = `UPDATE utxos SET spent = 1, data = ? WHERE key = ?`
	sqlUpsertHead   = `INSERT OR REPLACE INTO meta (k, v) VALUES ('head', ?)`
	sqlSelectBlock  = `SELECT data FROM blocks WHERE hash = ?`
	sqlSelectHashes = `SELECT hash FROM blocks ORDER BY idx ASC`
	sqlScanUTXOs    = `SELECT data FROM utxos ORDER BY key ASC`
)

// SQLiteStorage is the alternative Store, selected with
// storage.backend = sqlite. Every write runs in one SQL transaction.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates the SQLite chain database under dataDir.
func NewSQLiteStorage(dataDir string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}
	db, err := sql.Open("sqlite3", filepath.Join(dataDir, DefaultSQLiteFilename)+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite database")
	}
	// A single connection serializes writers; readers share it.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create schema")
	}
	return NewSQLiteStorageFromDB(db), nil
}

// NewSQLiteStorageFromDB wraps an already-open handle whose schema exists.
func NewSQLiteStorageFromDB(db *sql.DB) *SQLiteStorage {
	return &SQLiteStorage{db: db}
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) PutBlock(block *core.Block) error {
	return s.CommitBlock(&BlockCommit{Block: block})
}

func (s *SQLiteStorage) CommitBlock(commit *BlockCommit) (err error) {
	if err := commit.check(); err != nil {
		return err
	}
	block := commit.Block
	blockData, err := json.Marshal(block)
	if err != nil {
		return errors.Wrap(err, "encode block")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin commit")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.WithMessagef(err, "rollback failed: %v", rbErr)
			}
		}
	}()

	headHash, headIndex, found, err := queryHead(tx)
	if err != nil {
		return err
	}
	if err = checkLinkage(block, headHash, headIndex, found); err != nil {
		return err
	}

	if _, err = tx.Exec(sqlInsertBlock, block.Hash, int64(block.Header.Index), blockData); err != nil {
		return errors.Wrapf(err, "insert block %.16s", block.Hash)
	}

	for _, out := range commit.NewOutputs {
		var data []byte
		if data, err = json.Marshal(out); err != nil {
			return errors.Wrap(err, "encode utxo")
		}
		if _, err = tx.Exec(sqlInsertUTXO, out.Key(), out.Output.Address, out.Spent, data); err != nil {
			return errors.Wrapf(err, "insert utxo %s", out.Key())
		}
	}

	for _, key := range commit.SpentKeys {
		var data []byte
		if err = tx.QueryRow(sqlSelectUTXO, key).Scan(&data); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				err = errors.Wrap(ErrOutputMissing, key)
				return err
			}
			return errors.Wrapf(err, "select utxo %s", key)
		}
		var entry core.UTXO
		if err = json.Unmarshal(data, &entry); err != nil {
			return errors.Wrapf(err, "decode utxo %s", key)
		}
		if entry.Spent {
			err = errors.Wrap(ErrOutputSpent, key)
			return err
		}
		entry.Spent = true
		if data, err = json.Marshal(&entry); err != nil {
			return errors.Wrap(err, "encode utxo")
		}
		if _, err = tx.Exec(sqlUpdateUTXO, data, key); err != nil {
			return errors.Wrapf(err, "spend utxo %s", key)
		}
	}

	if _, err = tx.Exec(sqlUpsertHead, block.Hash); err != nil {
		return errors.Wrap(err, "update head")
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit block")
	}
	return nil
}

func queryHead(tx *sql.Tx) (hash string, index uint64, found bool, err error) {
	var idx int64
	err = tx.QueryRow(sqlSelectHead).Scan(&hash, &idx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, errors.Wrap(err, "read head")
	}
	return hash, uint64(idx), true, nil
}

func (s *SQLiteStorage) GetBlock(hash string) (*core.Block, error) {
	var data []byte
	err := s.db.QueryRow(sqlSelectBlock, hash).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select block")
	}
	block := &core.Block{}
	if err := json.Unmarshal(data, block); err != nil {
		return nil, errors.Wrap(err, "decode block")
	}
	return block, nil
}

func (s *SQLiteStorage) GetHead() (string, bool, error) {
	var hash string
	var idx int64
	err := s.db.QueryRow(sqlSelectHead).Scan(&hash, &idx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "read head")
	}
	return hash, true, nil
}

func (s *SQLiteStorage) BlockHashes() ([]string, error) {
	rows, err := s.db.Query(sqlSelectHashes)
	if err != nil {
		return nil, errors.Wrap(err, "select block hashes")
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, errors.Wrap(err, "scan block hash")
		}
		hashes = append(hashes, hash)
	}
	return hashes, errors.Wrap(rows.Err(), "iterate block hashes")
}

func (s *SQLiteStorage) PutUTXO(entry *core.UTXO) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "encode utxo")
	}
	_, err = s.db.Exec(sqlUpsertUTXO, entry.Key(), entry.Output.Address, entry.Spent, data)
	return errors.Wrapf(err, "upsert utxo %s", entry.Key())
}

func (s *SQLiteStorage) GetUTXO(key string) (*core.UTXO, error) {
	var data []byte
	err := s.db.QueryRow(sqlSelectUTXO, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "select utxo %s", key)
	}
	entry := &core.UTXO{}
	if err := json.Unmarshal(data, entry); err != nil {
		return nil, errors.Wrapf(err, "decode utxo %s", key)
	}
	return entry, nil
}

func (s *SQLiteStorage) ScanUTXOs(fn func(*core.UTXO) error) error {
	rows, err := s.db.Query(sqlScanUTXOs)
	if err != nil {
		return errors.Wrap(err, "scan utxos")
	}
	defer rows.Close()

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return errors.Wrap(err, "scan utxo row")
		}
		entry := &core.UTXO{}
		if err := json.Unmarshal(data, entry); err != nil {
			return errors.Wrap(err, "decode utxo")
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return errors.Wrap(rows.Err(), "iterate utxos")
}
