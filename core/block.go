package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"memledger/protocol/params"
)

// BlockHeader is the sealed part of a block.
type BlockHeader struct {
	Version      int    `json:"version"`
	Index        uint64 `json:"index"`
	PreviousHash string `json:"previous_hash"`
	Timestamp    int64  `json:"timestamp"` // unix millis
	Nonce        uint64 `json:"nonce"`
	Difficulty   int    `json:"difficulty"`
	MerkleRoot   string `json:"merkle_root"`
}

// Block is a header, its ordered transactions and the sealed hash.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Hash         string         `json:"hash"`
}

type hashedFields struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
}

func (b *Block) hashedFields() hashedFields {
	txs := b.Transactions
	if txs == nil {
		txs = []*Transaction{}
	}
	return hashedFields{Header: b.Header, Transactions: txs}
}

// ComputeHash returns hex(SHA-256(canonical-json({header, transactions}))).
func (b *Block) ComputeHash() (string, error) {
	encoded, err := CanonicalJSON(b.hashedFields())
	if err != nil {
		return "", fmt.Errorf("encode block: %w", err)
	}
	return HashHex(encoded), nil
}

// MeetsDifficulty reports whether hash has at least difficulty leading '0'
// hex digits.
func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if difficulty > len(hash) {
		return false
	}
	return strings.Count(hash[:difficulty], "0") == difficulty
}

// NewGenesisBlock returns the fixed genesis block.
func NewGenesisBlock() (*Block, error) {
	b := &Block{
		Header: BlockHeader{
			Version:      params.ChainVersion,
			Index:        0,
			PreviousHash: ZeroHash,
			Timestamp:    params.GenesisTimestamp,
			Difficulty:   0,
			MerkleRoot:   ZeroHash,
		},
		Transactions: []*Transaction{},
	}
	hash, err := b.ComputeHash()
	if err != nil {
		return nil, err
	}
	b.Hash = hash
	return b, nil
}

// ============================================================================
// Seal template
// ============================================================================

// sealTemplate splits the canonical block encoding around the nonce digits
// so a search only rehashes prefix || nonce || suffix.
type sealTemplate struct {
	prefix []byte
	suffix []byte
}

var nonceMarker = []byte(`"nonce":`)

func newSealTemplate(b *Block) (*sealTemplate, error) {
	probe := *b
	probe.Header.Nonce = 0
	encoded, err := CanonicalJSON(probe.hashedFields())
	if err != nil {
		return nil, fmt.Errorf("encode block: %w", err)
	}
	// Header keys sort before "transactions", so the first marker is the
	// header nonce even if a payload carries a "nonce" key.
	at := bytes.Index(encoded, nonceMarker)
	if at < 0 {
		return nil, fmt.Errorf("nonce field missing from block encoding")
	}
	at += len(nonceMarker)
	if at >= len(encoded) || encoded[at] != '0' {
		return nil, fmt.Errorf("unexpected nonce encoding")
	}
	return &sealTemplate{
		prefix: append([]byte(nil), encoded[:at]...),
		suffix: append([]byte(nil), encoded[at+1:]...),
	}, nil
}

// hash returns the block hash for nonce, reusing buf.
func (t *sealTemplate) hash(nonce uint64, buf []byte) (string, []byte) {
	buf = append(buf[:0], t.prefix...)
	buf = strconv.AppendUint(buf, nonce, 10)
	buf = append(buf, t.suffix...)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), buf
}
