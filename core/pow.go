package core

import (
	"context"
	"fmt"
	"sync/atomic"
)

// ctxCheckInterval is how many hashes run between context checks.
const ctxCheckInterval = 1024

// Sealer runs bounded nonce searches over one assembled block. A Sealer is
// safe for concurrent Search calls over disjoint nonce strides.
type Sealer struct {
	block *Block
	tmpl  *sealTemplate
}

// NewSealer snapshots the block encoding. The block must not change while
// searches are running.
func NewSealer(b *Block) (*Sealer, error) {
	tmpl, err := newSealTemplate(b)
	if err != nil {
		return nil, err
	}
	return &Sealer{block: b, tmpl: tmpl}, nil
}

// Search tries nonces start, start+stride, ... for at most attempts hashes.
// It returns the first nonce whose hash meets the block difficulty,
// ErrSealExhausted when attempts run out, or ctx.Err() on cancellation.
// hashes, if non-nil, is incremented once per hash computed.
func (s *Sealer) Search(ctx context.Context, start, stride, attempts uint64, hashes *atomic.Uint64) (uint64, string, error) {
	if stride == 0 {
		stride = 1
	}
	difficulty := s.block.Header.Difficulty
	buf := make([]byte, 0, len(s.tmpl.prefix)+len(s.tmpl.suffix)+20)
	nonce := start
	var hash string
	var pending uint64

	flush := func() {
		if hashes != nil && pending > 0 {
			hashes.Add(pending)
		}
		pending = 0
	}
	defer flush()

	for i := uint64(0); i < attempts; i++ {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return 0, "", err
			}
			flush()
		}
		hash, buf = s.tmpl.hash(nonce, buf)
		pending++
		if MeetsDifficulty(hash, difficulty) {
			return nonce, hash, nil
		}
		nonce += stride
	}
	return 0, "", fmt.Errorf("%w after %d attempts at difficulty %d", ErrSealExhausted, attempts, difficulty)
}

// Seal increments header.nonce from its current value until the block hash
// carries header.difficulty leading zero hex digits, then stores the nonce
// and hash on the block. The search gives up after maxAttempts hashes or
// when ctx is done; the block is left unchanged in both cases.
func Seal(ctx context.Context, b *Block, maxAttempts uint64) error {
	sealer, err := NewSealer(b)
	if err != nil {
		return err
	}
	nonce, hash, err := sealer.Search(ctx, b.Header.Nonce, 1, maxAttempts, nil)
	if err != nil {
		return err
	}
	b.Header.Nonce = nonce
	b.Hash = hash
	return nil
}
