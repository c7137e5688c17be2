package core

import (
	"fmt"

	"memledger/protocol/params"
)

// VerifyBlock recomputes the block hash, checks the proof-of-work prefix,
// the link to prev, reward placement and the Merkle root. prev may be nil
// only for genesis, which carries no reward.
// Every failure wraps ErrInvalidBlock.
func VerifyBlock(block, prev *Block) error {
	if block == nil {
		return fmt.Errorf("%w: nil block", ErrInvalidBlock)
	}
	if block.Header.Difficulty < 0 || block.Header.Difficulty > params.MaxDifficulty {
		return fmt.Errorf("%w: difficulty %d out of range", ErrInvalidBlock, block.Header.Difficulty)
	}

	hash, err := block.ComputeHash()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBlock, err)
	}
	if hash != block.Hash {
		return fmt.Errorf("%w: hash mismatch at index %d", ErrInvalidBlock, block.Header.Index)
	}
	if !MeetsDifficulty(hash, block.Header.Difficulty) {
		return fmt.Errorf("%w: hash does not meet difficulty %d", ErrInvalidBlock, block.Header.Difficulty)
	}

	if prev != nil {
		if block.Header.PreviousHash != prev.Hash {
			return fmt.Errorf("%w: previous hash mismatch at index %d", ErrInvalidBlock, block.Header.Index)
		}
		if block.Header.Index != prev.Header.Index+1 {
			return fmt.Errorf("%w: index %d does not follow %d", ErrInvalidBlock, block.Header.Index, prev.Header.Index)
		}
	} else if block.Header.Index != 0 || block.Header.PreviousHash != ZeroHash {
		return fmt.Errorf("%w: missing predecessor for index %d", ErrInvalidBlock, block.Header.Index)
	}

	for i, tx := range block.Transactions {
		if tx == nil {
			return fmt.Errorf("%w: nil transaction %d", ErrInvalidBlock, i)
		}
		if err := tx.VerifyID(); err != nil {
			return fmt.Errorf("%w: transaction %d: %v", ErrInvalidBlock, i, err)
		}
		wantReward := i == 0 && block.Header.Index > 0
		if tx.IsReward() != wantReward {
			return fmt.Errorf("%w: reward placement at transaction %d of index %d", ErrInvalidBlock, i, block.Header.Index)
		}
	}
	if block.Header.Index > 0 && len(block.Transactions) == 0 {
		return fmt.Errorf("%w: index %d has no reward", ErrInvalidBlock, block.Header.Index)
	}
	if root := MerkleRoot(block.Transactions); root != block.Header.MerkleRoot {
		return fmt.Errorf("%w: merkle root mismatch at index %d", ErrInvalidBlock, block.Header.Index)
	}
	return nil
}

// IsBlockValid is the boolean form of VerifyBlock.
func IsBlockValid(block, prev *Block) bool {
	return VerifyBlock(block, prev) == nil
}
