package core

// MerkleRoot computes the root over the transactions' ids in order.
func MerkleRoot(txs []*Transaction) string {
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.TxID
	}
	return MerkleRootFromIDs(ids)
}

// MerkleRootFromIDs pairs adjacent hex ids and hashes their concatenated
// text, duplicating the last id on odd levels, until one digest remains.
// An empty list yields ZeroHash.
func MerkleRootFromIDs(ids []string) string {
	if len(ids) == 0 {
		return ZeroHash
	}

	level := make([]string, len(ids))
	copy(level, ids)
	for {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = HashHex([]byte(level[i] + level[i+1]))
		}
		if len(next) == 1 {
			return next[0]
		}
		level = next
	}
}
