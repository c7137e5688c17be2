package core

// UTXO is a ledger output entry. Entries are never deleted; consumption
// flips Spent.
type UTXO struct {
	TxID        string   `json:"tx_id"`
	OutputIndex uint32   `json:"output_index"`
	Output      TxOutput `json:"output"`
	BlockHash   string   `json:"block_hash"`
	Spent       bool     `json:"spent"`
}

// Key returns the "{tx_id}:{output_index}" storage key.
func (u *UTXO) Key() string {
	return OutpointKey(u.TxID, u.OutputIndex)
}

// OutputsOf lists the UTXO entries a committed transaction creates.
func OutputsOf(tx *Transaction, blockHash string) []*UTXO {
	out := make([]*UTXO, len(tx.Outputs))
	for i, o := range tx.Outputs {
		out[i] = &UTXO{
			TxID:        tx.TxID,
			OutputIndex: uint32(i),
			Output:      o,
			BlockHash:   blockHash,
		}
	}
	return out
}
