package core

import (
	"fmt"

	"memledger/protocol/params"
)

// TxType enumerates transaction kinds.
type TxType string

const (
	TxTransfer TxType = "TRANSFER"
	TxMemory   TxType = "MEMORY"
	TxFeedback TxType = "FEEDBACK"
	TxReward   TxType = "REWARD"
)

// Valid reports whether t is a known transaction kind.
func (t TxType) Valid() bool {
	switch t {
	case TxTransfer, TxMemory, TxFeedback, TxReward:
		return true
	}
	return false
}

// TxOutput is a spendable (or, at zero amount, purely informational) value unit.
type TxOutput struct {
	Amount  Amount  `json:"amount"`
	Address string  `json:"address"`
	Data    Payload `json:"data,omitempty"`
}

// TxInput references one prior output.
type TxInput struct {
	TxID        string `json:"tx_id"`
	OutputIndex uint32 `json:"output_index"`
	Signature   string `json:"signature,omitempty"`
}

// OutpointKey is the UTXO key this input consumes.
func (in TxInput) OutpointKey() string {
	return OutpointKey(in.TxID, in.OutputIndex)
}

// Transaction is the ledger's unit of state change.
type Transaction struct {
	TxID            string     `json:"tx_id"`
	Type            TxType     `json:"tx_type"`
	Inputs          []TxInput  `json:"inputs"`
	Outputs         []TxOutput `json:"outputs"`
	Timestamp       int64      `json:"timestamp"` // unix millis
	SenderAddress   string     `json:"sender_address,omitempty"`
	SenderPublicKey string     `json:"sender_public_key,omitempty"`
	Signature       string     `json:"signature,omitempty"`
}

// idFields are the fields covered by tx_id.
type idFields struct {
	Type          TxType     `json:"tx_type"`
	Inputs        []TxInput  `json:"inputs"`
	Outputs       []TxOutput `json:"outputs"`
	Timestamp     int64      `json:"timestamp"`
	SenderAddress string     `json:"sender_address"`
}

type signableInput struct {
	TxID        string `json:"tx_id"`
	OutputIndex uint32 `json:"output_index"`
}

// signableFields exclude every signature and bind the verifying key.
type signableFields struct {
	Type            TxType          `json:"tx_type"`
	Inputs          []signableInput `json:"inputs"`
	Outputs         []TxOutput      `json:"outputs"`
	Timestamp       int64           `json:"timestamp"`
	SenderAddress   string          `json:"sender_address"`
	SenderPublicKey string          `json:"sender_public_key"`
}

func nonNilInputs(in []TxInput) []TxInput {
	if in == nil {
		return []TxInput{}
	}
	return in
}

func nonNilOutputs(out []TxOutput) []TxOutput {
	if out == nil {
		return []TxOutput{}
	}
	return out
}

// ComputeTxID hashes the canonical encoding of the id-covered fields.
func ComputeTxID(tx *Transaction) (string, error) {
	encoded, err := CanonicalJSON(idFields{
		Type:          tx.Type,
		Inputs:        nonNilInputs(tx.Inputs),
		Outputs:       nonNilOutputs(tx.Outputs),
		Timestamp:     tx.Timestamp,
		SenderAddress: tx.SenderAddress,
	})
	if err != nil {
		return "", fmt.Errorf("encode tx id fields: %w", err)
	}
	return HashHex(encoded), nil
}

// SignablePayload returns the canonical bytes that signatures cover.
func SignablePayload(tx *Transaction) ([]byte, error) {
	inputs := make([]signableInput, len(tx.Inputs))
	for i, in := range tx.Inputs {
		inputs[i] = signableInput{TxID: in.TxID, OutputIndex: in.OutputIndex}
	}
	encoded, err := CanonicalJSON(signableFields{
		Type:            tx.Type,
		Inputs:          inputs,
		Outputs:         nonNilOutputs(tx.Outputs),
		Timestamp:       tx.Timestamp,
		SenderAddress:   tx.SenderAddress,
		SenderPublicKey: tx.SenderPublicKey,
	})
	if err != nil {
		return nil, fmt.Errorf("encode signable payload: %w", err)
	}
	return encoded, nil
}

// Finalize computes and stores tx_id. It must be the last step of
// construction, after signatures are attached.
func (tx *Transaction) Finalize() error {
	id, err := ComputeTxID(tx)
	if err != nil {
		return err
	}
	tx.TxID = id
	return nil
}

// VerifyID recomputes tx_id and compares it with the stored value.
func (tx *Transaction) VerifyID() error {
	id, err := ComputeTxID(tx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}
	if id != tx.TxID {
		return ErrTxIDMismatch
	}
	return nil
}

// IsReward reports whether tx is a block reward.
func (tx *Transaction) IsReward() bool {
	return tx.Type == TxReward
}

// IsValueBearing reports whether the input/output coverage rule applies.
func (tx *Transaction) IsValueBearing() bool {
	return tx.Type == TxTransfer
}

// TotalOutput sums output amounts.
func (tx *Transaction) TotalOutput() (Amount, error) {
	amounts := make([]Amount, len(tx.Outputs))
	for i, out := range tx.Outputs {
		amounts[i] = out.Amount
	}
	return SumAmounts(amounts...)
}

// CheckStructure performs context-free checks: known type, output count and
// addresses, input shape and payload limits. It does not touch chain state.
func (tx *Transaction) CheckStructure() error {
	if !tx.Type.Valid() {
		return fmt.Errorf("%w: unknown tx type %q", ErrMalformedTx, tx.Type)
	}
	if len(tx.Outputs) == 0 {
		return fmt.Errorf("%w: no outputs", ErrMalformedTx)
	}
	if len(tx.Outputs) > params.MaxOutputsPerTx {
		return fmt.Errorf("%w: %d outputs exceeds %d", ErrMalformedTx, len(tx.Outputs), params.MaxOutputsPerTx)
	}
	if len(tx.Inputs) > params.MaxInputsPerTx {
		return fmt.Errorf("%w: %d inputs exceeds %d", ErrMalformedTx, len(tx.Inputs), params.MaxInputsPerTx)
	}
	if tx.IsReward() && len(tx.Inputs) != 0 {
		return fmt.Errorf("%w: reward transaction has inputs", ErrMalformedTx)
	}
	for i, out := range tx.Outputs {
		if err := ValidateAddress(out.Address); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
		if err := out.Data.Validate(); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}
	if _, err := tx.TotalOutput(); err != nil {
		return err
	}
	for i, in := range tx.Inputs {
		if !IsHexDigest(in.TxID) {
			return fmt.Errorf("%w: input %d has malformed tx id", ErrMalformedTx, i)
		}
	}
	if tx.SenderAddress != "" {
		if err := ValidateAddress(tx.SenderAddress); err != nil {
			return fmt.Errorf("sender: %w", err)
		}
	}
	return nil
}

// OutpointKey formats the UTXO key "{tx_id}:{output_index}".
func OutpointKey(txID string, index uint32) string {
	return fmt.Sprintf("%s:%d", txID, index)
}

// ============================================================================
// Construction helpers
// ============================================================================

// NewRewardTransaction credits amount to address. The block index is
// recorded in the output data so rewards for different blocks never collide.
func NewRewardTransaction(address string, amount Amount, index uint64, timestamp int64) (*Transaction, error) {
	tx := &Transaction{
		Type:   TxReward,
		Inputs: []TxInput{},
		Outputs: []TxOutput{{
			Amount:  amount,
			Address: address,
			Data:    Payload{"height": jsonUint(index)},
		}},
		Timestamp: timestamp,
	}
	if err := tx.Finalize(); err != nil {
		return nil, err
	}
	return tx, nil
}

// NewTransferTransaction builds an unsigned transfer spending inputs. A
// non-zero change amount is returned to sender.
func NewTransferTransaction(sender string, inputs []TxInput, recipient string, amount, change Amount, data Payload, timestamp int64) *Transaction {
	outputs := []TxOutput{{Amount: amount, Address: recipient, Data: data}}
	if change > 0 {
		outputs = append(outputs, TxOutput{Amount: change, Address: sender})
	}
	return &Transaction{
		Type:          TxTransfer,
		Inputs:        nonNilInputs(inputs),
		Outputs:       outputs,
		Timestamp:     timestamp,
		SenderAddress: sender,
	}
}

// NewMemoryTransaction builds an unsigned zero-amount record addressed to sender.
func NewMemoryTransaction(sender string, record Payload, timestamp int64) *Transaction {
	return newDataTransaction(TxMemory, sender, record, timestamp)
}

// NewFeedbackTransaction builds an unsigned zero-amount feedback record.
func NewFeedbackTransaction(sender string, record Payload, timestamp int64) *Transaction {
	return newDataTransaction(TxFeedback, sender, record, timestamp)
}

func newDataTransaction(kind TxType, sender string, record Payload, timestamp int64) *Transaction {
	return &Transaction{
		Type:          kind,
		Inputs:        []TxInput{},
		Outputs:       []TxOutput{{Amount: 0, Address: sender, Data: record}},
		Timestamp:     timestamp,
		SenderAddress: sender,
	}
}
