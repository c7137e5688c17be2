package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"memledger/core"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// wipeBytes zeroes key material once it has been used.
func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// nowMillis is the transaction clock. Tests replace it.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// recordNonceLen is the random byte count stamped into every memory and
// feedback record, so identical records in one millisecond get distinct ids.
const recordNonceLen = 8

func recordNonce() (string, error) {
	b := make([]byte, recordNonceLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read record nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Wallet owns one secp256k1 key pair. Only the address, public key and
// signing capability leave it; the private key is exported solely through
// ExportPrivateKey for backups.
type Wallet struct {
	priv    *secp256k1.PrivateKey
	pubHex  string
	address string
}

// Generate creates a wallet with a fresh random key.
func Generate() (*Wallet, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return fromPrivateKey(priv), nil
}

// Import reconstructs a wallet from a hex-encoded 32-byte private key.
func Import(hexKey string) (*Wallet, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: private key is not hex", core.ErrInvalidKey)
	}
	defer wipeBytes(raw)
	return ImportBytes(raw)
}

// ImportBytes reconstructs a wallet from raw key material. The scalar must
// be 32 bytes, non-zero and below the curve order.
func ImportBytes(raw []byte) (*Wallet, error) {
	if len(raw) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", core.ErrInvalidKey, secp256k1.PrivKeyBytesLen, len(raw))
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(raw); overflow {
		return nil, fmt.Errorf("%w: scalar exceeds curve order", core.ErrInvalidKey)
	}
	if scalar.IsZero() {
		return nil, fmt.Errorf("%w: zero scalar", core.ErrInvalidKey)
	}
	return fromPrivateKey(secp256k1.NewPrivateKey(&scalar)), nil
}

func fromPrivateKey(priv *secp256k1.PrivateKey) *Wallet {
	pub := priv.PubKey()
	return &Wallet{
		priv:    priv,
		pubHex:  hex.EncodeToString(pub.SerializeCompressed()),
		address: core.AddressFromPublicKey(pub),
	}
}

// Address returns the wallet address.
func (w *Wallet) Address() string {
	return w.address
}

// PublicKeyHex returns the compressed public key in hex.
func (w *Wallet) PublicKeyHex() string {
	return w.pubHex
}

// ExportPrivateKey returns the 32-byte private scalar as hex.
func (w *Wallet) ExportPrivateKey() string {
	raw := w.priv.Serialize()
	defer wipeBytes(raw)
	return hex.EncodeToString(raw)
}

// Sign signs payload and returns the hex signature.
func (w *Wallet) Sign(payload []byte) string {
	return core.Sign(w.priv, payload)
}

// Zero clears the in-memory key. The wallet is unusable afterwards.
func (w *Wallet) Zero() {
	w.priv.Zero()
}

// signAndFinalize binds the wallet key to tx, signs the signable payload,
// copies the signature onto every input and finally computes tx_id.
func (w *Wallet) signAndFinalize(tx *core.Transaction) (*core.Transaction, error) {
	tx.SenderAddress = w.address
	tx.SenderPublicKey = w.pubHex
	payload, err := core.SignablePayload(tx)
	if err != nil {
		return nil, err
	}
	sig := w.Sign(payload)
	tx.Signature = sig
	for i := range tx.Inputs {
		tx.Inputs[i].Signature = sig
	}
	if err := tx.Finalize(); err != nil {
		return nil, err
	}
	return tx, nil
}

// ============================================================================
// Transaction construction
// ============================================================================

// CreateTransaction builds and signs a transfer of amount to recipient,
// spending inputs. Any surplus returns to the wallet as change. The ledger,
// not the wallet, decides whether the inputs cover the outputs.
func (w *Wallet) CreateTransaction(inputs []*core.UTXO, recipient string, amount core.Amount, data core.Payload) (*core.Transaction, error) {
	if err := core.ValidateAddress(recipient); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be greater than 0", core.ErrInvalidAmount)
	}

	refs := make([]core.TxInput, len(inputs))
	for i, u := range inputs {
		refs[i] = core.TxInput{TxID: u.TxID, OutputIndex: u.OutputIndex}
	}
	total, err := Sum(inputs)
	if err != nil {
		return nil, err
	}
	var change core.Amount
	if total > amount {
		change = total - amount
	}

	tx := core.NewTransferTransaction(w.address, refs, recipient, amount, change, data, nowMillis())
	return w.signAndFinalize(tx)
}

// MemoryRecord is the content anchored by a MEMORY transaction.
type MemoryRecord struct {
	Content      string
	EmbeddingRef string
	ContentType  string
	Metadata     map[string]any
}

const defaultContentType = "text/plain"

// CreateMemoryTransaction builds and signs a zero-amount MEMORY record.
func (w *Wallet) CreateMemoryTransaction(rec MemoryRecord) (*core.Transaction, error) {
	if strings.TrimSpace(rec.Content) == "" {
		return nil, fmt.Errorf("%w: memory content is empty", core.ErrInvalidPayload)
	}
	contentType := rec.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	nonce, err := recordNonce()
	if err != nil {
		return nil, err
	}
	ts := nowMillis()

	fields := map[string]any{
		"content":       rec.Content,
		"embedding_ref": rec.EmbeddingRef,
		"content_type":  contentType,
		"timestamp":     ts,
		"nonce":         nonce,
	}
	if rec.Metadata != nil {
		fields["metadata"] = rec.Metadata
	}
	data, err := core.NormalizePayload(fields)
	if err != nil {
		return nil, err
	}
	return w.signAndFinalize(core.NewMemoryTransaction(w.address, data, ts))
}

// Feedback types accepted by CreateFeedbackTransaction.
const (
	FeedbackLike    = "like"
	FeedbackDislike = "dislike"
	FeedbackRating  = "rating"
	FeedbackComment = "comment"
)

// FeedbackRecord is the content anchored by a FEEDBACK transaction.
type FeedbackRecord struct {
	ResponseID   string
	FeedbackType string
	Rating       *float64
	Comment      string
}

var errInvalidFeedback = errors.New("invalid feedback")

func (rec FeedbackRecord) validate() error {
	if strings.TrimSpace(rec.ResponseID) == "" {
		return fmt.Errorf("%w: %w: response_id is required", core.ErrInvalidPayload, errInvalidFeedback)
	}
	switch rec.FeedbackType {
	case FeedbackLike, FeedbackDislike:
	case FeedbackRating:
		if rec.Rating == nil {
			return fmt.Errorf("%w: %w: rating feedback needs a rating", core.ErrInvalidPayload, errInvalidFeedback)
		}
	case FeedbackComment:
		if strings.TrimSpace(rec.Comment) == "" {
			return fmt.Errorf("%w: %w: comment feedback needs a comment", core.ErrInvalidPayload, errInvalidFeedback)
		}
	default:
		return fmt.Errorf("%w: %w: unknown feedback type %q", core.ErrInvalidPayload, errInvalidFeedback, rec.FeedbackType)
	}
	if rec.Rating != nil && (math.IsNaN(*rec.Rating) || math.IsInf(*rec.Rating, 0) || *rec.Rating < 0) {
		return fmt.Errorf("%w: %w: rating must be a finite non-negative number", core.ErrInvalidPayload, errInvalidFeedback)
	}
	return nil
}

// CreateFeedbackTransaction builds and signs a zero-amount FEEDBACK record.
func (w *Wallet) CreateFeedbackTransaction(rec FeedbackRecord) (*core.Transaction, error) {
	if err := rec.validate(); err != nil {
		return nil, err
	}
	nonce, err := recordNonce()
	if err != nil {
		return nil, err
	}
	fields := map[string]any{
		"response_id":   rec.ResponseID,
		"feedback_type": rec.FeedbackType,
		"nonce":         nonce,
	}
	if rec.Rating != nil {
		fields["rating"] = *rec.Rating
	}
	if rec.Comment != "" {
		fields["comment"] = rec.Comment
	}
	data, err := core.NormalizePayload(fields)
	if err != nil {
		return nil, err
	}
	return w.signAndFinalize(core.NewFeedbackTransaction(w.address, data, nowMillis()))
}
