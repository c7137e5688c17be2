package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the ledger wraps exactly one of these,
// so callers classify with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrPersistence = errors.New("persistence error")
	ErrConsensus   = errors.New("consensus error")
	ErrInvalidKey  = errors.New("invalid key")
)

// Validation failures.
var (
	ErrMalformedTx         = fmt.Errorf("%w: malformed transaction", ErrValidation)
	ErrTxIDMismatch        = fmt.Errorf("%w: transaction id does not match contents", ErrValidation)
	ErrDuplicateTx         = fmt.Errorf("%w: duplicate transaction", ErrValidation)
	ErrMissingUTXO         = fmt.Errorf("%w: referenced output not found", ErrValidation)
	ErrDoubleSpend         = fmt.Errorf("%w: referenced output already spent", ErrValidation)
	ErrBadSignature        = fmt.Errorf("%w: signature verification failed", ErrValidation)
	ErrInsufficientBalance = fmt.Errorf("%w: insufficient balance", ErrValidation)
	ErrRewardSubmission    = fmt.Errorf("%w: reward transactions are minted by mining only", ErrValidation)
	ErrInvalidPayload      = fmt.Errorf("%w: invalid payload", ErrValidation)
	ErrInvalidAddress      = fmt.Errorf("%w: invalid address", ErrValidation)
	ErrInvalidAmount       = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrAmountOverflow      = fmt.Errorf("%w: amount overflow", ErrValidation)
	ErrInvalidBlock        = fmt.Errorf("%w: invalid block", ErrValidation)
)

// Lookup failures.
var (
	ErrBlockNotFound  = fmt.Errorf("%w: block", ErrNotFound)
	ErrWalletNotFound = fmt.Errorf("%w: wallet", ErrNotFound)
)

// Chain-level failures.
var (
	ErrStaleHead    = fmt.Errorf("%w: chain head moved while sealing", ErrConsensus)
	ErrChainInvalid = fmt.Errorf("%w: chain failed verification", ErrConsensus)
)

// ErrSealExhausted is returned when a proof-of-work search runs out of
// attempts before finding a qualifying nonce. It reports a mining failure,
// not a ledger fault.
var ErrSealExhausted = errors.New("proof-of-work search exhausted")
