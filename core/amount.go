package core

import (
	"encoding/json"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"

	"memledger/protocol/params"
)

// Amount is a non-negative quantity in base units (params.CoinDecimals
// fractional digits). Its JSON form is a fixed-width decimal string so the
// canonical encoding never depends on float formatting.
type Amount uint64

// Coins converts a whole number of coins to an Amount.
func Coins(n uint64) Amount {
	return Amount(n * params.Coin)
}

// String formats the amount as "<whole>.<8 digits>".
func (a Amount) String() string {
	whole := uint64(a) / params.Coin
	frac := uint64(a) % params.Coin
	return fmt.Sprintf("%d.%0*d", whole, params.CoinDecimals, frac)
}

// ParseAmount parses plain decimal notation ("12", "0.5", "3.25000000").
// Exponents, signs and more than CoinDecimals fractional digits are rejected.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	wholePart, fracPart, hasDot := strings.Cut(s, ".")
	if wholePart == "" || (hasDot && fracPart == "") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if len(fracPart) > params.CoinDecimals {
		return 0, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, params.CoinDecimals)
	}
	for _, part := range []string{wholePart, fracPart} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
			}
		}
	}

	whole, err := strconv.ParseUint(wholePart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	var frac uint64
	if fracPart != "" {
		padded := fracPart + strings.Repeat("0", params.CoinDecimals-len(fracPart))
		frac, err = strconv.ParseUint(padded, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}

	hi, lo := bits.Mul64(whole, params.Coin)
	if hi != 0 || lo > math.MaxUint64-frac {
		return 0, fmt.Errorf("%w: %q", ErrAmountOverflow, s)
	}
	return Amount(lo + frac), nil
}

// Add returns a+b, failing on overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return 0, ErrAmountOverflow
	}
	return Amount(sum), nil
}

// SumAmounts adds amounts with overflow checking.
func SumAmounts(amounts ...Amount) (Amount, error) {
	var total Amount
	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return 0, err
		}
	}
	return total, nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		text = s
	}
	parsed, err := ParseAmount(text)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
