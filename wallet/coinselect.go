package wallet

import (
	"fmt"
	"sort"

	"memledger/core"
)

var (
	// ErrInsufficientFunds wraps core.ErrInsufficientBalance so the ledger
	// reports it as a validation failure.
	ErrInsufficientFunds  = fmt.Errorf("%w: not enough unspent outputs", core.ErrInsufficientBalance)
	ErrNoSpendableOutputs = fmt.Errorf("%w: no spendable outputs", core.ErrInsufficientBalance)
	ErrInputLimitExceeded = fmt.Errorf("%w: input limit exceeded", core.ErrValidation)
)

const maxSelectedInputs = 256

// SelectInputs chooses unspent outputs covering target. It prefers an exact
// single or pair match (no change output), then smallest-first within the
// input cap, then largest-first.
func SelectInputs(available []*core.UTXO, target core.Amount) ([]*core.UTXO, error) {
	var spendable []*core.UTXO
	var total core.Amount
	for _, u := range available {
		if u == nil || u.Spent || u.Output.Amount == 0 {
			continue
		}
		sum, err := total.Add(u.Output.Amount)
		if err != nil {
			return nil, err
		}
		total = sum
		spendable = append(spendable, u)
	}
	if len(spendable) == 0 {
		return nil, ErrNoSpendableOutputs
	}
	if total < target {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, total, target)
	}

	// Stable order so selection is reproducible for a given UTXO set.
	sort.SliceStable(spendable, func(i, j int) bool {
		if spendable[i].Output.Amount != spendable[j].Output.Amount {
			return spendable[i].Output.Amount < spendable[j].Output.Amount
		}
		return spendable[i].Key() < spendable[j].Key()
	})

	if exact := findExactMatch(spendable, target); exact != nil {
		return exact, nil
	}
	if selected, ok := selectSmallestFirstCapped(spendable, target, maxSelectedInputs); ok {
		return selected, nil
	}
	if selected, ok := selectLargestFirstCapped(spendable, target, maxSelectedInputs); ok {
		return selected, nil
	}
	return nil, ErrInputLimitExceeded
}

// findExactMatch checks single outputs and pairs only.
func findExactMatch(sorted []*core.UTXO, target core.Amount) []*core.UTXO {
	for _, u := range sorted {
		if u.Output.Amount == target {
			return []*core.UTXO{u}
		}
	}
	for i, a := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			sum, err := a.Output.Amount.Add(sorted[j].Output.Amount)
			if err != nil {
				continue
			}
			if sum == target {
				return []*core.UTXO{a, sorted[j]}
			}
			if sum > target {
				break
			}
		}
	}
	return nil
}

// selectSmallestFirstCapped consolidates small outputs but refuses
// selections needing more than maxInputs.
func selectSmallestFirstCapped(sorted []*core.UTXO, target core.Amount, maxInputs int) ([]*core.UTXO, bool) {
	var selected []*core.UTXO
	var total core.Amount
	for _, u := range sorted {
		if len(selected) >= maxInputs {
			return nil, false
		}
		selected = append(selected, u)
		total += u.Output.Amount
		if total >= target {
			return selected, true
		}
	}
	return nil, false
}

func selectLargestFirstCapped(sorted []*core.UTXO, target core.Amount, maxInputs int) ([]*core.UTXO, bool) {
	var selected []*core.UTXO
	var total core.Amount
	for i := len(sorted) - 1; i >= 0; i-- {
		if len(selected) >= maxInputs {
			return nil, false
		}
		selected = append(selected, sorted[i])
		total += sorted[i].Output.Amount
		if total >= target {
			return selected, true
		}
	}
	return nil, false
}

// Sum adds the amounts of the given outputs.
func Sum(utxos []*core.UTXO) (core.Amount, error) {
	amounts := make([]core.Amount, len(utxos))
	for i, u := range utxos {
		amounts[i] = u.Output.Amount
	}
	return core.SumAmounts(amounts...)
}
