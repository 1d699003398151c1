package vault

import (
	"math/big"

	"sudovault/core/types"
)

// The unstake ledger is a per-validator append-only FIFO of unbondings.
// Entries are never split: each carries the epoch of its unbond request, and a
// synthesized partial entry would carry a wrong epoch.

// pushUnstakeEntry appends a fresh unbonding at the tail of the validator's
// queue.
func (v *Vault) pushUnstakeEntry(validator types.AccountID, amount *big.Int, epoch uint64) {
	v.UnstakeEntries[validator] = append(v.UnstakeEntries[validator], UnstakeEntry{
		Amount: cloneBigInt(amount),
		Epoch:  epoch,
	})
}

// TotalUnstaked sums every queued amount for the validator.
func (v *Vault) TotalUnstaked(validator types.AccountID) *big.Int {
	total := big.NewInt(0)
	for _, entry := range v.UnstakeEntries[validator] {
		if entry.Amount != nil {
			total.Add(total, entry.Amount)
		}
	}
	return total
}

// TotalMatured sums the queued amounts already withdrawable at the given
// epoch.
func (v *Vault) TotalMatured(validator types.AccountID, currentEpoch uint64) *big.Int {
	total := big.NewInt(0)
	for _, entry := range v.UnstakeEntries[validator] {
		if entry.Matured(currentEpoch) && entry.Amount != nil {
			total.Add(total, entry.Amount)
		}
	}
	return total
}

// HasMatured reports whether the head of the validator's queue is
// withdrawable.
func (v *Vault) HasMatured(validator types.AccountID, currentEpoch uint64) bool {
	queue := v.UnstakeEntries[validator]
	return len(queue) > 0 && queue[0].Matured(currentEpoch)
}

// reconcileUnstakeEntries consumes the validator's queue head-first against
// the withdrawn amount. Fully covered entries are dropped; the first entry the
// residual cannot cover stays intact and consumption stops. Withdrawn value
// beyond the queue total is staking reward delivered during withdrawal and is
// absorbed silently.
func (v *Vault) reconcileUnstakeEntries(validator types.AccountID, withdrawn *big.Int) (dropped int) {
	if withdrawn == nil {
		return 0
	}
	queue := v.UnstakeEntries[validator]
	residual := new(big.Int).Set(withdrawn)
	idx := 0
	for idx < len(queue) {
		amount := queue[idx].Amount
		if amount == nil {
			amount = big.NewInt(0)
		}
		if residual.Cmp(amount) < 0 {
			break
		}
		residual.Sub(residual, amount)
		idx++
	}
	if idx == 0 {
		return 0
	}
	remaining := queue[idx:]
	if len(remaining) == 0 {
		delete(v.UnstakeEntries, validator)
	} else {
		v.UnstakeEntries[validator] = append([]UnstakeEntry(nil), remaining...)
	}
	return idx
}

// reconcileAfterWithdraw converts the pool's post-withdraw unstaked balance
// into a withdrawn delta and reconciles the local queue against it.
func (v *Vault) reconcileAfterWithdraw(validator types.AccountID, remaining *big.Int) (withdrawn *big.Int, dropped int) {
	totalBefore := v.TotalUnstaked(validator)
	if remaining == nil {
		remaining = big.NewInt(0)
	}
	withdrawn = new(big.Int).Sub(totalBefore, remaining)
	if withdrawn.Sign() < 0 {
		withdrawn = big.NewInt(0)
	}
	return withdrawn, v.reconcileUnstakeEntries(validator, withdrawn)
}
