package vault

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"sudovault/core/types"
	"sudovault/runtime"
)

var (
	errNoUnstakeEntries = errors.New("vault engine: no unstake entries for validator")
	errNotYetClaimable  = errors.New("vault engine: unstaked funds not yet claimable")
	errClaimDuringLiq   = errors.New("vault engine: cannot claim unstaked while liquidation is in progress")
)

// ClaimUnstaked withdraws matured unbonded balance from a validator and
// reconciles the local queue against what actually arrived.
func (e *Engine) ClaimUnstaked(ctx CallContext, validator types.AccountID) error {
	if err := e.requireOneYocto(ctx); err != nil {
		return err
	}
	if err := e.requireOwner(ctx); err != nil {
		return err
	}
	queue := e.vault.UnstakeEntries[validator]
	if len(queue) == 0 {
		return errNoUnstakeEntries
	}
	currentEpoch := e.sched.Epoch()
	if !queue[0].Matured(currentEpoch) {
		return fmt.Errorf("%w (current_epoch: %d, required_epoch: %d)",
			errNotYetClaimable, currentEpoch, queue[0].Epoch+NumEpochsToUnlock)
	}
	if e.vault.Liquidation != nil {
		return errClaimDuringLiq
	}
	if err := e.acquireLock(ProcessingClaimUnstaked); err != nil {
		return err
	}
	e.workflowStarted(ProcessingClaimUnstaked)

	e.emitEvent(EventClaimUnstakedStarted,
		"vault", e.self.String(),
		"validator", validator.String(),
	)

	e.sched.Schedule(e.withdrawAllCall(validator), func(result runtime.Result) {
		e.onClaimWithdrawAll(validator, result)
	})
	e.persist()
	return nil
}

func (e *Engine) onClaimWithdrawAll(validator types.AccountID, result runtime.Result) {
	if !result.OK() {
		e.failClaimUnstaked(validator, "withdraw_all failed")
		return
	}
	e.sched.Schedule(e.unstakedBalanceCall(validator), func(result runtime.Result) {
		e.onClaimUnstakedBalance(validator, result)
	})
	e.persist()
}

func (e *Engine) onClaimUnstakedBalance(validator types.AccountID, result runtime.Result) {
	remaining, err := parseBalance(result)
	if err != nil {
		e.failClaimUnstaked(validator, "unstaked balance query failed")
		return
	}
	withdrawn, dropped := e.vault.reconcileAfterWithdraw(validator, remaining)
	e.emitEvent(EventUnstakeEntriesReconciled,
		"vault", e.self.String(),
		"validator", validator.String(),
		"withdrawn", amountString(withdrawn),
		"entries_dropped", uintString(uint64(dropped)),
	)
	e.emitEvent(EventClaimUnstakedCompleted,
		"vault", e.self.String(),
		"validator", validator.String(),
		"withdrawn", amountString(withdrawn),
	)
	e.workflowCompleted(ProcessingClaimUnstaked)
	e.releaseLock()
	e.persist()
}

func (e *Engine) failClaimUnstaked(validator types.AccountID, reason string) {
	e.emitEvent(EventClaimUnstakedCompleted,
		"vault", e.self.String(),
		"validator", validator.String(),
		"error", reason,
	)
	e.workflowFailed(ProcessingClaimUnstaked)
	e.releaseLock()
	e.persist()
}

// matured reports validators holding at least one matured head entry along
// with the total still-maturing amount across all queues.
func (v *Vault) unstakeEntryStats(currentEpoch uint64) (maturedValidators []types.AccountID, maturingTotal *big.Int) {
	maturingTotal = big.NewInt(0)
	for validator, queue := range v.UnstakeEntries {
		hasMatured := false
		for _, entry := range queue {
			if entry.Matured(currentEpoch) {
				hasMatured = true
			} else if entry.Amount != nil {
				maturingTotal.Add(maturingTotal, entry.Amount)
			}
		}
		if hasMatured {
			maturedValidators = append(maturedValidators, validator)
		}
	}
	sort.Slice(maturedValidators, func(i, j int) bool { return maturedValidators[i] < maturedValidators[j] })
	return maturedValidators, maturingTotal
}
