package vault

import (
	"errors"
	"fmt"
	"math/big"

	"sudovault/core/types"
	"sudovault/runtime"
)

var (
	errValidatorNotActive = errors.New("vault engine: validator is not currently active")
	errLoanActive         = errors.New("vault engine: cannot undelegate while a loan is active")
	errInsufficientStake  = errors.New("vault engine: staked balance below requested amount")
)

// Undelegate requests a staking pool to release stake. The released amount
// enters the per-validator unbond queue and matures NumEpochsToUnlock epochs
// later.
func (e *Engine) Undelegate(ctx CallContext, validator types.AccountID, amount *big.Int) error {
	if err := e.requireOneYocto(ctx); err != nil {
		return err
	}
	if err := e.requireOwner(ctx); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if !e.vault.IsActiveValidator(validator) {
		return errValidatorNotActive
	}
	if e.vault.AcceptedOffer != nil {
		return errLoanActive
	}
	if err := e.acquireLock(ProcessingUndelegate); err != nil {
		return err
	}
	e.workflowStarted(ProcessingUndelegate)
	amount = cloneBigInt(amount)

	e.emitEvent(EventUndelegateStarted,
		"vault", e.self.String(),
		"validator", validator.String(),
		"amount", amountString(amount),
	)

	e.sched.Schedule(e.stakedBalanceCall(validator), func(result runtime.Result) {
		e.onUndelegateStakedBalance(validator, amount, result)
	})
	e.persist()
	return nil
}

func (e *Engine) onUndelegateStakedBalance(validator types.AccountID, amount *big.Int, result runtime.Result) {
	staked, err := parseBalance(result)
	if err != nil {
		e.failUndelegate(validator, amount, "staked balance query failed")
		return
	}
	if staked.Cmp(amount) < 0 {
		e.failUndelegate(validator, amount, fmt.Sprintf("%v: staked %s", errInsufficientStake, staked))
		return
	}
	shouldRemove := staked.Cmp(amount) == 0

	e.emitEvent(EventUndelegateCheckPassed,
		"vault", e.self.String(),
		"validator", validator.String(),
		"staked", amountString(staked),
	)

	e.sched.Schedule(e.withdrawAllCall(validator), func(result runtime.Result) {
		e.onUndelegateWithdrawAll(validator, amount, shouldRemove, result)
	})
	e.persist()
}

func (e *Engine) onUndelegateWithdrawAll(validator types.AccountID, amount *big.Int, shouldRemove bool, result runtime.Result) {
	if !result.OK() {
		e.failUndelegate(validator, amount, "withdraw_all failed")
		return
	}
	e.sched.Schedule(e.unstakedBalanceCall(validator), func(result runtime.Result) {
		e.onUndelegateUnstakedBalance(validator, amount, shouldRemove, result)
	})
	e.persist()
}

func (e *Engine) onUndelegateUnstakedBalance(validator types.AccountID, amount *big.Int, shouldRemove bool, result runtime.Result) {
	remaining, err := parseBalance(result)
	if err != nil {
		e.failUndelegate(validator, amount, "unstaked balance query failed")
		return
	}
	withdrawn, dropped := e.vault.reconcileAfterWithdraw(validator, remaining)
	if dropped > 0 {
		e.emitEvent(EventUnstakeEntriesReconciled,
			"vault", e.self.String(),
			"validator", validator.String(),
			"withdrawn", amountString(withdrawn),
			"entries_dropped", uintString(uint64(dropped)),
		)
	}

	e.emitEvent(EventUndelegateInitiated,
		"vault", e.self.String(),
		"validator", validator.String(),
		"amount", amountString(amount),
	)

	e.sched.Schedule(e.unstakeCall(validator, amount), func(result runtime.Result) {
		e.onUnstake(validator, amount, shouldRemove, result)
	})
	e.persist()
}

func (e *Engine) onUnstake(validator types.AccountID, amount *big.Int, shouldRemove bool, result runtime.Result) {
	if !result.OK() {
		// No unbond happened on the pool, so no entry is recorded; the ledger
		// stays truthful.
		e.emitEvent(EventUnstakeFailed,
			"vault", e.self.String(),
			"validator", validator.String(),
			"amount", amountString(amount),
		)
		e.workflowFailed(ProcessingUndelegate)
		e.releaseLock()
		e.persist()
		return
	}

	epoch := e.sched.Epoch()
	e.vault.pushUnstakeEntry(validator, amount, epoch)
	e.emitEvent(EventUnstakeRecorded,
		"vault", e.self.String(),
		"validator", validator.String(),
		"amount", amountString(amount),
		"epoch_height", uintString(epoch),
	)
	if shouldRemove && e.vault.RemoveActiveValidator(validator) {
		e.emitEvent(EventValidatorRemoved,
			"vault", e.self.String(),
			"validator", validator.String(),
		)
	}
	e.emitEvent(EventUndelegateCompleted,
		"vault", e.self.String(),
		"validator", validator.String(),
		"amount", amountString(amount),
	)
	e.workflowCompleted(ProcessingUndelegate)
	e.releaseLock()
	e.persist()
}

func (e *Engine) failUndelegate(validator types.AccountID, amount *big.Int, reason string) {
	e.emitEvent(EventUnstakeFailed,
		"vault", e.self.String(),
		"validator", validator.String(),
		"amount", amountString(amount),
		"error", reason,
	)
	e.workflowFailed(ProcessingUndelegate)
	e.releaseLock()
	e.persist()
}
