package vault

import (
	"errors"
	"fmt"
	"math/big"

	"sudovault/core/types"
	"sudovault/runtime"
)

var (
	errLiquidationActive = errors.New("vault engine: cannot delegate while liquidation is in progress")
	errTooManyValidators = errors.New("vault engine: active validator limit reached")
	errExceedsAvailable  = errors.New("vault engine: amount exceeds available balance")
)

// Delegate moves available native balance into a staking pool. When pending
// unbondings exist for the validator the engine first withdraws and
// reconciles them, so the local ledger never drifts from the pool.
func (e *Engine) Delegate(ctx CallContext, validator types.AccountID, amount *big.Int) error {
	if err := e.requireOneYocto(ctx); err != nil {
		return err
	}
	if err := e.requireOwner(ctx); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if available := e.AvailableBalance(); amount.Cmp(available) > 0 {
		return fmt.Errorf("%w: requested %s, available %s", errExceedsAvailable, amount, available)
	}
	if len(e.vault.RefundList) > 0 {
		return errRefundsPending
	}
	if e.vault.Liquidation != nil {
		return errLiquidationActive
	}
	if !e.vault.IsActiveValidator(validator) && len(e.vault.ActiveValidators) >= MaxActiveValidators {
		return fmt.Errorf("%w: at most %d validators", errTooManyValidators, MaxActiveValidators)
	}
	if err := e.acquireLock(ProcessingDelegate); err != nil {
		return err
	}
	e.workflowStarted(ProcessingDelegate)
	amount = cloneBigInt(amount)

	e.emitEvent(EventDelegateStarted,
		"vault", e.self.String(),
		"validator", validator.String(),
		"amount", amountString(amount),
	)

	if len(e.vault.UnstakeEntries[validator]) == 0 {
		// Fast path: nothing to reconcile, stake directly.
		e.emitEvent(EventDelegateDirect,
			"vault", e.self.String(),
			"validator", validator.String(),
		)
		e.sched.Schedule(e.depositAndStakeCall(validator, amount), func(result runtime.Result) {
			e.onDepositAndStake(validator, amount, result)
		})
		e.persist()
		return nil
	}

	// Slow path: withdraw matured unbondings first so the queue reflects only
	// still-bonding funds before new stake lands.
	e.sched.Schedule(e.withdrawAllCall(validator), func(result runtime.Result) {
		e.onDelegateWithdrawAll(validator, amount, result)
	})
	e.persist()
	return nil
}

func (e *Engine) onDelegateWithdrawAll(validator types.AccountID, amount *big.Int, result runtime.Result) {
	if !result.OK() {
		e.failDelegate(validator, amount, "withdraw_all failed")
		return
	}
	e.sched.Schedule(e.unstakedBalanceCall(validator), func(result runtime.Result) {
		e.onDelegateUnstakedBalance(validator, amount, result)
	})
	e.persist()
}

func (e *Engine) onDelegateUnstakedBalance(validator types.AccountID, amount *big.Int, result runtime.Result) {
	remaining, err := parseBalance(result)
	if err != nil {
		e.failDelegate(validator, amount, "unstaked balance query failed")
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
	e.sched.Schedule(e.depositAndStakeCall(validator, amount), func(result runtime.Result) {
		e.onDepositAndStake(validator, amount, result)
	})
	e.persist()
}

func (e *Engine) onDepositAndStake(validator types.AccountID, amount *big.Int, result runtime.Result) {
	if !result.OK() {
		e.failDelegate(validator, amount, "deposit_and_stake failed")
		return
	}
	if e.vault.AddActiveValidator(validator) {
		e.emitEvent(EventValidatorActivated,
			"vault", e.self.String(),
			"validator", validator.String(),
		)
	}
	e.emitEvent(EventDelegateCompleted,
		"vault", e.self.String(),
		"validator", validator.String(),
		"amount", amountString(amount),
	)
	e.workflowCompleted(ProcessingDelegate)
	e.releaseLock()
	e.persist()
}

func (e *Engine) failDelegate(validator types.AccountID, amount *big.Int, reason string) {
	e.emitEvent(EventDelegateFailed,
		"vault", e.self.String(),
		"validator", validator.String(),
		"amount", amountString(amount),
		"error", reason,
	)
	e.workflowFailed(ProcessingDelegate)
	e.releaseLock()
	e.persist()
}
