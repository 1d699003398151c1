package vault

import (
	"errors"
	"math"
	"math/big"

	"sudovault/core/types"
	"sudovault/runtime"
)

var (
	errLoanNotMatured   = errors.New("vault engine: loan duration has not elapsed")
	errDurationOverflow = errors.New("vault engine: loan duration exceeds supported range")
)

// ProcessClaims liquidates vault collateral toward the lender after the loan
// falls due. It is permissionless: lenders call it themselves and may call it
// repeatedly until the debt is covered. Each invocation drains up to three
// sources in order: liquid balance, matured unbondings, and fresh unstake.
func (e *Engine) ProcessClaims(ctx CallContext) error {
	if err := e.requireOneYocto(ctx); err != nil {
		return err
	}
	request := e.vault.LiquidityRequest
	offer := e.vault.AcceptedOffer
	if request == nil || offer == nil {
		return errNoActiveLoan
	}
	dueAt, err := loanDueAt(offer.AcceptedAt, request.Duration)
	if err != nil {
		return err
	}
	if e.vault.Liquidation == nil {
		if e.sched.Now() < dueAt {
			return errLoanNotMatured
		}
	}
	if err := e.acquireLock(ProcessingClaims); err != nil {
		return err
	}
	e.workflowStarted(ProcessingClaims)

	if e.vault.Liquidation == nil {
		e.vault.Liquidation = &Liquidation{Liquidated: big.NewInt(0)}
		e.emitEvent(EventLiquidationStarted,
			"vault", e.self.String(),
			"lender", offer.Lender.String(),
			"collateral", amountString(request.Collateral),
		)
	}

	e.runLiquidation(false)
	return nil
}

// loanDueAt computes accepted_at + duration seconds in nanoseconds, rejecting
// durations the clock cannot represent.
func loanDueAt(acceptedAt, duration uint64) (uint64, error) {
	if duration > MaxLoanDuration {
		return 0, errDurationOverflow
	}
	durationNs := duration * uint64(1_000_000_000)
	if acceptedAt > math.MaxUint64-durationNs {
		return 0, errDurationOverflow
	}
	return acceptedAt + durationNs, nil
}

// claimsSuperseded reports whether the loan substate a liquidation
// continuation relies on has been cleared, or the claims lock reassigned,
// while the continuation was in flight. A superseded continuation must not
// touch the substate or the lock; both belong to whoever took over.
func (e *Engine) claimsSuperseded() bool {
	v := e.vault
	return v.ProcessingState != ProcessingClaims ||
		v.LiquidityRequest == nil || v.AcceptedOffer == nil || v.Liquidation == nil
}

func (e *Engine) liquidationDebt() *big.Int {
	debt := new(big.Int).Sub(e.vault.LiquidityRequest.Collateral, e.vault.Liquidation.Liquidated)
	if debt.Sign() < 0 {
		return big.NewInt(0)
	}
	return debt
}

// runLiquidation is the liquid-balance tier. afterWithdraw marks the second
// pass of the same invocation, entered once matured unbondings have been
// pulled back, so the matured tier is not attempted twice.
func (e *Engine) runLiquidation(afterWithdraw bool) {
	debt := e.liquidationDebt()
	if debt.Sign() == 0 {
		e.finalizeLiquidation()
		return
	}

	available := e.AvailableBalance()
	payment := new(big.Int).Set(debt)
	if available.Cmp(payment) < 0 {
		payment.Set(available)
	}
	if payment.Sign() > 0 {
		lender := e.vault.AcceptedOffer.Lender
		e.sched.ScheduleTransfer(e.self, lender, payment, func(result runtime.Result) {
			e.onLiquidationPayout(payment, afterWithdraw, result)
		})
		e.persist()
		return
	}
	e.afterLiquidTier(afterWithdraw)
}

func (e *Engine) onLiquidationPayout(payment *big.Int, afterWithdraw bool, result runtime.Result) {
	if e.claimsSuperseded() {
		e.emitEvent(EventLiquidationProgress,
			"vault", e.self.String(),
			"amount", amountString(payment),
			"status", "superseded",
		)
		e.persist()
		return
	}
	if !result.OK() {
		// The funds never left, so there is nothing to refund. The next
		// process_claims call retries the payout.
		e.emitEvent(EventLiquidationProgress,
			"vault", e.self.String(),
			"liquidated", amountString(e.vault.Liquidation.Liquidated),
			"error", "lender payout failed",
		)
		e.workflowFailed(ProcessingClaims)
		e.releaseLock()
		e.persist()
		return
	}

	e.vault.Liquidation.Liquidated = new(big.Int).Add(e.vault.Liquidation.Liquidated, payment)
	e.emitEvent(EventLiquidationProgress,
		"vault", e.self.String(),
		"amount", amountString(payment),
		"liquidated", amountString(e.vault.Liquidation.Liquidated),
	)
	if e.liquidationDebt().Sign() == 0 {
		e.finalizeLiquidation()
		return
	}
	e.afterLiquidTier(afterWithdraw)
}

// afterLiquidTier runs once liquid balance is exhausted and debt remains:
// first matured unbondings, then fresh unstake.
func (e *Engine) afterLiquidTier(afterWithdraw bool) {
	if !afterWithdraw {
		matured, _ := e.vault.unstakeEntryStats(e.sched.Epoch())
		if len(matured) > 0 {
			calls := make([]runtime.Call, len(matured))
			for i, validator := range matured {
				calls[i] = e.withdrawAllCall(validator)
			}
			e.sched.ScheduleBatch(calls, func(results []runtime.Result) {
				e.onLiquidationWithdrawals(matured, results)
			})
			e.persist()
			return
		}
	}
	e.startFreshUnbond()
}

func (e *Engine) onLiquidationWithdrawals(validators []types.AccountID, results []runtime.Result) {
	epoch := e.sched.Epoch()
	for i, validator := range validators {
		if !results[i].OK() {
			// Leave the queue untouched; a later invocation retries.
			continue
		}
		withdrawn := e.vault.TotalMatured(validator, epoch)
		dropped := e.vault.reconcileUnstakeEntries(validator, withdrawn)
		if dropped > 0 {
			e.emitEvent(EventUnstakeEntriesReconciled,
				"vault", e.self.String(),
				"validator", validator.String(),
				"withdrawn", amountString(withdrawn),
				"entries_dropped", uintString(uint64(dropped)),
			)
		}
	}
	// Reconciliation above reflects funds that really arrived and runs even
	// when superseded; continuing the liquidation does not.
	if e.claimsSuperseded() {
		e.persist()
		return
	}
	e.runLiquidation(true)
}

// startFreshUnbond is the last tier: unstake enough new collateral to cover
// the remaining debt. When funds already in the unbond queue plus liquid
// balance cover it, no new unstake is issued and the workflow waits for
// maturation instead.
func (e *Engine) startFreshUnbond() {
	debt := e.liquidationDebt()
	_, maturing := e.vault.unstakeEntryStats(e.sched.Epoch())
	covered := new(big.Int).Add(e.AvailableBalance(), maturing)
	if covered.Cmp(debt) >= 0 {
		e.emitEvent(EventLiquidationProgress,
			"vault", e.self.String(),
			"liquidated", amountString(e.vault.Liquidation.Liquidated),
			"status", "NEAR unstaking",
		)
		e.workflowCompleted(ProcessingClaims)
		e.releaseLock()
		e.persist()
		return
	}

	validators := append([]types.AccountID(nil), e.vault.ActiveValidators...)
	if len(validators) == 0 {
		e.emitEvent(EventLiquidationProgress,
			"vault", e.self.String(),
			"liquidated", amountString(e.vault.Liquidation.Liquidated),
			"status", "no stake left to unbond",
		)
		e.workflowCompleted(ProcessingClaims)
		e.releaseLock()
		e.persist()
		return
	}

	shortfall := new(big.Int).Sub(debt, covered)
	calls := make([]runtime.Call, len(validators))
	for i, validator := range validators {
		calls[i] = e.stakedBalanceCall(validator)
	}
	e.sched.ScheduleBatch(calls, func(results []runtime.Result) {
		e.onLiquidationStakedBalances(validators, shortfall, results)
	})
	e.persist()
}

func (e *Engine) onLiquidationStakedBalances(validators []types.AccountID, shortfall *big.Int, results []runtime.Result) {
	if e.claimsSuperseded() {
		e.persist()
		return
	}
	type allocation struct {
		validator types.AccountID
		amount    *big.Int
	}
	remaining := new(big.Int).Set(shortfall)
	var allocs []allocation
	for i, validator := range validators {
		if remaining.Sign() == 0 {
			break
		}
		staked, err := parseBalance(results[i])
		if err != nil || staked.Sign() == 0 {
			continue
		}
		take := new(big.Int).Set(remaining)
		if staked.Cmp(take) < 0 {
			take.Set(staked)
		}
		allocs = append(allocs, allocation{validator: validator, amount: take})
		remaining.Sub(remaining, take)
	}

	if len(allocs) == 0 {
		e.emitEvent(EventLiquidationProgress,
			"vault", e.self.String(),
			"liquidated", amountString(e.vault.Liquidation.Liquidated),
			"status", "no stake left to unbond",
		)
		e.workflowCompleted(ProcessingClaims)
		e.releaseLock()
		e.persist()
		return
	}

	calls := make([]runtime.Call, len(allocs))
	for i, alloc := range allocs {
		calls[i] = e.unstakeCall(alloc.validator, alloc.amount)
	}
	e.sched.ScheduleBatch(calls, func(results []runtime.Result) {
		epoch := e.sched.Epoch()
		for i, alloc := range allocs {
			if !results[i].OK() {
				e.emitEvent(EventUnstakeFailed,
					"vault", e.self.String(),
					"validator", alloc.validator.String(),
					"amount", amountString(alloc.amount),
					"error", "unstake failed",
				)
				continue
			}
			e.vault.pushUnstakeEntry(alloc.validator, alloc.amount, epoch)
			e.emitEvent(EventUnstakeRecorded,
				"vault", e.self.String(),
				"validator", alloc.validator.String(),
				"amount", amountString(alloc.amount),
				"epoch_height", uintString(epoch),
			)
		}
		// The entries above record unbonds the pools really executed, so the
		// ledger is updated even when superseded.
		if e.claimsSuperseded() {
			e.persist()
			return
		}
		e.emitEvent(EventLiquidationProgress,
			"vault", e.self.String(),
			"liquidated", amountString(e.vault.Liquidation.Liquidated),
			"status", "NEAR unstaking",
		)
		e.workflowCompleted(ProcessingClaims)
		e.releaseLock()
		e.persist()
	})
	e.persist()
}

// finalizeLiquidation clears the whole loan substate in one turn once the
// collateral target is met, then releases the lock.
func (e *Engine) finalizeLiquidation() {
	lender := e.vault.AcceptedOffer.Lender
	liquidated := e.vault.Liquidation.Liquidated

	e.vault.LiquidityRequest = nil
	e.vault.PendingLiquidityRequest = nil
	e.vault.AcceptedOffer = nil
	e.vault.Liquidation = nil

	e.emitEvent(EventLiquidationComplete,
		"vault", e.self.String(),
		"lender", lender.String(),
		"liquidated", amountString(liquidated),
	)
	e.workflowCompleted(ProcessingClaims)
	e.releaseLock()
	e.persist()
}
