package vault

import (
	"errors"
	"math/big"
	"strconv"

	"sudovault/runtime"
)

var (
	errNoActiveLoan       = errors.New("vault engine: no accepted loan to repay")
	errLiquidationStarted = errors.New("vault engine: loan is past due, repayment window closed")
)

// RepayLoan settles an accepted loan by transferring principal plus interest
// back to the lender. The loan stays open if the token transfer fails, so the
// owner can retry.
func (e *Engine) RepayLoan(ctx CallContext) error {
	if err := e.requireOneYocto(ctx); err != nil {
		return err
	}
	if err := e.requireOwner(ctx); err != nil {
		return err
	}
	request := e.vault.LiquidityRequest
	offer := e.vault.AcceptedOffer
	if request == nil || offer == nil {
		return errNoActiveLoan
	}
	if e.vault.Liquidation != nil {
		return errLiquidationStarted
	}
	if err := e.acquireLock(ProcessingRepayLoan); err != nil {
		return err
	}
	e.workflowStarted(ProcessingRepayLoan)

	total := new(big.Int).Add(request.Amount, request.Interest)
	e.sched.Schedule(e.ftTransferCall(request.Token, offer.Lender, total), func(result runtime.Result) {
		e.onRepayLoan(total, result)
	})
	e.persist()
	return nil
}

func (e *Engine) onRepayLoan(total *big.Int, result runtime.Result) {
	request := e.vault.LiquidityRequest
	offer := e.vault.AcceptedOffer
	if e.vault.ProcessingState != ProcessingRepayLoan || request == nil || offer == nil {
		// The lock was stale-evicted while the transfer was in flight and
		// another workflow owns the loan substate now. Record the outcome and
		// leave both the substate and the lock to the new holder.
		e.emitEvent(EventRepayLoanStale,
			"vault", e.self.String(),
			"amount", amountString(total),
			"delivered", strconv.FormatBool(result.OK()),
		)
		e.persist()
		return
	}
	if !result.OK() {
		e.emitEvent(EventRepayLoanFailed,
			"vault", e.self.String(),
			"lender", offer.Lender.String(),
			"amount", amountString(total),
			"error", "token transfer failed",
		)
		e.workflowFailed(ProcessingRepayLoan)
		e.releaseLock()
		e.persist()
		return
	}

	e.vault.LiquidityRequest = nil
	e.vault.AcceptedOffer = nil
	e.emitEvent(EventRepayLoanSuccessful,
		"vault", e.self.String(),
		"lender", offer.Lender.String(),
		"token", request.Token.String(),
		"amount", amountString(total),
	)
	e.workflowCompleted(ProcessingRepayLoan)
	e.releaseLock()
	e.persist()
}
