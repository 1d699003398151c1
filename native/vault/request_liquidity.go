package vault

import (
	"errors"
	"math/big"

	"sudovault/core/types"
	"sudovault/runtime"
)

var (
	errRequestOpen        = errors.New("vault engine: a request is already open")
	errRequestPending     = errors.New("vault engine: a liquidity request is already in progress")
	errRequestAccepted    = errors.New("vault engine: vault is already matched with a lender")
	errOffersOutstanding  = errors.New("vault engine: counter offers must be cleared")
	errInvalidCollateral  = errors.New("vault engine: collateral must be positive")
	errInvalidDuration    = errors.New("vault engine: loan duration exceeds supported range")
	errNoActiveValidators = errors.New("vault engine: no active validators to collateralize against")
)

// RequestLiquidity opens a loan request once the vault's delegated stake is
// verified to cover the collateral. The request sits in a pending slot while
// the asynchronous stake check runs.
func (e *Engine) RequestLiquidity(ctx CallContext, token types.AccountID, amount, interest, collateral *big.Int, duration uint64) error {
	if err := e.requireOneYocto(ctx); err != nil {
		return err
	}
	if err := e.requireOwner(ctx); err != nil {
		return err
	}
	if e.vault.PendingLiquidityRequest != nil {
		return errRequestPending
	}
	if e.vault.LiquidityRequest != nil {
		return errRequestOpen
	}
	if e.vault.AcceptedOffer != nil {
		return errRequestAccepted
	}
	if e.vault.CounterOfferCount() > 0 {
		return errOffersOutstanding
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if collateral == nil || collateral.Sign() <= 0 {
		return errInvalidCollateral
	}
	if duration == 0 || duration > MaxLoanDuration {
		return errInvalidDuration
	}
	if len(e.vault.ActiveValidators) == 0 {
		return errNoActiveValidators
	}
	if err := e.acquireLock(ProcessingRequestLiquidity); err != nil {
		return err
	}
	e.workflowStarted(ProcessingRequestLiquidity)

	e.vault.PendingLiquidityRequest = &PendingLiquidityRequest{
		Token:      token,
		Amount:     cloneBigInt(amount),
		Interest:   cloneBigInt(interest),
		Collateral: cloneBigInt(collateral),
		Duration:   duration,
	}

	validators := append([]types.AccountID(nil), e.vault.ActiveValidators...)
	calls := make([]runtime.Call, len(validators))
	for i, validator := range validators {
		calls[i] = e.stakedBalanceCall(validator)
	}
	e.sched.ScheduleBatch(calls, func(results []runtime.Result) {
		e.onCheckTotalStaked(validators, results)
	})
	e.persist()
	return nil
}

func (e *Engine) onCheckTotalStaked(validators []types.AccountID, results []runtime.Result) {
	pending := e.vault.PendingLiquidityRequest
	e.vault.PendingLiquidityRequest = nil
	if pending == nil {
		e.workflowFailed(ProcessingRequestLiquidity)
		e.releaseLock()
		e.persist()
		return
	}

	totalStaked := big.NewInt(0)
	for i, result := range results {
		if i >= len(validators) {
			break
		}
		staked, err := parseBalance(result)
		if err != nil {
			continue
		}
		totalStaked.Add(totalStaked, staked)
		if staked.Sign() == 0 {
			if e.vault.RemoveActiveValidator(validators[i]) {
				e.emitEvent(EventValidatorRemoved,
					"vault", e.self.String(),
					"validator", validators[i].String(),
				)
			}
		}
	}

	if totalStaked.Cmp(pending.Collateral) < 0 {
		e.emitEvent(EventLiquidityRequestInsufficientStake,
			"vault", e.self.String(),
			"total_staked", amountString(totalStaked),
			"collateral", amountString(pending.Collateral),
		)
		e.workflowFailed(ProcessingRequestLiquidity)
		e.releaseLock()
		e.persist()
		return
	}

	e.vault.LiquidityRequest = &LiquidityRequest{
		Token:      pending.Token,
		Amount:     pending.Amount,
		Interest:   pending.Interest,
		Collateral: pending.Collateral,
		Duration:   pending.Duration,
		CreatedAt:  e.sched.Now(),
	}
	e.emitEvent(EventLiquidityRequestOpened,
		"vault", e.self.String(),
		"token", pending.Token.String(),
		"amount", amountString(pending.Amount),
		"interest", amountString(pending.Interest),
		"collateral", amountString(pending.Collateral),
		"duration", uintString(pending.Duration),
	)
	e.workflowCompleted(ProcessingRequestLiquidity)
	e.releaseLock()
	e.persist()
}

// CancelLiquidityRequest closes an open, unaccepted request and refunds every
// counter offer.
func (e *Engine) CancelLiquidityRequest(ctx CallContext) error {
	if err := e.requireOneYocto(ctx); err != nil {
		return err
	}
	if err := e.requireOwner(ctx); err != nil {
		return err
	}
	request := e.vault.LiquidityRequest
	if request == nil {
		return errors.New("vault engine: no active liquidity request")
	}
	if e.vault.AcceptedOffer != nil {
		return errors.New("vault engine: cannot cancel after an offer has been accepted")
	}
	if err := e.ensureIdle(); err != nil {
		return err
	}

	token := request.Token
	for _, offer := range e.sortedCounterOffers() {
		e.refundCounterOffer(token, offer)
	}
	e.vault.CounterOffers = nil
	e.vault.LiquidityRequest = nil

	e.emitEvent(EventLiquidityRequestCancelled,
		"vault", e.self.String(),
	)
	e.persist()
	return nil
}
