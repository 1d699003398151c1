package vault

import (
	"errors"
	"fmt"
	"math/big"

	"sudovault/core/types"
	"sudovault/runtime"
)

var (
	errRequestTokenLocked    = errors.New("vault engine: counter offers pending against this token")
	errNativeLockedForClaims = errors.New("vault engine: cannot withdraw native balance during liquidation")
	errNativeLockedForLoan   = errors.New("vault engine: cannot withdraw native balance while a loan is open")
)

// WithdrawBalance moves funds out of the vault to the recipient, defaulting
// to the owner. A nil token withdraws native balance; otherwise the given
// fungible token. Native withdrawals are blocked while loan collateral is
// committed.
func (e *Engine) WithdrawBalance(ctx CallContext, token *types.AccountID, amount *big.Int, to *types.AccountID) error {
	if err := e.requireOwner(ctx); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if len(e.vault.RefundList) > 0 {
		return errRefundsPending
	}
	if err := e.ensureIdle(); err != nil {
		return err
	}

	recipient := e.vault.Owner
	if to != nil {
		recipient = *to
	}

	if token == nil {
		if e.vault.Liquidation != nil {
			return errNativeLockedForClaims
		}
		if e.vault.AcceptedOffer != nil {
			return errNativeLockedForLoan
		}
		if available := e.AvailableBalance(); amount.Cmp(available) > 0 {
			return fmt.Errorf("%w: requested %s, available %s", errExceedsAvailable, amount, available)
		}
		amount = cloneBigInt(amount)
		e.sched.ScheduleTransfer(e.self, recipient, amount, func(result runtime.Result) {
			e.onWithdrawNative(recipient, amount, result)
		})
		e.persist()
		return nil
	}

	// Token transfers require the 1-yocto safety deposit on the outbound call,
	// so the handler demands it too.
	if err := e.requireOneYocto(ctx); err != nil {
		return err
	}
	if request := e.vault.LiquidityRequest; request != nil && *token == request.Token {
		return errRequestTokenLocked
	}
	tokenID := *token
	amount = cloneBigInt(amount)
	e.sched.Schedule(e.ftTransferCall(tokenID, recipient, amount), func(result runtime.Result) {
		e.onWithdrawToken(tokenID, recipient, amount, result)
	})
	e.persist()
	return nil
}

func (e *Engine) onWithdrawNative(recipient types.AccountID, amount *big.Int, result runtime.Result) {
	if !result.OK() {
		e.emitEvent(EventWithdrawNear,
			"vault", e.self.String(),
			"to", recipient.String(),
			"amount", amountString(amount),
			"error", "transfer failed",
		)
		e.persist()
		return
	}
	e.emitEvent(EventWithdrawNear,
		"vault", e.self.String(),
		"to", recipient.String(),
		"amount", amountString(amount),
	)
	e.persist()
}

func (e *Engine) onWithdrawToken(token, recipient types.AccountID, amount *big.Int, result runtime.Result) {
	if !result.OK() {
		e.emitEvent(EventWithdrawFT,
			"vault", e.self.String(),
			"token", token.String(),
			"to", recipient.String(),
			"amount", amountString(amount),
			"error", "transfer failed",
		)
		e.persist()
		return
	}
	e.emitEvent(EventWithdrawFT,
		"vault", e.self.String(),
		"token", token.String(),
		"to", recipient.String(),
		"amount", amountString(amount),
	)
	e.persist()
}
