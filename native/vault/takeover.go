package vault

import (
	"errors"
	"fmt"

	"sudovault/core/types"
	"sudovault/runtime"
)

var (
	errAlreadyListed    = errors.New("vault engine: already listed for takeover")
	errNotListed        = errors.New("vault engine: not listed for takeover")
	errOwnerCannotClaim = errors.New("vault engine: owner cannot claim their own vault")
	errWrongDeposit     = errors.New("vault engine: deposit must equal storage cost")
)

// ListForTakeover puts the vault on the market. A claimant later pays the
// storage cost to the current owner and takes over.
func (e *Engine) ListForTakeover(ctx CallContext) error {
	if err := e.requireOneYocto(ctx); err != nil {
		return err
	}
	if err := e.requireOwner(ctx); err != nil {
		return err
	}
	if err := e.ensureIdle(); err != nil {
		return err
	}
	if e.vault.IsListedForTakeover {
		return errAlreadyListed
	}
	e.vault.IsListedForTakeover = true
	e.emitEvent(EventVaultListedForTakeover,
		"vault", e.self.String(),
		"owner", e.vault.Owner.String(),
		"storage_cost", amountString(e.StorageCost()),
	)
	e.persist()
	return nil
}

// CancelTakeover delists the vault.
func (e *Engine) CancelTakeover(ctx CallContext) error {
	if err := e.requireOneYocto(ctx); err != nil {
		return err
	}
	if err := e.requireOwner(ctx); err != nil {
		return err
	}
	if err := e.ensureIdle(); err != nil {
		return err
	}
	if !e.vault.IsListedForTakeover {
		return errNotListed
	}
	e.vault.IsListedForTakeover = false
	e.emitEvent(EventVaultTakeoverCancelled,
		"vault", e.self.String(),
		"owner", e.vault.Owner.String(),
	)
	e.persist()
	return nil
}

// ClaimVault transfers ownership to the caller against payment of exactly the
// storage cost, which is forwarded to the current owner. Ownership only
// commits once the payment lands; any failure restores the listing and
// records a refund for the claimant.
func (e *Engine) ClaimVault(ctx CallContext) error {
	if !e.vault.IsListedForTakeover {
		return errNotListed
	}
	if ctx.Caller == e.vault.Owner {
		return errOwnerCannotClaim
	}
	if err := e.ensureIdle(); err != nil {
		return err
	}
	cost := e.StorageCost()
	if ctx.Deposit == nil || ctx.Deposit.Cmp(cost) != 0 {
		return fmt.Errorf("%w: expected %s", errWrongDeposit, cost)
	}
	if err := e.sched.Debit(ctx.Caller, cost); err != nil {
		return err
	}
	e.sched.Credit(e.self, cost)

	if err := e.acquireLock(ProcessingClaimVault); err != nil {
		return err
	}
	e.workflowStarted(ProcessingClaimVault)

	claimant := ctx.Caller
	oldOwner := e.vault.Owner
	e.vault.IsListedForTakeover = false

	e.sched.ScheduleTransfer(e.self, oldOwner, cost, func(result runtime.Result) {
		e.onClaimVaultPayment(claimant, oldOwner, result)
	})
	e.persist()
	return nil
}

func (e *Engine) onClaimVaultPayment(claimant, oldOwner types.AccountID, result runtime.Result) {
	cost := e.StorageCost()
	epoch := e.sched.Epoch()

	switch {
	case !result.OK():
		e.emitEvent(EventClaimVaultFailed,
			"vault", e.self.String(),
			"claimant", claimant.String(),
			"error", "payment to previous owner failed",
		)
		e.vault.IsListedForTakeover = true
		e.addRefundEntry(nil, claimant, cost, epoch, nil)
		e.workflowFailed(ProcessingClaimVault)

	case e.vault.Owner != oldOwner:
		// Ownership moved while the payment was in flight; the claim is stale
		// and the claimant gets their deposit back through the ledger.
		e.emitEvent(EventClaimVaultStale,
			"vault", e.self.String(),
			"claimant", claimant.String(),
			"owner", e.vault.Owner.String(),
		)
		e.vault.IsListedForTakeover = true
		e.addRefundEntry(nil, claimant, cost, epoch, nil)
		e.workflowFailed(ProcessingClaimVault)

	default:
		e.vault.Owner = claimant
		e.emitEvent(EventVaultClaimed,
			"vault", e.self.String(),
			"old_owner", oldOwner.String(),
			"new_owner", claimant.String(),
			"storage_cost", amountString(cost),
		)
		e.workflowCompleted(ProcessingClaimVault)
	}

	e.releaseLock()
	e.persist()
}
