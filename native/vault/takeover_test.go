package vault

import (
	"errors"
	"math/big"
	"testing"

	"sudovault/core/types"
)

const testClaimant = types.AccountID("claimant.testnet")

func (env *testEnv) listVault() {
	env.t.Helper()
	if err := env.engine.ListForTakeover(env.ownerCtx()); err != nil {
		env.t.Fatalf("list for takeover: %v", err)
	}
}

func claimCtx(claimant types.AccountID, deposit *big.Int) CallContext {
	return CallContext{Caller: claimant, Deposit: new(big.Int).Set(deposit)}
}

func TestListAndCancelTakeover(t *testing.T) {
	env := newTestEnv(t)

	env.listVault()
	if !env.vault.IsListedForTakeover {
		t.Fatal("vault must be listed")
	}
	if !env.hasEvent(EventVaultListedForTakeover) {
		t.Fatalf("expected listing event, got %v", env.emitter.Names())
	}
	if err := env.engine.ListForTakeover(env.ownerCtx()); !errors.Is(err, errAlreadyListed) {
		t.Fatalf("double listing: %v", err)
	}

	if err := env.engine.CancelTakeover(env.ownerCtx()); err != nil {
		t.Fatalf("cancel takeover: %v", err)
	}
	if env.vault.IsListedForTakeover {
		t.Fatal("vault must be delisted")
	}
	if err := env.engine.CancelTakeover(env.ownerCtx()); !errors.Is(err, errNotListed) {
		t.Fatalf("double cancel: %v", err)
	}
}

func TestClaimVaultTransfersOwnership(t *testing.T) {
	env := newTestEnv(t)
	env.listVault()

	cost := env.engine.StorageCost()
	env.sched.Credit(testClaimant, cost)
	ownerBefore := env.sched.Balance(testOwner)

	if err := env.engine.ClaimVault(claimCtx(testClaimant, cost)); err != nil {
		t.Fatalf("claim vault: %v", err)
	}
	env.drain()

	if env.vault.Owner != testClaimant {
		t.Fatalf("owner %s, want %s", env.vault.Owner, testClaimant)
	}
	if env.vault.IsListedForTakeover {
		t.Fatal("listing must clear on takeover")
	}
	ownerGain := new(big.Int).Sub(env.sched.Balance(testOwner), ownerBefore)
	mustEqualBig(t, cost, ownerGain, "previous owner payment")
	mustEqualBig(t, big.NewInt(0), env.sched.Balance(testClaimant), "claimant spent deposit")
	if !env.hasEvent(EventVaultClaimed) {
		t.Fatalf("expected claim event, got %v", env.emitter.Names())
	}
	env.requireIdle()
}

func TestClaimVaultPreconditions(t *testing.T) {
	env := newTestEnv(t)
	cost := env.engine.StorageCost()

	if err := env.engine.ClaimVault(claimCtx(testClaimant, cost)); !errors.Is(err, errNotListed) {
		t.Fatalf("unlisted claim: %v", err)
	}

	env.listVault()
	if err := env.engine.ClaimVault(claimCtx(testOwner, cost)); !errors.Is(err, errOwnerCannotClaim) {
		t.Fatalf("owner claim: %v", err)
	}
	short := new(big.Int).Sub(cost, big.NewInt(1))
	if err := env.engine.ClaimVault(claimCtx(testClaimant, short)); !errors.Is(err, errWrongDeposit) {
		t.Fatalf("short deposit: %v", err)
	}
	// Exact deposit but no backing balance fails at the ledger.
	if err := env.engine.ClaimVault(claimCtx(testClaimant, cost)); err == nil {
		t.Fatal("unfunded claim must fail")
	}
}

func TestClaimVaultPaymentFailureRestoresListing(t *testing.T) {
	env := newTestEnv(t)
	env.listVault()

	cost := env.engine.StorageCost()
	env.sched.Credit(testClaimant, cost)
	env.sched.MarkDeleted(testOwner)

	if err := env.engine.ClaimVault(claimCtx(testClaimant, cost)); err != nil {
		t.Fatalf("claim vault: %v", err)
	}
	env.drain()

	if env.vault.Owner != testOwner {
		t.Fatal("ownership must not move on failed payment")
	}
	if !env.vault.IsListedForTakeover {
		t.Fatal("listing must be restored")
	}
	if !env.hasEvent(EventClaimVaultFailed) {
		t.Fatalf("expected failure event, got %v", env.emitter.Names())
	}
	env.requireIdle()

	if len(env.vault.RefundList) != 1 {
		t.Fatalf("refund entries %d, want 1", len(env.vault.RefundList))
	}
	var entry *RefundEntry
	for _, e := range env.vault.RefundList {
		entry = e
	}
	if entry.Token != nil {
		t.Fatal("takeover refund must be native")
	}
	if entry.Proposer != testClaimant {
		t.Fatalf("refund proposer %s, want %s", entry.Proposer, testClaimant)
	}
	mustEqualBig(t, cost, entry.Amount, "refund amount")

	// The claimant recovers their deposit themselves.
	if err := env.engine.RetryRefunds(env.ctx(testClaimant)); err != nil {
		t.Fatalf("retry refunds: %v", err)
	}
	env.drain()
	mustEqualBig(t, cost, env.sched.Balance(testClaimant), "recovered deposit")
	if len(env.vault.RefundList) != 0 {
		t.Fatal("refund ledger must empty")
	}
}

func TestClaimVaultStaleWhenOwnershipMovedInFlight(t *testing.T) {
	env := newTestEnv(t)
	env.listVault()

	cost := env.engine.StorageCost()
	env.sched.Credit(testClaimant, cost)
	if err := env.engine.ClaimVault(claimCtx(testClaimant, cost)); err != nil {
		t.Fatalf("claim vault: %v", err)
	}

	// Ownership moves while the payment is still queued.
	newOwner := types.AccountID("handoff.testnet")
	if err := env.engine.TransferOwnership(env.ownerCtx(), newOwner); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	env.drain()

	if env.vault.Owner != newOwner {
		t.Fatalf("owner %s, want %s", env.vault.Owner, newOwner)
	}
	if !env.vault.IsListedForTakeover {
		t.Fatal("stale claim must restore the listing")
	}
	if !env.hasEvent(EventClaimVaultStale) {
		t.Fatalf("expected stale event, got %v", env.emitter.Names())
	}
	// The claimant's deposit comes back through the refund ledger.
	if len(env.vault.RefundList) != 1 {
		t.Fatalf("refund entries %d, want 1", len(env.vault.RefundList))
	}
	env.requireIdle()
}

func TestTransferOwnershipValidation(t *testing.T) {
	env := newTestEnv(t)

	if err := env.engine.TransferOwnership(env.ownerCtx(), testOwner); !errors.Is(err, errSameOwner) {
		t.Fatalf("self transfer: %v", err)
	}
	if err := env.engine.TransferOwnership(env.ctx(testLender), testLender); !errors.Is(err, errNotOwner) {
		t.Fatalf("non-owner transfer: %v", err)
	}
	if err := env.engine.TransferOwnership(env.ownerCtx(), types.AccountID("UPPER")); !errors.Is(err, errInvalidAccount) {
		t.Fatalf("invalid account: %v", err)
	}

	if err := env.engine.TransferOwnership(env.ownerCtx(), testLender); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	if env.vault.Owner != testLender {
		t.Fatalf("owner %s, want %s", env.vault.Owner, testLender)
	}
	if !env.hasEvent(EventOwnershipTransferred) {
		t.Fatalf("expected transfer event, got %v", env.emitter.Names())
	}
}
