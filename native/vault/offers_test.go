package vault

import (
	"fmt"
	"math/big"
	"testing"

	"sudovault/core/types"
)

func openTestRequest(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	env.delegateAll(testVal1, near(5))
	env.openRequest(bi(1_000_000), bi(100_000), near(5), 86_400)
	return env
}

func lenderN(i int) types.AccountID {
	return types.AccountID(fmt.Sprintf("lender%d.testnet", i))
}

func TestCounterOfferBookBoundaries(t *testing.T) {
	env := openTestRequest(t)

	// Equal to the requested amount is not a counter offer.
	if kept := env.sendOffer(lenderN(1), bi(1_000_000)); kept.Sign() != 0 {
		t.Fatalf("offer at request amount must be refunded, kept %s", kept)
	}
	if env.vault.CounterOfferCount() != 0 {
		t.Fatal("rejected offer must not enter the book")
	}

	if kept := env.sendOffer(lenderN(1), bi(500_000)); kept.Cmp(bi(500_000)) != 0 {
		t.Fatalf("valid offer refused, kept %s", kept)
	}

	// Equal to the current best is not an improvement.
	if kept := env.sendOffer(lenderN(2), bi(500_000)); kept.Sign() != 0 {
		t.Fatalf("offer equal to best must be refunded, kept %s", kept)
	}
	// One above the best is.
	if kept := env.sendOffer(lenderN(2), bi(500_001)); kept.Cmp(bi(500_001)) != 0 {
		t.Fatalf("best+1 refused, kept %s", kept)
	}
	if env.vault.CounterOfferCount() != 2 {
		t.Fatalf("book size %d, want 2", env.vault.CounterOfferCount())
	}
}

func TestCounterOfferDuplicateProposerRejected(t *testing.T) {
	env := openTestRequest(t)
	if kept := env.sendOffer(lenderN(1), bi(100_000)); kept.Sign() == 0 {
		t.Fatal("first offer refused")
	}
	if kept := env.sendOffer(lenderN(1), bi(200_000)); kept.Sign() != 0 {
		t.Fatalf("duplicate proposer must be refunded, kept %s", kept)
	}
}

func TestCounterOfferEvictionKeepsBookBounded(t *testing.T) {
	env := openTestRequest(t)
	for i := 0; i < MaxCounterOffers; i++ {
		offered := bi(int64(100_000 + i*10_000))
		if kept := env.sendOffer(lenderN(i+1), offered); kept.Sign() == 0 {
			t.Fatalf("offer %d refused", i+1)
		}
	}
	if env.vault.CounterOfferCount() != MaxCounterOffers {
		t.Fatalf("book size %d, want %d", env.vault.CounterOfferCount(), MaxCounterOffers)
	}

	// The eighth, better offer evicts exactly the single lowest entry.
	if kept := env.sendOffer(lenderN(8), bi(999_000)); kept.Sign() == 0 {
		t.Fatal("improving offer refused")
	}
	env.drain()

	if env.vault.CounterOfferCount() != MaxCounterOffers {
		t.Fatalf("book size %d after eviction, want %d", env.vault.CounterOfferCount(), MaxCounterOffers)
	}
	if _, ok := env.vault.CounterOffers[lenderN(1)]; ok {
		t.Fatal("lowest offer must be evicted")
	}
	if _, ok := env.vault.CounterOffers[lenderN(8)]; !ok {
		t.Fatal("improving offer must be present")
	}
	if !env.hasEvent(EventCounterOfferEvicted) {
		t.Fatalf("expected eviction event, got %v", env.emitter.Names())
	}
	// The evicted proposer got their tokens back.
	mustEqualBig(t, bi(100_000), env.token.BalanceOf(lenderN(1)), "evicted refund")
}

func TestCancelCounterOfferRefundsOnlyCaller(t *testing.T) {
	env := openTestRequest(t)
	env.sendOffer(lenderN(1), bi(100_000))
	env.sendOffer(lenderN(2), bi(200_000))

	if err := env.engine.CancelCounterOffer(env.ctx(lenderN(1))); err != nil {
		t.Fatalf("cancel counter offer: %v", err)
	}
	env.drain()

	if _, ok := env.vault.CounterOffers[lenderN(1)]; ok {
		t.Fatal("cancelled offer still in book")
	}
	if _, ok := env.vault.CounterOffers[lenderN(2)]; !ok {
		t.Fatal("other offers must remain")
	}
	mustEqualBig(t, bi(100_000), env.token.BalanceOf(lenderN(1)), "cancel refund")

	if err := env.engine.CancelCounterOffer(env.ctx(lenderN(3))); err == nil {
		t.Fatal("cancel without an offer must fail")
	}
}

func TestAcceptCounterOfferRefundsEveryOther(t *testing.T) {
	env := openTestRequest(t)
	env.sendOffer(lenderN(1), bi(100_000))
	env.sendOffer(lenderN(2), bi(200_000))
	env.sendOffer(lenderN(3), bi(300_000))

	// The stated amount must match the offer exactly.
	if err := env.engine.AcceptCounterOffer(env.ownerCtx(), lenderN(2), bi(250_000)); err == nil {
		t.Fatal("amount mismatch must be rejected")
	}
	if err := env.engine.AcceptCounterOffer(env.ownerCtx(), lenderN(2), bi(200_000)); err != nil {
		t.Fatalf("accept counter offer: %v", err)
	}
	env.drain()

	if env.vault.CounterOfferCount() != 0 {
		t.Fatal("book must empty on acceptance")
	}
	if env.vault.AcceptedOffer == nil || env.vault.AcceptedOffer.Lender != lenderN(2) {
		t.Fatalf("accepted offer %+v", env.vault.AcceptedOffer)
	}
	// Every non-accepted proposer got their escrowed tokens back.
	mustEqualBig(t, bi(100_000), env.token.BalanceOf(lenderN(1)), "refund lender1")
	mustEqualBig(t, bi(300_000), env.token.BalanceOf(lenderN(3)), "refund lender3")
	mustEqualBig(t, big.NewInt(0), env.token.BalanceOf(lenderN(2)), "accepted offer stays escrowed")
}

func TestAcceptLiquidityRequestBlocksOwnerAndBadAmount(t *testing.T) {
	env := openTestRequest(t)

	msg := marshalMessage(t, &TransferMessage{
		Action:     ActionAcceptLiquidityRequest,
		Token:      testToken,
		Amount:     bi(1_000_000),
		Interest:   bi(100_000),
		Collateral: near(5),
		Duration:   86_400,
	})
	if kept := env.rawTransferCall(testOwner, bi(1_000_000), msg); kept.Sign() != 0 {
		t.Fatalf("owner cannot lend to their own vault, kept %s", kept)
	}
	if kept := env.rawTransferCall(testLender, bi(999_999), msg); kept.Sign() != 0 {
		t.Fatalf("amount below request must be refunded, kept %s", kept)
	}
	if env.vault.AcceptedOffer != nil {
		t.Fatal("no acceptance may be recorded")
	}

	if kept := env.acceptRequest(testLender); kept.Cmp(bi(1_000_000)) != 0 {
		t.Fatalf("full-amount acceptance refused, kept %s", kept)
	}
	if env.vault.AcceptedOffer == nil || env.vault.AcceptedOffer.Lender != testLender {
		t.Fatalf("accepted offer %+v", env.vault.AcceptedOffer)
	}
	if !env.hasEvent(EventLiquidityRequestAccepted) {
		t.Fatalf("expected acceptance event, got %v", env.emitter.Names())
	}
}

func TestAcceptLiquidityRequestRefundsOpenOffers(t *testing.T) {
	env := openTestRequest(t)
	env.sendOffer(lenderN(1), bi(400_000))

	env.acceptRequest(testLender)
	env.drain()

	if env.vault.CounterOfferCount() != 0 {
		t.Fatal("book must empty on direct acceptance")
	}
	mustEqualBig(t, bi(400_000), env.token.BalanceOf(lenderN(1)), "open offer refunded")
}

func TestTransferMessageRejectsLegacyAndMalformedPayloads(t *testing.T) {
	env := openTestRequest(t)

	legacy := `{"action":"NewCounterOffer","token":"` + testToken.String() +
		`","amount":"1000000","interest":"100000","collateral":"` + near(5).String() +
		`","duration":86400}`
	if kept := env.rawTransferCall(lenderN(1), bi(100_000), legacy); kept.Sign() != 0 {
		t.Fatalf("legacy action must be refunded, kept %s", kept)
	}
	if kept := env.rawTransferCall(lenderN(2), bi(100_000), `{"action":`); kept.Sign() != 0 {
		t.Fatalf("malformed payload must be refunded, kept %s", kept)
	}
	if env.vault.CounterOfferCount() != 0 {
		t.Fatal("book must stay empty")
	}

	// Mismatched terms are refused even with a known action.
	mismatch := marshalMessage(t, &TransferMessage{
		Action:     ActionApplyCounterOffer,
		Token:      testToken,
		Amount:     bi(1_000_000),
		Interest:   bi(999),
		Collateral: near(5),
		Duration:   86_400,
	})
	if kept := env.rawTransferCall(lenderN(3), bi(100_000), mismatch); kept.Sign() != 0 {
		t.Fatalf("mismatched terms must be refunded, kept %s", kept)
	}
}
