package vault

import (
	"math/big"
	"testing"
)

func ledgerVault() *Vault {
	v := NewVault(testOwner, 0, 1)
	v.pushUnstakeEntry(testVal1, bi(100), 10)
	v.pushUnstakeEntry(testVal1, bi(50), 11)
	v.pushUnstakeEntry(testVal1, bi(25), 12)
	return v
}

func TestReconcileDropsFullyCoveredHeadEntries(t *testing.T) {
	v := ledgerVault()
	dropped := v.reconcileUnstakeEntries(testVal1, bi(150))
	if dropped != 2 {
		t.Fatalf("dropped %d, want 2", dropped)
	}
	queue := v.UnstakeEntries[testVal1]
	if len(queue) != 1 || queue[0].Amount.Cmp(bi(25)) != 0 || queue[0].Epoch != 12 {
		t.Fatalf("unexpected queue %+v", queue)
	}
}

func TestReconcileStopsAtFirstPartialEntry(t *testing.T) {
	v := ledgerVault()
	// 120 covers the first entry (100) but only part of the second (50).
	// The partial entry stays whole; a synthesized split would carry a wrong
	// epoch.
	dropped := v.reconcileUnstakeEntries(testVal1, bi(120))
	if dropped != 1 {
		t.Fatalf("dropped %d, want 1", dropped)
	}
	queue := v.UnstakeEntries[testVal1]
	if len(queue) != 2 || queue[0].Amount.Cmp(bi(50)) != 0 {
		t.Fatalf("unexpected queue %+v", queue)
	}
}

func TestReconcileAbsorbsRewardSurplus(t *testing.T) {
	v := ledgerVault()
	dropped := v.reconcileUnstakeEntries(testVal1, bi(500))
	if dropped != 3 {
		t.Fatalf("dropped %d, want 3", dropped)
	}
	if _, ok := v.UnstakeEntries[testVal1]; ok {
		t.Fatal("emptied queue must be deleted")
	}
}

func TestReconcileZeroWithdrawnIsNoop(t *testing.T) {
	v := ledgerVault()
	if dropped := v.reconcileUnstakeEntries(testVal1, bi(0)); dropped != 0 {
		t.Fatalf("dropped %d, want 0", dropped)
	}
	if got := len(v.UnstakeEntries[testVal1]); got != 3 {
		t.Fatalf("queue length %d, want 3", got)
	}
}

func TestReconcileAfterWithdrawClampsNegativeDelta(t *testing.T) {
	v := ledgerVault()
	// Remaining above the queue total means nothing was withdrawn.
	withdrawn, dropped := v.reconcileAfterWithdraw(testVal1, bi(400))
	if withdrawn.Sign() != 0 || dropped != 0 {
		t.Fatalf("withdrawn %s dropped %d, want 0 and 0", withdrawn, dropped)
	}
}

func TestReconcileAfterWithdrawComputesDelta(t *testing.T) {
	v := ledgerVault()
	withdrawn, dropped := v.reconcileAfterWithdraw(testVal1, bi(75))
	// 175 total before, 75 remaining, so 100 came home: exactly the head.
	if withdrawn.Cmp(bi(100)) != 0 || dropped != 1 {
		t.Fatalf("withdrawn %s dropped %d", withdrawn, dropped)
	}
}

func TestTotalsAndMaturity(t *testing.T) {
	v := ledgerVault()
	mustEqualBig(t, bi(175), v.TotalUnstaked(testVal1), "total unstaked")
	mustEqualBig(t, big.NewInt(0), v.TotalMatured(testVal1, 10), "nothing matured")
	mustEqualBig(t, bi(150), v.TotalMatured(testVal1, 15), "two entries matured")
	if v.HasMatured(testVal1, 13) {
		t.Fatal("head matures at epoch 14")
	}
	if !v.HasMatured(testVal1, 14) {
		t.Fatal("head matured at epoch 14")
	}
}
