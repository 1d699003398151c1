package vault

import (
	"math/big"

	"sudovault/core/types"
)

// ProcessingState indicates which long-running operation currently holds the
// vault's single-slot lock.
type ProcessingState uint8

const (
	ProcessingIdle ProcessingState = iota
	ProcessingDelegate
	ProcessingClaimUnstaked
	ProcessingRequestLiquidity
	ProcessingUndelegate
	ProcessingRepayLoan
	ProcessingClaims
	ProcessingClaimVault
)

// Valid reports whether the state value is within the supported range.
func (s ProcessingState) Valid() bool { return s <= ProcessingClaimVault }

func (s ProcessingState) String() string {
	switch s {
	case ProcessingIdle:
		return "idle"
	case ProcessingDelegate:
		return "delegate"
	case ProcessingClaimUnstaked:
		return "claim_unstaked"
	case ProcessingRequestLiquidity:
		return "request_liquidity"
	case ProcessingUndelegate:
		return "undelegate"
	case ProcessingRepayLoan:
		return "repay_loan"
	case ProcessingClaims:
		return "process_claims"
	case ProcessingClaimVault:
		return "claim_vault"
	default:
		return "unknown"
	}
}

// UnstakeEntry tracks native balance in bonding and the epoch when the
// unbonding was requested. Entries mature NumEpochsToUnlock epochs later.
type UnstakeEntry struct {
	Amount *big.Int
	Epoch  uint64
}

// Matured reports whether the entry is withdrawable at the given epoch.
func (e UnstakeEntry) Matured(currentEpoch uint64) bool {
	return currentEpoch >= e.Epoch+NumEpochsToUnlock
}

// Clone returns a deep copy of the entry.
func (e UnstakeEntry) Clone() UnstakeEntry {
	out := e
	if e.Amount != nil {
		out.Amount = new(big.Int).Set(e.Amount)
	} else {
		out.Amount = big.NewInt(0)
	}
	return out
}

// PendingLiquidityRequest holds a request under validation while the
// asynchronous collateral check runs.
type PendingLiquidityRequest struct {
	Token      types.AccountID
	Amount     *big.Int
	Interest   *big.Int
	Collateral *big.Int
	Duration   uint64
}

// LiquidityRequest is the owner's open loan offer.
type LiquidityRequest struct {
	Token      types.AccountID
	Amount     *big.Int
	Interest   *big.Int
	Collateral *big.Int
	Duration   uint64
	CreatedAt  uint64
}

// Clone returns a deep copy of the request.
func (r *LiquidityRequest) Clone() *LiquidityRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Amount = cloneBigInt(r.Amount)
	out.Interest = cloneBigInt(r.Interest)
	out.Collateral = cloneBigInt(r.Collateral)
	return &out
}

// Matches reports whether every declared field of the incoming message equals
// the open request's fields.
func (r *LiquidityRequest) Matches(token types.AccountID, amount, interest, collateral *big.Int, duration uint64) bool {
	if r == nil {
		return false
	}
	return r.Token == token &&
		bigEqual(r.Amount, amount) &&
		bigEqual(r.Interest, interest) &&
		bigEqual(r.Collateral, collateral) &&
		r.Duration == duration
}

// CounterOffer is a lender's proposal to fund less than the requested amount.
type CounterOffer struct {
	Proposer  types.AccountID
	Amount    *big.Int
	Timestamp uint64
}

// Clone returns a deep copy of the offer.
func (o *CounterOffer) Clone() *CounterOffer {
	if o == nil {
		return nil
	}
	out := *o
	out.Amount = cloneBigInt(o.Amount)
	return &out
}

// AcceptedOffer records the single matched lender commitment.
type AcceptedOffer struct {
	Lender     types.AccountID
	AcceptedAt uint64
}

// Liquidation tracks cumulative collateral converted to lender payments after
// default.
type Liquidation struct {
	Liquidated *big.Int
}

// RefundEntry records a failed outbound transfer pending retry. A nil Token
// means the refund is native balance.
type RefundEntry struct {
	Token        *types.AccountID
	Proposer     types.AccountID
	Amount       *big.Int
	AddedAtEpoch uint64
}

// Expired reports whether the retry horizon has passed.
func (r *RefundEntry) Expired(currentEpoch uint64) bool {
	if r == nil {
		return true
	}
	return currentEpoch >= r.AddedAtEpoch+RefundExpiryEpochs
}

// Clone returns a deep copy of the entry.
func (r *RefundEntry) Clone() *RefundEntry {
	if r == nil {
		return nil
	}
	out := *r
	out.Amount = cloneBigInt(r.Amount)
	if r.Token != nil {
		token := *r.Token
		out.Token = &token
	}
	return &out
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Cmp(b) == 0
}
