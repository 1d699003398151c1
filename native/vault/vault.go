package vault

import (
	"math/big"

	"sudovault/core/types"
)

// Vault is the complete persistent state of a single vault instance. One
// owner, up to MaxActiveValidators delegations, at most one open liquidity
// request at a time.
type Vault struct {
	Owner   types.AccountID
	Index   uint64
	Version uint64

	// ActiveValidators is the ordered set of validators the vault believes
	// hold nonzero delegated stake.
	ActiveValidators []types.AccountID

	// UnstakeEntries holds the per-validator FIFO of unbondings, in unbond
	// order.
	UnstakeEntries map[types.AccountID][]UnstakeEntry

	PendingLiquidityRequest *PendingLiquidityRequest
	LiquidityRequest        *LiquidityRequest

	// CounterOffers is nil when no offers exist; the map is dropped once it
	// empties.
	CounterOffers map[types.AccountID]*CounterOffer

	AcceptedOffer *AcceptedOffer
	Liquidation   *Liquidation

	RefundList  map[uint64]*RefundEntry
	RefundNonce uint64

	ProcessingState ProcessingState
	ProcessingSince uint64

	IsListedForTakeover bool
}

// NewVault initializes vault state the way the factory hands it off: owner,
// index and version fixed, everything else empty.
func NewVault(owner types.AccountID, index, version uint64) *Vault {
	return &Vault{
		Owner:           owner,
		Index:           index,
		Version:         version,
		UnstakeEntries:  make(map[types.AccountID][]UnstakeEntry),
		RefundList:      make(map[uint64]*RefundEntry),
		ProcessingState: ProcessingIdle,
	}
}

// IsActiveValidator reports whether the validator is in the active set.
func (v *Vault) IsActiveValidator(validator types.AccountID) bool {
	for _, active := range v.ActiveValidators {
		if active == validator {
			return true
		}
	}
	return false
}

// AddActiveValidator appends the validator to the active set if absent.
func (v *Vault) AddActiveValidator(validator types.AccountID) bool {
	if v.IsActiveValidator(validator) {
		return false
	}
	v.ActiveValidators = append(v.ActiveValidators, validator)
	return true
}

// RemoveActiveValidator drops the validator from the active set.
func (v *Vault) RemoveActiveValidator(validator types.AccountID) bool {
	for i, active := range v.ActiveValidators {
		if active == validator {
			v.ActiveValidators = append(v.ActiveValidators[:i], v.ActiveValidators[i+1:]...)
			return true
		}
	}
	return false
}

// CounterOfferCount returns the size of the counter-offer book.
func (v *Vault) CounterOfferCount() int { return len(v.CounterOffers) }

// BestCounterOffer returns the highest offered amount, zero when the book is
// empty.
func (v *Vault) BestCounterOffer() *big.Int {
	best := big.NewInt(0)
	for _, offer := range v.CounterOffers {
		if offer.Amount != nil && offer.Amount.Cmp(best) > 0 {
			best = new(big.Int).Set(offer.Amount)
		}
	}
	return best
}
