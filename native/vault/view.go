package vault

import (
	"sort"

	"sudovault/core/types"
)

// UnstakeEntryView is one unbonding record in wire form.
type UnstakeEntryView struct {
	Amount string `json:"amount"`
	Epoch  uint64 `json:"epoch"`
}

// LiquidityRequestView mirrors the open request in wire form.
type LiquidityRequestView struct {
	Token      types.AccountID `json:"token"`
	Amount     string          `json:"amount"`
	Interest   string          `json:"interest"`
	Collateral string          `json:"collateral"`
	Duration   uint64          `json:"duration"`
	CreatedAt  uint64          `json:"created_at"`
}

// CounterOfferView is one entry of the offer book in wire form.
type CounterOfferView struct {
	Proposer  types.AccountID `json:"proposer"`
	Amount    string          `json:"amount"`
	CreatedAt uint64          `json:"created_at"`
}

// AcceptedOfferView mirrors the matched lender commitment.
type AcceptedOfferView struct {
	Lender     types.AccountID `json:"lender"`
	AcceptedAt uint64          `json:"accepted_at"`
}

// RefundEntryView is one pending refund in wire form.
type RefundEntryView struct {
	ID           uint64           `json:"id"`
	Token        *types.AccountID `json:"token"`
	Proposer     types.AccountID  `json:"proposer"`
	Amount       string           `json:"amount"`
	AddedAtEpoch uint64           `json:"added_at_epoch"`
}

// ViewState is the full queryable snapshot of a vault.
type ViewState struct {
	Account             types.AccountID                        `json:"account"`
	Owner               types.AccountID                        `json:"owner"`
	Index               uint64                                 `json:"index"`
	Version             uint64                                 `json:"version"`
	AvailableBalance    string                                 `json:"available_balance"`
	ActiveValidators    []types.AccountID                      `json:"active_validators"`
	UnstakeEntries      map[types.AccountID][]UnstakeEntryView `json:"unstake_entries"`
	LiquidityRequest    *LiquidityRequestView                  `json:"liquidity_request"`
	CounterOffers       []CounterOfferView                     `json:"counter_offers"`
	AcceptedOffer       *AcceptedOfferView                     `json:"accepted_offer"`
	Liquidated          string                                 `json:"liquidated,omitempty"`
	RefundEntries       []RefundEntryView                      `json:"refund_entries"`
	IsListedForTakeover bool                                   `json:"is_listed_for_takeover"`
	ProcessingState     string                                 `json:"processing_state"`
	ProcessingSince     uint64                                 `json:"processing_since"`
	CurrentEpoch        uint64                                 `json:"current_epoch"`
}

// View builds a point-in-time snapshot of the vault for query surfaces. The
// result shares nothing with live state.
func (e *Engine) View() ViewState {
	v := e.vault
	view := ViewState{
		Account:             e.self,
		Owner:               v.Owner,
		Index:               v.Index,
		Version:             v.Version,
		AvailableBalance:    amountString(e.AvailableBalance()),
		ActiveValidators:    append([]types.AccountID(nil), v.ActiveValidators...),
		UnstakeEntries:      make(map[types.AccountID][]UnstakeEntryView, len(v.UnstakeEntries)),
		IsListedForTakeover: v.IsListedForTakeover,
		ProcessingState:     v.ProcessingState.String(),
		ProcessingSince:     v.ProcessingSince,
		CurrentEpoch:        e.sched.Epoch(),
	}

	for validator, entries := range v.UnstakeEntries {
		views := make([]UnstakeEntryView, len(entries))
		for i, entry := range entries {
			views[i] = UnstakeEntryView{Amount: amountString(entry.Amount), Epoch: entry.Epoch}
		}
		view.UnstakeEntries[validator] = views
	}

	if r := v.LiquidityRequest; r != nil {
		view.LiquidityRequest = &LiquidityRequestView{
			Token:      r.Token,
			Amount:     amountString(r.Amount),
			Interest:   amountString(r.Interest),
			Collateral: amountString(r.Collateral),
			Duration:   r.Duration,
			CreatedAt:  r.CreatedAt,
		}
	}
	for _, offer := range e.sortedCounterOffers() {
		view.CounterOffers = append(view.CounterOffers, CounterOfferView{
			Proposer:  offer.Proposer,
			Amount:    amountString(offer.Amount),
			CreatedAt: offer.Timestamp,
		})
	}
	if o := v.AcceptedOffer; o != nil {
		view.AcceptedOffer = &AcceptedOfferView{Lender: o.Lender, AcceptedAt: o.AcceptedAt}
	}
	if l := v.Liquidation; l != nil {
		view.Liquidated = amountString(l.Liquidated)
	}

	ids := make([]uint64, 0, len(v.RefundList))
	for id := range v.RefundList {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		entry := v.RefundList[id]
		view.RefundEntries = append(view.RefundEntries, RefundEntryView{
			ID:           id,
			Token:        entry.Token,
			Proposer:     entry.Proposer,
			Amount:       amountString(entry.Amount),
			AddedAtEpoch: entry.AddedAtEpoch,
		})
	}
	return view
}
