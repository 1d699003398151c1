package vault

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"sudovault/core/types"
)

var (
	errNoOpenRequest     = errors.New("no liquidity request available")
	errAlreadyAccepted   = errors.New("liquidity request already accepted")
	errOfferMismatch     = errors.New("message fields do not match current request")
	errTokenMismatch     = errors.New("token mismatch")
	errDuplicateProposer = errors.New("proposer already has an active offer")
	errOfferTooLow       = errors.New("offer must be greater than current best offer")
	errOfferTooHigh      = errors.New("offer must be less than requested amount")
	errNoOfferToCancel   = errors.New("vault engine: no active offer to cancel")
	errOfferNotFound     = errors.New("vault engine: counter offer from proposer not found")
	errOfferAmountWrong  = errors.New("vault engine: provided amount does not match the counter offer")
)

// tryAddCounterOffer validates and inserts a lender's offer against the open
// request. The incoming transfer amount is the offered amount. Returns the
// evicted offer, if insertion pushed the book past MaxCounterOffers.
func (e *Engine) tryAddCounterOffer(proposer types.AccountID, offered *big.Int, msg *TransferMessage, tokenContract types.AccountID) error {
	request := e.vault.LiquidityRequest
	if request == nil {
		return errNoOpenRequest
	}
	if e.vault.AcceptedOffer != nil {
		return errAlreadyAccepted
	}
	if tokenContract != request.Token {
		return errTokenMismatch
	}
	if !request.Matches(msg.Token, msg.Amount, msg.Interest, msg.Collateral, msg.Duration) {
		return errOfferMismatch
	}
	if offered == nil || offered.Sign() <= 0 {
		return errInvalidAmount
	}
	if offered.Cmp(request.Amount) >= 0 {
		return errOfferTooHigh
	}
	if _, exists := e.vault.CounterOffers[proposer]; exists {
		return errDuplicateProposer
	}
	if best := e.vault.BestCounterOffer(); offered.Cmp(best) <= 0 {
		return fmt.Errorf("%w: best is %s", errOfferTooLow, best)
	}

	if e.vault.CounterOffers == nil {
		e.vault.CounterOffers = make(map[types.AccountID]*CounterOffer)
	}
	e.vault.CounterOffers[proposer] = &CounterOffer{
		Proposer:  proposer,
		Amount:    cloneBigInt(offered),
		Timestamp: e.sched.Now(),
	}
	e.emitEvent(EventCounterOfferCreated,
		"vault", e.self.String(),
		"proposer", proposer.String(),
		"amount", amountString(offered),
		"request_amount", amountString(request.Amount),
	)

	if len(e.vault.CounterOffers) > MaxCounterOffers {
		evicted := e.lowestCounterOffer()
		delete(e.vault.CounterOffers, evicted.Proposer)
		e.emitEvent(EventCounterOfferEvicted,
			"vault", e.self.String(),
			"proposer", evicted.Proposer.String(),
			"amount", amountString(evicted.Amount),
		)
		e.refundCounterOffer(tokenContract, evicted)
	}
	return nil
}

// lowestCounterOffer picks the single lowest-amount entry; ties break by
// proposer order so eviction is deterministic.
func (e *Engine) lowestCounterOffer() *CounterOffer {
	var lowest *CounterOffer
	for _, offer := range e.sortedCounterOffers() {
		if lowest == nil || offer.Amount.Cmp(lowest.Amount) < 0 {
			lowest = offer
		}
	}
	return lowest
}

// sortedCounterOffers returns the book in proposer order for deterministic
// iteration.
func (e *Engine) sortedCounterOffers() []*CounterOffer {
	offers := make([]*CounterOffer, 0, len(e.vault.CounterOffers))
	for _, offer := range e.vault.CounterOffers {
		offers = append(offers, offer)
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].Proposer < offers[j].Proposer })
	return offers
}

// CancelCounterOffer removes the caller's offer from the book and refunds it.
// All other entries remain.
func (e *Engine) CancelCounterOffer(ctx CallContext) error {
	if err := e.requireOneYocto(ctx); err != nil {
		return err
	}
	request := e.vault.LiquidityRequest
	if request == nil {
		return errors.New("vault engine: no liquidity request open")
	}
	if e.vault.AcceptedOffer != nil {
		return errors.New("vault engine: cannot cancel after offer is accepted")
	}
	if err := e.ensureIdle(); err != nil {
		return err
	}
	offer, ok := e.vault.CounterOffers[ctx.Caller]
	if !ok {
		return errNoOfferToCancel
	}
	delete(e.vault.CounterOffers, ctx.Caller)
	if len(e.vault.CounterOffers) == 0 {
		e.vault.CounterOffers = nil
	}
	e.emitEvent(EventCounterOfferCancelled,
		"vault", e.self.String(),
		"proposer", ctx.Caller.String(),
		"amount", amountString(offer.Amount),
	)
	e.refundCounterOffer(request.Token, offer)
	e.persist()
	return nil
}

// AcceptCounterOffer consumes the proposer's offer at the stated amount,
// records the accepted lender, and refunds every remaining entry.
func (e *Engine) AcceptCounterOffer(ctx CallContext, proposer types.AccountID, amount *big.Int) error {
	if err := e.requireOneYocto(ctx); err != nil {
		return err
	}
	if err := e.requireOwner(ctx); err != nil {
		return err
	}
	request := e.vault.LiquidityRequest
	if request == nil {
		return errors.New("vault engine: " + errNoOpenRequest.Error())
	}
	if e.vault.AcceptedOffer != nil {
		return errors.New("vault engine: " + errAlreadyAccepted.Error())
	}
	if err := e.ensureIdle(); err != nil {
		return err
	}
	offer, ok := e.vault.CounterOffers[proposer]
	if !ok {
		return errOfferNotFound
	}
	if amount == nil || offer.Amount.Cmp(amount) != 0 {
		return errOfferAmountWrong
	}

	delete(e.vault.CounterOffers, proposer)
	e.vault.AcceptedOffer = &AcceptedOffer{
		Lender:     proposer,
		AcceptedAt: e.sched.Now(),
	}

	for _, other := range e.sortedCounterOffers() {
		e.refundCounterOffer(request.Token, other)
	}
	e.vault.CounterOffers = nil

	e.emitEvent(EventCounterOfferAccepted,
		"vault", e.self.String(),
		"accepted_proposer", proposer.String(),
		"accepted_amount", amountString(amount),
		"timestamp", uintString(e.sched.Now()),
	)
	e.persist()
	return nil
}
