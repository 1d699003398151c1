package vault

import (
	"errors"
	"math/big"
	"sort"

	"sudovault/core/types"
	"sudovault/runtime"
)

var errNoRefundsForCaller = errors.New("vault engine: no refundable entries found for caller")

// The refund ledger durably records failed outbound transfers so value never
// silently vanishes. Entries are indexed by a monotone nonce and expire after
// RefundExpiryEpochs; retries drain matching entries into a working list
// before scheduling anything, so the map is never mutated mid-iteration.

// addRefundEntry records a failed transfer. A supplied id reuses the slot
// (retry re-insertion); otherwise the next nonce is allocated. A nil token
// marks a native refund.
func (e *Engine) addRefundEntry(token *types.AccountID, proposer types.AccountID, amount *big.Int, epoch uint64, id *uint64) uint64 {
	entryID := e.vault.RefundNonce
	if id != nil {
		entryID = *id
	} else {
		e.vault.RefundNonce++
	}
	e.vault.RefundList[entryID] = &RefundEntry{
		Token:        token,
		Proposer:     proposer,
		Amount:       cloneBigInt(amount),
		AddedAtEpoch: epoch,
	}
	tokenLabel := "native"
	if token != nil {
		tokenLabel = token.String()
	}
	e.emitEvent(EventRefundFailed,
		"vault", e.self.String(),
		"id", uintString(entryID),
		"token", tokenLabel,
		"proposer", proposer.String(),
		"amount", amountString(amount),
	)
	if e.metrics != nil {
		e.metrics.RefundRecorded()
	}
	return entryID
}

// refundCounterOffer schedules a token refund of the offer's amount back to
// its proposer. A failed transfer lands in the refund ledger.
func (e *Engine) refundCounterOffer(token types.AccountID, offer *CounterOffer) {
	proposer := offer.Proposer
	amount := cloneBigInt(offer.Amount)
	e.sched.Schedule(e.ftTransferCall(token, proposer, amount), func(result runtime.Result) {
		e.onRefundComplete(token, proposer, amount, result)
	})
}

func (e *Engine) onRefundComplete(token, proposer types.AccountID, amount *big.Int, result runtime.Result) {
	if result.OK() {
		e.persist()
		return
	}
	e.addRefundEntry(&token, proposer, amount, e.sched.Epoch(), nil)
	e.persist()
}

// RetryRefunds re-attempts failed refunds. Authorized callers are the vault
// owner (all entries) or an entry's proposer (their own entries).
func (e *Engine) RetryRefunds(ctx CallContext) error {
	if err := e.requireOneYocto(ctx); err != nil {
		return err
	}

	type workItem struct {
		id    uint64
		entry *RefundEntry
	}
	var work []workItem
	for id, entry := range e.vault.RefundList {
		if ctx.Caller == e.vault.Owner || ctx.Caller == entry.Proposer {
			work = append(work, workItem{id: id, entry: entry.Clone()})
		}
	}
	if len(work) == 0 {
		return errNoRefundsForCaller
	}
	sort.Slice(work, func(i, j int) bool { return work[i].id < work[j].id })

	nowEpoch := e.sched.Epoch()
	for _, item := range work {
		delete(e.vault.RefundList, item.id)
		if item.entry.Expired(nowEpoch) {
			e.emitEvent(EventRetryRefundExpired,
				"vault", e.self.String(),
				"id", uintString(item.id),
				"proposer", item.entry.Proposer.String(),
				"amount", amountString(item.entry.Amount),
			)
			continue
		}
		e.scheduleRefundRetry(item.id, item.entry)
	}
	e.persist()
	return nil
}

func (e *Engine) scheduleRefundRetry(id uint64, entry *RefundEntry) {
	cb := func(result runtime.Result) {
		e.onRetryRefundComplete(id, entry, result)
	}
	if entry.Token != nil {
		e.sched.Schedule(e.ftTransferCall(*entry.Token, entry.Proposer, entry.Amount), cb)
		return
	}
	e.sched.ScheduleTransfer(e.self, entry.Proposer, entry.Amount, cb)
}

func (e *Engine) onRetryRefundComplete(id uint64, entry *RefundEntry, result runtime.Result) {
	if result.OK() {
		e.emitEvent(EventRetryRefundSucceeded,
			"vault", e.self.String(),
			"id", uintString(id),
			"proposer", entry.Proposer.String(),
			"amount", amountString(entry.Amount),
		)
		e.persist()
		return
	}

	e.emitEvent(EventRetryRefundFailed,
		"vault", e.self.String(),
		"id", uintString(id),
		"proposer", entry.Proposer.String(),
		"amount", amountString(entry.Amount),
	)
	// Re-insert under the original id with the original epoch so expiry is
	// not reset by the failed retry.
	if !entry.Expired(e.sched.Epoch()) {
		e.vault.RefundList[id] = entry.Clone()
	}
	e.persist()
}

func uintString(v uint64) string {
	return new(big.Int).SetUint64(v).String()
}
