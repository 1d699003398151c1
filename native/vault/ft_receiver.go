package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"sudovault/core/types"
)

// Actions understood in ft_on_transfer payloads. The legacy "NewCounterOffer"
// action is not accepted.
const (
	ActionApplyCounterOffer      = "ApplyCounterOffer"
	ActionAcceptLiquidityRequest = "AcceptLiquidityRequest"
)

// TransferMessage is the JSON payload carried by a fungible-token transfer to
// the vault. Every declared field must equal the open request's fields.
type TransferMessage struct {
	Action     string
	Token      types.AccountID
	Amount     *big.Int
	Interest   *big.Int
	Collateral *big.Int
	Duration   uint64
}

type transferMessageWire struct {
	Action     string          `json:"action"`
	Token      types.AccountID `json:"token"`
	Amount     string          `json:"amount"`
	Interest   string          `json:"interest"`
	Collateral string          `json:"collateral"`
	Duration   uint64          `json:"duration"`
}

// UnmarshalJSON decodes the wire form, where token amounts travel as decimal
// strings.
func (m *TransferMessage) UnmarshalJSON(data []byte) error {
	var wire transferMessageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	amount, err := parseWireAmount(wire.Amount)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	interest, err := parseWireAmount(wire.Interest)
	if err != nil {
		return fmt.Errorf("interest: %w", err)
	}
	collateral, err := parseWireAmount(wire.Collateral)
	if err != nil {
		return fmt.Errorf("collateral: %w", err)
	}
	*m = TransferMessage{
		Action:     wire.Action,
		Token:      wire.Token,
		Amount:     amount,
		Interest:   interest,
		Collateral: collateral,
		Duration:   wire.Duration,
	}
	return nil
}

func parseWireAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("malformed amount %q", raw)
	}
	return value, nil
}

// FTOnTransfer is the token contract's transfer-and-call entry point. The
// caller is the token contract itself; sender is the account that moved the
// tokens. The returned value is the portion refunded to the sender: zero on
// acceptance, the full incoming amount on any rejection.
func (e *Engine) FTOnTransfer(ctx CallContext, sender types.AccountID, amount *big.Int, msg string) *big.Int {
	refundAll := cloneBigInt(amount)
	if amount == nil || amount.Sign() <= 0 {
		return refundAll
	}

	var parsed TransferMessage
	if err := json.Unmarshal([]byte(msg), &parsed); err != nil {
		return refundAll
	}

	switch parsed.Action {
	case ActionApplyCounterOffer:
		if err := e.tryAddCounterOffer(sender, amount, &parsed, ctx.Caller); err != nil {
			return refundAll
		}
		e.persist()
		return big.NewInt(0)
	case ActionAcceptLiquidityRequest:
		if err := e.tryAcceptLiquidityRequest(sender, amount, &parsed, ctx.Caller); err != nil {
			return refundAll
		}
		e.persist()
		return big.NewInt(0)
	default:
		return refundAll
	}
}

// OnTokenTransfer adapts FTOnTransfer to the token contract's receiver hook.
func (e *Engine) OnTokenTransfer(tokenContract, sender types.AccountID, amount *big.Int, msg string) *big.Int {
	return e.FTOnTransfer(CallContext{Caller: tokenContract}, sender, amount, msg)
}

var errOwnRequest = errors.New("vault owner cannot fulfill their own request")

// tryAcceptLiquidityRequest matches a lender transferring exactly the
// requested amount. Acceptance refunds every existing counter offer.
func (e *Engine) tryAcceptLiquidityRequest(lender types.AccountID, amount *big.Int, msg *TransferMessage, tokenContract types.AccountID) error {
	request := e.vault.LiquidityRequest
	if request == nil {
		return errNoOpenRequest
	}
	if e.vault.AcceptedOffer != nil {
		return errAlreadyAccepted
	}
	if lender == e.vault.Owner {
		return errOwnRequest
	}
	if tokenContract != request.Token {
		return errTokenMismatch
	}
	if !request.Matches(msg.Token, msg.Amount, msg.Interest, msg.Collateral, msg.Duration) {
		return errOfferMismatch
	}
	if !bigEqual(amount, request.Amount) {
		return errors.New("amount mismatch")
	}

	e.vault.AcceptedOffer = &AcceptedOffer{
		Lender:     lender,
		AcceptedAt: e.sched.Now(),
	}
	for _, offer := range e.sortedCounterOffers() {
		e.refundCounterOffer(request.Token, offer)
	}
	e.vault.CounterOffers = nil

	e.emitEvent(EventLiquidityRequestAccepted,
		"vault", e.self.String(),
		"lender", lender.String(),
		"amount", amountString(amount),
		"timestamp", uintString(e.sched.Now()),
	)
	return nil
}
