// Package token provides a fungible-token contract for the scheduler,
// implementing the transfer and transfer-and-call surface vaults use for
// loans. Accounts must be registered before they can receive tokens, which is
// how failed outbound transfers are modelled.
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"sudovault/core/types"
	"sudovault/runtime"
)

var (
	errUnknownMethod   = errors.New("token: unknown method")
	errOneYocto        = errors.New("token: transfers require a deposit of exactly 1 yocto")
	errNotRegistered   = errors.New("token: receiver is not registered")
	errInsufficient    = errors.New("token: insufficient balance")
	errNoReceiverHook  = errors.New("token: receiver does not accept transfer calls")
	errMalformedAmount = errors.New("token: malformed amount")
)

// Receiver is a contract that accepts ft_transfer_call deliveries. The return
// value is the portion of the transfer refunded to the sender.
type Receiver interface {
	OnTokenTransfer(tokenContract, sender types.AccountID, amount *big.Int, msg string) *big.Int
}

// Ledger is one fungible-token contract instance.
type Ledger struct {
	mu         sync.Mutex
	id         types.AccountID
	balances   map[types.AccountID]*big.Int
	registered map[types.AccountID]bool
	receivers  map[types.AccountID]Receiver
	failNext   map[string]error
}

// NewLedger returns an empty token ledger bound to its contract account id.
func NewLedger(id types.AccountID) *Ledger {
	return &Ledger{
		id:         id,
		balances:   make(map[types.AccountID]*big.Int),
		registered: make(map[types.AccountID]bool),
		receivers:  make(map[types.AccountID]Receiver),
		failNext:   make(map[string]error),
	}
}

// RegisterAccount opens a balance slot for the account.
func (l *Ledger) RegisterAccount(id types.AccountID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registered[id] = true
}

// UnregisterAccount closes the account; transfers to it fail afterwards.
func (l *Ledger) UnregisterAccount(id types.AccountID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.registered, id)
}

// RegisterReceiver wires a contract to receive ft_transfer_call deliveries.
// The account is registered as a holder at the same time.
func (l *Ledger) RegisterReceiver(id types.AccountID, r Receiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registered[id] = true
	l.receivers[id] = r
}

// Mint credits freshly issued tokens to a registered account.
func (l *Ledger) Mint(id types.AccountID, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registered[id] = true
	l.credit(id, amount)
}

// FailNext makes the next invocation of the given method fail with the error.
func (l *Ledger) FailNext(method string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext[method] = err
}

// BalanceOf reports the account's token balance.
func (l *Ledger) BalanceOf(id types.AccountID) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal, ok := l.balances[id]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

func (l *Ledger) credit(id types.AccountID, amount *big.Int) {
	bal, ok := l.balances[id]
	if !ok {
		bal = big.NewInt(0)
	}
	l.balances[id] = new(big.Int).Add(bal, amount)
}

func (l *Ledger) debit(id types.AccountID, amount *big.Int) error {
	bal, ok := l.balances[id]
	if !ok || bal.Cmp(amount) < 0 {
		return errInsufficient
	}
	l.balances[id] = new(big.Int).Sub(bal, amount)
	return nil
}

func (l *Ledger) takeFailure(method string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err, ok := l.failNext[method]
	if ok {
		delete(l.failNext, method)
	}
	return err
}

type transferArgs struct {
	ReceiverID types.AccountID `json:"receiver_id"`
	Amount     string          `json:"amount"`
	Memo       *string         `json:"memo"`
	Msg        string          `json:"msg"`
}

// Invoke dispatches one scheduled call against the token contract.
func (l *Ledger) Invoke(env runtime.HostEnv, caller types.AccountID, method string, args []byte, deposit *big.Int) ([]byte, error) {
	if err := l.takeFailure(method); err != nil {
		return nil, err
	}
	switch method {
	case "ft_transfer":
		return nil, l.transfer(caller, args, deposit)
	case "ft_transfer_call":
		return l.transferCall(caller, args, deposit)
	case "ft_balance_of":
		return l.balanceView(args)
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownMethod, method)
	}
}

func (l *Ledger) parseTransfer(args []byte, deposit *big.Int) (transferArgs, *big.Int, error) {
	if deposit == nil || deposit.Cmp(big.NewInt(1)) != 0 {
		return transferArgs{}, nil, errOneYocto
	}
	var req transferArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return transferArgs{}, nil, fmt.Errorf("token: malformed transfer args: %w", err)
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return transferArgs{}, nil, fmt.Errorf("%w: %q", errMalformedAmount, req.Amount)
	}
	return req, amount, nil
}

func (l *Ledger) transfer(caller types.AccountID, args []byte, deposit *big.Int) error {
	req, amount, err := l.parseTransfer(args, deposit)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.registered[req.ReceiverID] {
		return fmt.Errorf("%w: %s", errNotRegistered, req.ReceiverID)
	}
	if err := l.debit(caller, amount); err != nil {
		return err
	}
	l.credit(req.ReceiverID, amount)
	return nil
}

// transferCall moves tokens to the receiver and invokes its transfer hook in
// the same turn; whatever portion the hook refuses moves straight back to the
// sender. The returned value is the amount the receiver kept.
func (l *Ledger) transferCall(caller types.AccountID, args []byte, deposit *big.Int) ([]byte, error) {
	req, amount, err := l.parseTransfer(args, deposit)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	receiver, hooked := l.receivers[req.ReceiverID]
	if !hooked {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", errNoReceiverHook, req.ReceiverID)
	}
	if err := l.debit(caller, amount); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.credit(req.ReceiverID, amount)
	l.mu.Unlock()

	refund := receiver.OnTokenTransfer(l.id, caller, new(big.Int).Set(amount), req.Msg)
	if refund == nil {
		refund = big.NewInt(0)
	}
	if refund.Cmp(amount) > 0 {
		refund = amount
	}
	if refund.Sign() > 0 {
		l.mu.Lock()
		if err := l.debit(req.ReceiverID, refund); err == nil {
			l.credit(caller, refund)
		}
		l.mu.Unlock()
	}

	kept := new(big.Int).Sub(amount, refund)
	return json.Marshal(kept.String())
}

func (l *Ledger) balanceView(args []byte) ([]byte, error) {
	var req struct {
		AccountID types.AccountID `json:"account_id"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("token: malformed balance args: %w", err)
	}
	return json.Marshal(l.BalanceOf(req.AccountID).String())
}
