// Package runtime models the host platform's asynchronous cross-contract
// execution: calls are scheduled, executed in FIFO order, and resolved by
// invoking exactly one continuation per scheduled unit. Each handler turn and
// each continuation runs to completion before the next unit is dispatched,
// matching the platform's single-threaded cooperative model.
package runtime

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"sudovault/core/types"
)

var (
	errNoHost            = errors.New("runtime: no host registered for target")
	errInsufficientFunds = errors.New("runtime: insufficient balance for transfer")
	errAccountDeleted    = errors.New("runtime: recipient account deleted")
)

// Result carries the outcome of a resolved external call or transfer.
type Result struct {
	Value []byte
	Err   error
}

// OK reports whether the call resolved successfully.
func (r Result) OK() bool { return r.Err == nil }

// Callback is a continuation invoked in its own turn once a call resolves.
type Callback func(Result)

// BatchCallback receives results in call order once every call in the batch
// has resolved.
type BatchCallback func([]Result)

// Call describes one cross-contract invocation.
type Call struct {
	Caller  types.AccountID
	Target  types.AccountID
	Method  string
	Args    []byte
	Deposit *big.Int
}

// HostEnv exposes the slice of scheduler state a host contract may touch while
// servicing a call.
type HostEnv interface {
	Epoch() uint64
	Now() uint64
	Credit(types.AccountID, *big.Int)
	Debit(types.AccountID, *big.Int) error
}

// Host is a contract reachable through the scheduler.
type Host interface {
	Invoke(env HostEnv, caller types.AccountID, method string, args []byte, deposit *big.Int) ([]byte, error)
}

type opKind uint8

const (
	opCall opKind = iota
	opTransfer
)

type op struct {
	kind   opKind
	call   Call
	from   types.AccountID
	to     types.AccountID
	amount *big.Int
}

type pending struct {
	ops   []op
	joint BatchCallback
}

// Scheduler queues cross-contract calls and native transfers and drains them
// deterministically. It also owns the native balance ledger and the logical
// clock (timestamp in nanoseconds, epoch height) shared by all hosts.
type Scheduler struct {
	mu       sync.Mutex
	hosts    map[types.AccountID]Host
	balances map[types.AccountID]*big.Int
	deleted  map[types.AccountID]bool
	queue    []*pending

	now   uint64
	epoch uint64

	dropNext bool
}

// NewScheduler returns an empty scheduler with the clock at zero.
func NewScheduler() *Scheduler {
	return &Scheduler{
		hosts:    make(map[types.AccountID]Host),
		balances: make(map[types.AccountID]*big.Int),
		deleted:  make(map[types.AccountID]bool),
	}
}

// Register wires a host contract under the given account.
func (s *Scheduler) Register(id types.AccountID, host Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[id] = host
}

// Now returns the current logical timestamp in nanoseconds.
func (s *Scheduler) Now() uint64 { return s.now }

// Epoch returns the current epoch height.
func (s *Scheduler) Epoch() uint64 { return s.epoch }

// SetNow moves the logical clock. Time never runs backwards in production;
// tests may do as they please.
func (s *Scheduler) SetNow(ns uint64) { s.now = ns }

// AdvanceNow moves the logical clock forward by the given number of
// nanoseconds.
func (s *Scheduler) AdvanceNow(ns uint64) { s.now += ns }

// SetEpoch sets the epoch height.
func (s *Scheduler) SetEpoch(epoch uint64) { s.epoch = epoch }

// AdvanceEpochs bumps the epoch height by n.
func (s *Scheduler) AdvanceEpochs(n uint64) { s.epoch += n }

// Balance returns a copy of the native balance held by the account.
func (s *Scheduler) Balance(id types.AccountID) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bal, ok := s.balances[id]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Credit adds native balance to the account.
func (s *Scheduler) Credit(id types.AccountID, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creditLocked(id, amount)
}

func (s *Scheduler) creditLocked(id types.AccountID, amount *big.Int) {
	bal, ok := s.balances[id]
	if !ok {
		bal = big.NewInt(0)
	}
	s.balances[id] = new(big.Int).Add(bal, amount)
}

// Debit removes native balance from the account, failing when the balance is
// insufficient.
func (s *Scheduler) Debit(id types.AccountID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitLocked(id, amount)
}

func (s *Scheduler) debitLocked(id types.AccountID, amount *big.Int) error {
	bal, ok := s.balances[id]
	if !ok || bal.Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	s.balances[id] = new(big.Int).Sub(bal, amount)
	return nil
}

// MarkDeleted flags an account as deleted: native transfers to it fail from
// the next turn on. Used to model closed accounts.
func (s *Scheduler) MarkDeleted(id types.AccountID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted[id] = true
}

// Restore clears a deleted flag.
func (s *Scheduler) Restore(id types.AccountID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deleted, id)
}

// DropNextCallback causes the continuation of the next resolved unit to be
// abandoned, modelling a platform outage that loses a callback. The external
// effects of the call itself still apply.
func (s *Scheduler) DropNextCallback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropNext = true
}

// Schedule enqueues a single cross-contract call with its continuation.
func (s *Scheduler) Schedule(call Call, cb Callback) {
	joint := func(results []Result) {
		if cb != nil && len(results) == 1 {
			cb(results[0])
		}
	}
	s.enqueue(&pending{ops: []op{{kind: opCall, call: call}}, joint: joint})
}

// ScheduleBatch enqueues several calls that resolve jointly: the continuation
// observes every result at once, in call order.
func (s *Scheduler) ScheduleBatch(calls []Call, cb BatchCallback) {
	ops := make([]op, len(calls))
	for i, call := range calls {
		ops[i] = op{kind: opCall, call: call}
	}
	s.enqueue(&pending{ops: ops, joint: cb})
}

// ScheduleTransfer enqueues a native balance transfer with its continuation.
func (s *Scheduler) ScheduleTransfer(from, to types.AccountID, amount *big.Int, cb Callback) {
	joint := func(results []Result) {
		if cb != nil && len(results) == 1 {
			cb(results[0])
		}
	}
	amt := big.NewInt(0)
	if amount != nil {
		amt = new(big.Int).Set(amount)
	}
	s.enqueue(&pending{ops: []op{{kind: opTransfer, from: from, to: to, amount: amt}}, joint: joint})
}

func (s *Scheduler) enqueue(p *pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, p)
}

// Pending reports the number of unresolved units in the queue.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Step resolves the oldest queued unit and runs its continuation. It returns
// false when the queue is empty.
func (s *Scheduler) Step() bool {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return false
	}
	unit := s.queue[0]
	s.queue = s.queue[1:]
	drop := s.dropNext
	s.dropNext = false
	s.mu.Unlock()

	results := make([]Result, len(unit.ops))
	for i, o := range unit.ops {
		results[i] = s.execute(o)
	}
	if !drop && unit.joint != nil {
		unit.joint(results)
	}
	return true
}

// Drain steps the queue until quiescence, including units scheduled by
// continuations along the way.
func (s *Scheduler) Drain() {
	for s.Step() {
	}
}

func (s *Scheduler) execute(o op) Result {
	switch o.kind {
	case opTransfer:
		return s.executeTransfer(o)
	default:
		return s.executeCall(o.call)
	}
}

func (s *Scheduler) executeTransfer(o op) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted[o.to] {
		return Result{Err: fmt.Errorf("%w: %s", errAccountDeleted, o.to)}
	}
	if err := s.debitLocked(o.from, o.amount); err != nil {
		return Result{Err: err}
	}
	s.creditLocked(o.to, o.amount)
	return Result{}
}

func (s *Scheduler) executeCall(call Call) Result {
	s.mu.Lock()
	host, ok := s.hosts[call.Target]
	s.mu.Unlock()
	if !ok {
		return Result{Err: fmt.Errorf("%w: %s", errNoHost, call.Target)}
	}

	// An attached deposit moves to the target up front and is refunded by the
	// platform when the call fails.
	if call.Deposit != nil && call.Deposit.Sign() > 0 {
		if err := s.Debit(call.Caller, call.Deposit); err != nil {
			return Result{Err: err}
		}
		s.Credit(call.Target, call.Deposit)
	}

	value, err := host.Invoke(s, call.Caller, call.Method, call.Args, call.Deposit)
	if err != nil {
		if call.Deposit != nil && call.Deposit.Sign() > 0 {
			if debitErr := s.Debit(call.Target, call.Deposit); debitErr == nil {
				s.Credit(call.Caller, call.Deposit)
			}
		}
		return Result{Err: err}
	}
	return Result{Value: value}
}
