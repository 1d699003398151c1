package vault

import (
	"errors"
	"fmt"
	"math/big"

	"sudovault/core/events"
	"sudovault/core/types"
	"sudovault/runtime"
)

var (
	errNilVault       = errors.New("vault engine: state not configured")
	errNilScheduler   = errors.New("vault engine: scheduler not configured")
	errNotOwner       = errors.New("vault engine: caller is not the vault owner")
	errOneYocto       = errors.New("vault engine: requires attached deposit of exactly 1 yocto")
	errInvalidAmount  = errors.New("vault engine: amount must be positive")
	errRefundsPending = errors.New("vault engine: cannot proceed while refund entries are pending")
)

// MetricsSink receives workflow observations from the engine. Implementations
// must be safe for reuse across workflows.
type MetricsSink interface {
	SetProcessingState(state uint8)
	WorkflowStarted(tag string)
	WorkflowCompleted(tag string)
	WorkflowFailed(tag string)
	RefundRecorded()
	StaleLockEvicted()
}

// Persister writes the vault state to durable storage after every turn.
type Persister interface {
	Save(*Vault) error
}

// CallContext identifies the caller of a top-level handler and the deposit
// attached to the call.
type CallContext struct {
	Caller  types.AccountID
	Deposit *big.Int
}

// Engine owns one vault instance and drives every workflow against it. All
// handler and callback turns run on the scheduler's single-threaded model;
// the engine never mutates state concurrently.
type Engine struct {
	self    types.AccountID
	vault   *Vault
	sched   *runtime.Scheduler
	state   Persister
	emitter events.Emitter
	metrics MetricsSink
}

// NewEngine constructs an engine bound to the vault's own account id. The
// scheduler is the host platform hand-off and must outlive the engine.
func NewEngine(self types.AccountID, v *Vault, sched *runtime.Scheduler) *Engine {
	return &Engine{
		self:    self,
		vault:   v,
		sched:   sched,
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPersister wires the engine to the persistence layer.
func (e *Engine) SetPersister(p Persister) { e.state = p }

// SetMetrics wires the engine to a metrics sink.
func (e *Engine) SetMetrics(m MetricsSink) { e.metrics = m }

// Vault returns the engine's live state. Callers must treat it as read-only.
func (e *Engine) Vault() *Vault { return e.vault }

// Self returns the vault's own account id.
func (e *Engine) Self() types.AccountID { return e.self }

// AvailableBalance is the vault's native balance above the storage
// reservation.
func (e *Engine) AvailableBalance() *big.Int {
	total := e.sched.Balance(e.self)
	available := new(big.Int).Sub(total, StorageBuffer)
	if available.Sign() < 0 {
		return big.NewInt(0)
	}
	return available
}

// StorageCost is the native reservation a takeover claimant must match.
func (e *Engine) StorageCost() *big.Int { return new(big.Int).Set(StorageBuffer) }

func (e *Engine) requireOwner(ctx CallContext) error {
	if ctx.Caller != e.vault.Owner {
		return errNotOwner
	}
	return nil
}

func (e *Engine) requireOneYocto(ctx CallContext) error {
	if ctx.Deposit == nil || ctx.Deposit.Cmp(OneYocto) != 0 {
		return errOneYocto
	}
	return nil
}

func (e *Engine) emitEvent(name string, kv ...string) {
	data := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		data[kv[i]] = kv[i+1]
	}
	e.emitter.Emit(vaultEvent{name: name, data: data})
}

// persist flushes the current state through the persister. Persistence
// failures are programming or disk faults, not recoverable workflow errors,
// so they surface as panics in the turn that caused them.
func (e *Engine) persist() {
	if e.state == nil {
		return
	}
	if err := e.state.Save(e.vault); err != nil {
		panic(fmt.Sprintf("vault engine: persist failed: %v", err))
	}
}

func (e *Engine) workflowStarted(tag ProcessingState) {
	if e.metrics != nil {
		e.metrics.WorkflowStarted(tag.String())
	}
}

func (e *Engine) workflowCompleted(tag ProcessingState) {
	if e.metrics != nil {
		e.metrics.WorkflowCompleted(tag.String())
	}
}

func (e *Engine) workflowFailed(tag ProcessingState) {
	if e.metrics != nil {
		e.metrics.WorkflowFailed(tag.String())
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
