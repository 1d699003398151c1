package vault

import (
	"encoding/json"
	"math/big"
	"testing"

	"sudovault/core/events"
	"sudovault/core/types"
	"sudovault/native/staking"
	"sudovault/native/token"
	"sudovault/runtime"
)

const (
	testVault  = types.AccountID("vault-0.factory.testnet")
	testOwner  = types.AccountID("owner.testnet")
	testLender = types.AccountID("lender.testnet")
	testVal1   = types.AccountID("v1.pool.testnet")
	testVal2   = types.AccountID("v2.pool.testnet")
	testToken  = types.AccountID("usdc.testnet")
)

// near converts whole native tokens into the smallest denomination.
func near(n int64) *big.Int {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)
	return new(big.Int).Mul(big.NewInt(n), unit)
}

func bi(n int64) *big.Int { return big.NewInt(n) }

type savedCount struct{ saves int }

func (s *savedCount) Save(*Vault) error {
	s.saves++
	return nil
}

type testEnv struct {
	t       *testing.T
	sched   *runtime.Scheduler
	engine  *Engine
	vault   *Vault
	pool1   *staking.Pool
	pool2   *staking.Pool
	token   *token.Ledger
	emitter *events.CollectingEmitter
	saves   *savedCount
}

// newTestEnv wires a vault engine against in-memory staking pools and a token
// ledger, with the vault funded to cover its storage reservation.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	sched := runtime.NewScheduler()
	sched.SetNow(1_000 * NanosPerSecond)
	sched.SetEpoch(100)

	v := NewVault(testOwner, 0, 1)
	engine := NewEngine(testVault, v, sched)
	emitter := &events.CollectingEmitter{}
	engine.SetEmitter(emitter)
	saves := &savedCount{}
	engine.SetPersister(saves)

	pool1 := staking.NewPool(testVal1)
	pool2 := staking.NewPool(testVal2)
	sched.Register(testVal1, pool1)
	sched.Register(testVal2, pool2)

	ledger := token.NewLedger(testToken)
	ledger.RegisterReceiver(testVault, engine)
	sched.Register(testToken, ledger)

	sched.Credit(testVault, new(big.Int).Set(StorageBuffer))

	return &testEnv{
		t:       t,
		sched:   sched,
		engine:  engine,
		vault:   v,
		pool1:   pool1,
		pool2:   pool2,
		token:   ledger,
		emitter: emitter,
		saves:   saves,
	}
}

func (env *testEnv) ownerCtx() CallContext {
	return CallContext{Caller: testOwner, Deposit: new(big.Int).Set(OneYocto)}
}

func (env *testEnv) ctx(caller types.AccountID) CallContext {
	return CallContext{Caller: caller, Deposit: new(big.Int).Set(OneYocto)}
}

// fund credits liquid native balance above the storage reservation.
func (env *testEnv) fund(amount *big.Int) {
	env.sched.Credit(testVault, amount)
}

func (env *testEnv) drain() {
	env.sched.Drain()
}

// delegateAll funds and stakes the given amount with the validator, draining
// the full workflow.
func (env *testEnv) delegateAll(validator types.AccountID, amount *big.Int) {
	env.t.Helper()
	env.fund(amount)
	if err := env.engine.Delegate(env.ownerCtx(), validator, amount); err != nil {
		env.t.Fatalf("delegate: %v", err)
	}
	env.drain()
}

// openRequest drives a full request_liquidity workflow to the open state.
func (env *testEnv) openRequest(amount, interest, collateral *big.Int, duration uint64) {
	env.t.Helper()
	if err := env.engine.RequestLiquidity(env.ownerCtx(), testToken, amount, interest, collateral, duration); err != nil {
		env.t.Fatalf("request liquidity: %v", err)
	}
	env.drain()
	if env.vault.LiquidityRequest == nil {
		env.t.Fatalf("liquidity request did not open; events: %v", env.emitter.Names())
	}
}

// sendOffer delivers an ApplyCounterOffer transfer-and-call from the
// proposer through the token contract, returning the portion the vault kept.
func (env *testEnv) sendOffer(proposer types.AccountID, offered *big.Int) *big.Int {
	return env.transferCall(proposer, offered, ActionApplyCounterOffer)
}

// acceptRequest delivers an AcceptLiquidityRequest transfer from the lender.
func (env *testEnv) acceptRequest(lender types.AccountID) *big.Int {
	request := env.vault.LiquidityRequest
	if request == nil {
		env.t.Fatal("no open request to accept")
	}
	return env.transferCall(lender, request.Amount, ActionAcceptLiquidityRequest)
}

// transferCall mints the sender enough tokens, routes an ft_transfer_call at
// the vault, and reports how much the vault kept.
func (env *testEnv) transferCall(sender types.AccountID, amount *big.Int, action string) *big.Int {
	env.t.Helper()
	request := env.vault.LiquidityRequest
	if request == nil {
		env.t.Fatal("no open request to transfer against")
	}
	msg := &TransferMessage{
		Action:     action,
		Token:      request.Token,
		Amount:     request.Amount,
		Interest:   request.Interest,
		Collateral: request.Collateral,
		Duration:   request.Duration,
	}
	return env.rawTransferCall(sender, amount, marshalMessage(env.t, msg))
}

// rawTransferCall routes an arbitrary ft_transfer_call payload at the vault.
func (env *testEnv) rawTransferCall(sender types.AccountID, amount *big.Int, msg string) *big.Int {
	env.t.Helper()
	env.token.Mint(sender, amount)
	env.sched.Credit(sender, bi(1))

	args, err := json.Marshal(map[string]string{
		"receiver_id": testVault.String(),
		"amount":      amount.String(),
		"msg":         msg,
	})
	if err != nil {
		env.t.Fatalf("marshal transfer args: %v", err)
	}

	kept := big.NewInt(0)
	env.sched.Schedule(runtime.Call{
		Caller:  sender,
		Target:  testToken,
		Method:  "ft_transfer_call",
		Args:    args,
		Deposit: new(big.Int).Set(OneYocto),
	}, func(result runtime.Result) {
		if result.Err != nil {
			env.t.Fatalf("ft_transfer_call: %v", result.Err)
		}
		var raw string
		if err := json.Unmarshal(result.Value, &raw); err != nil {
			env.t.Fatalf("decode transfer result: %v", err)
		}
		value, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			env.t.Fatalf("malformed transfer result %q", raw)
		}
		kept.Set(value)
	})
	env.drain()
	return kept
}

func marshalMessage(t *testing.T, msg *TransferMessage) string {
	t.Helper()
	wire := `{"action":"` + msg.Action + `","token":"` + msg.Token.String() +
		`","amount":"` + amountString(msg.Amount) +
		`","interest":"` + amountString(msg.Interest) +
		`","collateral":"` + amountString(msg.Collateral) +
		`","duration":` + uintString(msg.Duration) + `}`
	return wire
}

func (env *testEnv) requireIdle() {
	env.t.Helper()
	if env.vault.ProcessingState != ProcessingIdle {
		env.t.Fatalf("expected idle, got %s", env.vault.ProcessingState)
	}
	if env.vault.ProcessingSince != 0 {
		env.t.Fatalf("expected processing_since 0, got %d", env.vault.ProcessingSince)
	}
}

func (env *testEnv) lastEvent() string {
	names := env.emitter.Names()
	if len(names) == 0 {
		return ""
	}
	return names[len(names)-1]
}

func (env *testEnv) hasEvent(name string) bool {
	for _, n := range env.emitter.Names() {
		if n == name {
			return true
		}
	}
	return false
}

func mustEqualBig(t *testing.T, want, got *big.Int, label string) {
	t.Helper()
	if want.Cmp(got) != 0 {
		t.Fatalf("%s: want %s, got %s", label, want, got)
	}
}
