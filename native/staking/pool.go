// Package staking provides a deterministic staking-pool contract for the
// scheduler. It mirrors the behavior vaults depend on: deposits become stake,
// unstaking locks funds for a fixed number of epochs, and withdrawals move
// native balance back to the caller once matured.
package staking

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"sudovault/core/types"
	"sudovault/runtime"
)

// UnlockEpochs is how many epochs an unstaked amount stays in bonding before
// withdraw_all releases it.
const UnlockEpochs = 4

var (
	errUnknownMethod = errors.New("staking: unknown method")
	errZeroDeposit   = errors.New("staking: deposit_and_stake requires a deposit")
	errOverdrawn     = errors.New("staking: unstake amount exceeds staked balance")
	errStillLocked   = errors.New("staking: unstaked balance not yet withdrawable")
)

type account struct {
	staked     *big.Int
	unstaked   *big.Int
	unlockedAt uint64
}

// Pool is one staking-pool contract instance.
type Pool struct {
	mu       sync.Mutex
	id       types.AccountID
	accounts map[types.AccountID]*account
	failNext map[string]error
}

// NewPool returns an empty pool bound to its account id. Register it on the
// scheduler under the same id.
func NewPool(id types.AccountID) *Pool {
	return &Pool{
		id:       id,
		accounts: make(map[types.AccountID]*account),
		failNext: make(map[string]error),
	}
}

// FailNext makes the next invocation of the given method fail with the error.
func (p *Pool) FailNext(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext[method] = err
}

// AddRewards grows an account's staked balance out of band, modelling epoch
// rewards. The native backing is minted into the pool so later withdrawals
// stay solvent.
func (p *Pool) AddRewards(sched *runtime.Scheduler, id types.AccountID, amount *big.Int) {
	p.mu.Lock()
	acc := p.account(id)
	acc.staked = new(big.Int).Add(acc.staked, amount)
	p.mu.Unlock()
	sched.Credit(p.id, amount)
}

// StakedBalance reports the pool-side staked balance, for test assertions.
func (p *Pool) StakedBalance(id types.AccountID) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.account(id).staked)
}

// UnstakedBalance reports the pool-side unstaked balance.
func (p *Pool) UnstakedBalance(id types.AccountID) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.account(id).unstaked)
}

func (p *Pool) account(id types.AccountID) *account {
	acc, ok := p.accounts[id]
	if !ok {
		acc = &account{staked: big.NewInt(0), unstaked: big.NewInt(0)}
		p.accounts[id] = acc
	}
	return acc
}

func (p *Pool) takeFailure(method string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err, ok := p.failNext[method]
	if ok {
		delete(p.failNext, method)
	}
	return err
}

// Invoke dispatches one scheduled call against the pool.
func (p *Pool) Invoke(env runtime.HostEnv, caller types.AccountID, method string, args []byte, deposit *big.Int) ([]byte, error) {
	if err := p.takeFailure(method); err != nil {
		return nil, err
	}
	switch method {
	case "deposit_and_stake":
		return p.depositAndStake(caller, deposit)
	case "unstake":
		return p.unstake(env, caller, args)
	case "withdraw_all":
		return p.withdrawAll(env, caller)
	case "get_account_staked_balance":
		return p.balanceView(args, func(acc *account) *big.Int { return acc.staked })
	case "get_account_unstaked_balance":
		return p.balanceView(args, func(acc *account) *big.Int { return acc.unstaked })
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownMethod, method)
	}
}

func (p *Pool) depositAndStake(caller types.AccountID, deposit *big.Int) ([]byte, error) {
	if deposit == nil || deposit.Sign() <= 0 {
		return nil, errZeroDeposit
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	acc := p.account(caller)
	acc.staked = new(big.Int).Add(acc.staked, deposit)
	return nil, nil
}

func (p *Pool) unstake(env runtime.HostEnv, caller types.AccountID, args []byte) ([]byte, error) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("staking: malformed unstake args: %w", err)
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("staking: malformed unstake amount %q", req.Amount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	acc := p.account(caller)
	if acc.staked.Cmp(amount) < 0 {
		return nil, errOverdrawn
	}
	acc.staked = new(big.Int).Sub(acc.staked, amount)
	acc.unstaked = new(big.Int).Add(acc.unstaked, amount)
	// Every unstake restarts the bonding clock for the whole unstaked balance,
	// matching pool contract behavior.
	acc.unlockedAt = env.Epoch() + UnlockEpochs
	return nil, nil
}

func (p *Pool) withdrawAll(env runtime.HostEnv, caller types.AccountID) ([]byte, error) {
	p.mu.Lock()
	acc := p.account(caller)
	if acc.unstaked.Sign() == 0 {
		p.mu.Unlock()
		return nil, nil
	}
	if env.Epoch() < acc.unlockedAt {
		p.mu.Unlock()
		return nil, errStillLocked
	}
	amount := acc.unstaked
	acc.unstaked = big.NewInt(0)
	p.mu.Unlock()

	if err := env.Debit(p.id, amount); err != nil {
		return nil, err
	}
	env.Credit(caller, amount)
	return nil, nil
}

func (p *Pool) balanceView(args []byte, pick func(*account) *big.Int) ([]byte, error) {
	var req struct {
		AccountID types.AccountID `json:"account_id"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("staking: malformed balance args: %w", err)
	}
	p.mu.Lock()
	value := new(big.Int).Set(pick(p.account(req.AccountID)))
	p.mu.Unlock()
	return json.Marshal(value.String())
}
