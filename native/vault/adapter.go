package vault

import (
	"encoding/json"
	"fmt"
	"math/big"

	"sudovault/core/types"
	"sudovault/runtime"
)

// Typed wrappers over the staking-pool and fungible-token call surface. Every
// call scheduled here is paired with a continuation; there are no floating
// promises.

const (
	methodDepositAndStake    = "deposit_and_stake"
	methodUnstake            = "unstake"
	methodWithdrawAll        = "withdraw_all"
	methodGetStakedBalance   = "get_account_staked_balance"
	methodGetUnstakedBalance = "get_account_unstaked_balance"
	methodFTTransfer         = "ft_transfer"
)

type accountArgs struct {
	AccountID types.AccountID `json:"account_id"`
}

type amountArgs struct {
	Amount string `json:"amount"`
}

type ftTransferArgs struct {
	ReceiverID types.AccountID `json:"receiver_id"`
	Amount     string          `json:"amount"`
	Memo       *string         `json:"memo"`
}

func (e *Engine) depositAndStakeCall(validator types.AccountID, amount *big.Int) runtime.Call {
	return runtime.Call{
		Caller:  e.self,
		Target:  validator,
		Method:  methodDepositAndStake,
		Deposit: cloneBigInt(amount),
	}
}

func (e *Engine) unstakeCall(validator types.AccountID, amount *big.Int) runtime.Call {
	args, _ := json.Marshal(amountArgs{Amount: amountString(amount)})
	return runtime.Call{
		Caller: e.self,
		Target: validator,
		Method: methodUnstake,
		Args:   args,
	}
}

func (e *Engine) withdrawAllCall(validator types.AccountID) runtime.Call {
	return runtime.Call{
		Caller: e.self,
		Target: validator,
		Method: methodWithdrawAll,
	}
}

func (e *Engine) stakedBalanceCall(validator types.AccountID) runtime.Call {
	args, _ := json.Marshal(accountArgs{AccountID: e.self})
	return runtime.Call{
		Caller: e.self,
		Target: validator,
		Method: methodGetStakedBalance,
		Args:   args,
	}
}

func (e *Engine) unstakedBalanceCall(validator types.AccountID) runtime.Call {
	args, _ := json.Marshal(accountArgs{AccountID: e.self})
	return runtime.Call{
		Caller: e.self,
		Target: validator,
		Method: methodGetUnstakedBalance,
		Args:   args,
	}
}

func (e *Engine) ftTransferCall(token, receiver types.AccountID, amount *big.Int) runtime.Call {
	args, _ := json.Marshal(ftTransferArgs{ReceiverID: receiver, Amount: amountString(amount)})
	return runtime.Call{
		Caller:  e.self,
		Target:  token,
		Method:  methodFTTransfer,
		Args:    args,
		Deposit: new(big.Int).Set(OneYocto),
	}
}

// parseBalance decodes a balance view result, a JSON-quoted decimal string.
func parseBalance(result runtime.Result) (*big.Int, error) {
	if result.Err != nil {
		return nil, result.Err
	}
	var raw string
	if err := json.Unmarshal(result.Value, &raw); err != nil {
		return nil, fmt.Errorf("vault engine: malformed balance result: %w", err)
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("vault engine: malformed balance value %q", raw)
	}
	return value, nil
}
