package main

import (
	"encoding/json"
	"math/big"
	"net/http"

	"sudovault/core/types"
	"sudovault/native/staking"
	"sudovault/native/token"
	"sudovault/native/vault"
	"sudovault/runtime"
)

// The API accepts amounts as decimal strings in the smallest denomination,
// the same convention the contract surface uses.

type callerBody struct {
	Caller  types.AccountID `json:"caller"`
	Deposit string          `json:"deposit"`
}

func (b callerBody) context() (vault.CallContext, error) {
	deposit := big.NewInt(0)
	if b.Deposit != "" {
		parsed, ok := new(big.Int).SetString(b.Deposit, 10)
		if !ok || parsed.Sign() < 0 {
			return vault.CallContext{}, errBadAmount(b.Deposit)
		}
		deposit = parsed
	}
	return vault.CallContext{Caller: b.Caller, Deposit: deposit}, nil
}

type apiError struct {
	Error string `json:"error"`
}

type badAmountError string

func (e badAmountError) Error() string { return "malformed amount " + string(e) }

func errBadAmount(raw string) error { return badAmountError(raw) }

func decode(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondErr(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, apiError{Error: err.Error()})
}

func parseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, errBadAmount(raw)
	}
	return value, nil
}

// finish drains the scheduler so every continuation of the operation runs,
// then returns the post-operation view.
func (e *env) finish(w http.ResponseWriter) {
	e.sched.Drain()
	respondJSON(w, http.StatusOK, e.engine.View())
}

func (e *env) handleView(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, e.engine.View())
}

func (e *env) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Epochs  uint64 `json:"epochs"`
		Seconds uint64 `json:"seconds"`
	}
	if err := decode(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	e.sched.AdvanceEpochs(body.Epochs)
	e.sched.AdvanceNow(body.Seconds * uint64(1_000_000_000))
	e.finish(w)
}

func (e *env) handleAddPool(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Account types.AccountID `json:"account"`
	}
	if err := decode(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if _, exists := e.pools[body.Account]; !exists {
		pool := staking.NewPool(body.Account)
		e.pools[body.Account] = pool
		e.sched.Register(body.Account, pool)
	}
	respondJSON(w, http.StatusOK, map[string]string{"account": body.Account.String()})
}

func (e *env) handleAddToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Account types.AccountID `json:"account"`
	}
	if err := decode(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if _, exists := e.tokens[body.Account]; !exists {
		ledger := token.NewLedger(body.Account)
		ledger.RegisterReceiver(e.engine.Self(), e.engine)
		e.tokens[body.Account] = ledger
		e.sched.Register(body.Account, ledger)
	}
	respondJSON(w, http.StatusOK, map[string]string{"account": body.Account.String()})
}

func (e *env) handleFund(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Account types.AccountID  `json:"account"`
		Amount  string           `json:"amount"`
		Token   *types.AccountID `json:"token"`
	}
	if err := decode(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if body.Token == nil {
		e.sched.Credit(body.Account, amount)
	} else {
		ledger, ok := e.tokens[*body.Token]
		if !ok {
			respondErr(w, http.StatusNotFound, errBadAmount("unknown token "+body.Token.String()))
			return
		}
		ledger.Mint(body.Account, amount)
	}
	respondJSON(w, http.StatusOK, map[string]string{"account": body.Account.String(), "amount": amount.String()})
}

func (e *env) handleDelegate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		callerBody
		Validator types.AccountID `json:"validator"`
		Amount    string          `json:"amount"`
	}
	if err := decode(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	ctx, err := body.context()
	if err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if err := e.engine.Delegate(ctx, body.Validator, amount); err != nil {
		respondErr(w, http.StatusUnprocessableEntity, err)
		return
	}
	e.finish(w)
}

func (e *env) handleUndelegate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		callerBody
		Validator types.AccountID `json:"validator"`
		Amount    string          `json:"amount"`
	}
	if err := decode(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	ctx, err := body.context()
	if err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if err := e.engine.Undelegate(ctx, body.Validator, amount); err != nil {
		respondErr(w, http.StatusUnprocessableEntity, err)
		return
	}
	e.finish(w)
}

func (e *env) handleClaimUnstaked(w http.ResponseWriter, r *http.Request) {
	var body struct {
		callerBody
		Validator types.AccountID `json:"validator"`
	}
	if err := decode(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	ctx, err := body.context()
	if err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if err := e.engine.ClaimUnstaked(ctx, body.Validator); err != nil {
		respondErr(w, http.StatusUnprocessableEntity, err)
		return
	}
	e.finish(w)
}

func (e *env) handleRequestLiquidity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		callerBody
		Token      types.AccountID `json:"token"`
		Amount     string          `json:"amount"`
		Interest   string          `json:"interest"`
		Collateral string          `json:"collateral"`
		Duration   uint64          `json:"duration"`
	}
	if err := decode(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	ctx, err := body.context()
	if err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	interest, err := parseAmount(body.Interest)
	if err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	collateral, err := parseAmount(body.Collateral)
	if err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if err := e.engine.RequestLiquidity(ctx, body.Token, amount, interest, collateral, body.Duration); err != nil {
		respondErr(w, http.StatusUnprocessableEntity, err)
		return
	}
	e.finish(w)
}

func (e *env) handleCancelLiquidityRequest(w http.ResponseWriter, r *http.Request) {
	e.simpleCall(w, r, func(ctx vault.CallContext) error {
		return e.engine.CancelLiquidityRequest(ctx)
	})
}

func (e *env) handleAcceptCounterOffer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		callerBody
		Proposer types.AccountID `json:"proposer"`
		Amount   string          `json:"amount"`
	}
	if err := decode(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	ctx, err := body.context()
	if err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if err := e.engine.AcceptCounterOffer(ctx, body.Proposer, amount); err != nil {
		respondErr(w, http.StatusUnprocessableEntity, err)
		return
	}
	e.finish(w)
}

func (e *env) handleCancelCounterOffer(w http.ResponseWriter, r *http.Request) {
	e.simpleCall(w, r, func(ctx vault.CallContext) error {
		return e.engine.CancelCounterOffer(ctx)
	})
}

func (e *env) handleRepayLoan(w http.ResponseWriter, r *http.Request) {
	e.simpleCall(w, r, func(ctx vault.CallContext) error {
		return e.engine.RepayLoan(ctx)
	})
}

func (e *env) handleProcessClaims(w http.ResponseWriter, r *http.Request) {
	e.simpleCall(w, r, func(ctx vault.CallContext) error {
		return e.engine.ProcessClaims(ctx)
	})
}

func (e *env) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var body struct {
		callerBody
		NewOwner types.AccountID `json:"new_owner"`
	}
	if err := decode(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	ctx, err := body.context()
	if err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if err := e.engine.TransferOwnership(ctx, body.NewOwner); err != nil {
		respondErr(w, http.StatusUnprocessableEntity, err)
		return
	}
	e.finish(w)
}

func (e *env) handleListForTakeover(w http.ResponseWriter, r *http.Request) {
	e.simpleCall(w, r, func(ctx vault.CallContext) error {
		return e.engine.ListForTakeover(ctx)
	})
}

func (e *env) handleCancelTakeover(w http.ResponseWriter, r *http.Request) {
	e.simpleCall(w, r, func(ctx vault.CallContext) error {
		return e.engine.CancelTakeover(ctx)
	})
}

func (e *env) handleClaimVault(w http.ResponseWriter, r *http.Request) {
	e.simpleCall(w, r, func(ctx vault.CallContext) error {
		return e.engine.ClaimVault(ctx)
	})
}

func (e *env) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var body struct {
		callerBody
		Token  *types.AccountID `json:"token"`
		Amount string           `json:"amount"`
		To     *types.AccountID `json:"to"`
	}
	if err := decode(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	ctx, err := body.context()
	if err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if err := e.engine.WithdrawBalance(ctx, body.Token, amount, body.To); err != nil {
		respondErr(w, http.StatusUnprocessableEntity, err)
		return
	}
	e.finish(w)
}

func (e *env) handleRetryRefunds(w http.ResponseWriter, r *http.Request) {
	e.simpleCall(w, r, func(ctx vault.CallContext) error {
		return e.engine.RetryRefunds(ctx)
	})
}

// handleFTTransferCall drives a lender-side ft_transfer_call through the
// scheduler, the same route an on-chain wallet would take.
func (e *env) handleFTTransferCall(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token  types.AccountID `json:"token"`
		Sender types.AccountID `json:"sender"`
		Amount string          `json:"amount"`
		Msg    json.RawMessage `json:"msg"`
	}
	if err := decode(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}

	args, err := json.Marshal(struct {
		ReceiverID types.AccountID `json:"receiver_id"`
		Amount     string          `json:"amount"`
		Msg        string          `json:"msg"`
	}{ReceiverID: e.engine.Self(), Amount: amount.String(), Msg: string(body.Msg)})
	if err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}

	e.sched.Schedule(runtime.Call{
		Caller:  body.Sender,
		Target:  body.Token,
		Method:  "ft_transfer_call",
		Args:    args,
		Deposit: big.NewInt(1),
	}, nil)
	e.finish(w)
}

func (e *env) simpleCall(w http.ResponseWriter, r *http.Request, op func(vault.CallContext) error) {
	var body callerBody
	if err := decode(r, &body); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	ctx, err := body.context()
	if err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if err := op(ctx); err != nil {
		respondErr(w, http.StatusUnprocessableEntity, err)
		return
	}
	e.finish(w)
}
