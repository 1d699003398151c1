package vault

import "sudovault/core/types"

// Canonical event names. Every state change emits exactly one of these; the
// log emitter renders them as EVENT_JSON lines.
const (
	EventVaultCreated = "vault_created"

	EventDelegateStarted   = "delegate_started"
	EventDelegateDirect    = "delegate_direct"
	EventDelegateCompleted = "delegate_completed"
	EventDelegateFailed    = "delegate_failed"

	EventUnstakeRecorded = "unstake_recorded"
	EventUnstakeFailed   = "unstake_failed"

	EventUndelegateStarted     = "undelegate_started"
	EventUndelegateCheckPassed = "undelegate_check_passed"
	EventUndelegateInitiated   = "undelegate_initiated"
	EventUndelegateCompleted   = "undelegate_completed"

	EventValidatorActivated = "validator_activated"
	EventValidatorRemoved   = "validator_removed"

	EventClaimUnstakedStarted   = "claim_unstaked_started"
	EventClaimUnstakedCompleted = "claim_unstaked_completed"

	EventUnstakeEntriesReconciled = "unstake_entries_reconciled"

	EventLiquidityRequestOpened            = "liquidity_request_opened"
	EventLiquidityRequestAccepted          = "liquidity_request_accepted"
	EventLiquidityRequestCancelled         = "liquidity_request_cancelled"
	EventLiquidityRequestInsufficientStake = "liquidity_request_failed_insufficient_stake"

	EventCounterOfferCreated   = "counter_offer_created"
	EventCounterOfferEvicted   = "counter_offer_evicted"
	EventCounterOfferAccepted  = "counter_offer_accepted"
	EventCounterOfferCancelled = "counter_offer_cancelled"

	EventRepayLoanSuccessful = "repay_loan_successful"
	EventRepayLoanFailed     = "repay_loan_failed"
	EventRepayLoanStale      = "repay_loan_stale"

	EventLiquidationStarted  = "liquidation_started"
	EventLiquidationProgress = "liquidation_progress"
	EventLiquidationComplete = "liquidation_complete"

	EventRefundFailed         = "refund_failed"
	EventRetryRefundSucceeded = "retry_refund_succeeded"
	EventRetryRefundFailed    = "retry_refund_failed"
	EventRetryRefundExpired   = "retry_refund_expired"

	EventVaultListedForTakeover = "vault_listed_for_takeover"
	EventVaultTakeoverCancelled = "vault_takeover_cancelled"
	EventVaultClaimed           = "vault_claimed"
	EventClaimVaultFailed       = "claim_vault_failed"
	EventClaimVaultStale        = "claim_vault_stale"

	EventOwnershipTransferred = "ownership_transferred"

	EventWithdrawNear = "withdraw_near"
	EventWithdrawFT   = "withdraw_ft"
)

type vaultEvent struct {
	name string
	data map[string]string
}

func (e vaultEvent) EventType() string { return e.name }

func (e vaultEvent) Event() *types.Event {
	data := e.data
	if data == nil {
		data = map[string]string{}
	}
	return &types.Event{Name: e.name, Data: data}
}
