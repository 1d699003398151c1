package vault

import "math/big"

const (
	// NumEpochsToUnlock is the number of epochs unstaked funds spend bonding
	// before they become withdrawable.
	NumEpochsToUnlock uint64 = 4
	// RefundExpiryEpochs is the retry horizon for failed refunds.
	RefundExpiryEpochs uint64 = 4
	// MaxCounterOffers bounds the counter-offer book per vault.
	MaxCounterOffers = 7
	// MaxActiveValidators bounds the validators a vault can stake with.
	MaxActiveValidators = 2
	// NanosPerSecond is the number of nanoseconds in one second.
	NanosPerSecond uint64 = 1_000_000_000
	// LockTimeout is how long a processing lock may sit before it is
	// considered abandoned and reclaimable.
	LockTimeout uint64 = 30 * 60 * NanosPerSecond
	// MaxLoanDuration keeps accepted_at + duration*1e9 within uint64 range.
	MaxLoanDuration uint64 = ^uint64(0)/NanosPerSecond - 1
)

var (
	// StorageBuffer is the native balance reserved so the vault can never be
	// deleted through storage exhaustion (0.01 in smallest units of a
	// 24-decimal native token).
	StorageBuffer = new(big.Int).Exp(big.NewInt(10), big.NewInt(22), nil)
	// OneYocto is the deposit attached to intent-confirming calls.
	OneYocto = big.NewInt(1)
)
