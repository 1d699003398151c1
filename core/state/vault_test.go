package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"sudovault/core/types"
	"sudovault/native/vault"
	"sudovault/storage"
)

func fullVault() *vault.Vault {
	owner := types.AccountID("owner.testnet")
	lender := types.AccountID("lender.testnet")
	token := types.AccountID("usdc.testnet")
	val1 := types.AccountID("v1.pool.testnet")
	val2 := types.AccountID("v2.pool.testnet")

	v := vault.NewVault(owner, 3, 2)
	v.ActiveValidators = []types.AccountID{val1, val2}
	v.UnstakeEntries[val1] = []vault.UnstakeEntry{
		{Amount: big.NewInt(100), Epoch: 10},
		{Amount: big.NewInt(50), Epoch: 12},
	}
	v.PendingLiquidityRequest = &vault.PendingLiquidityRequest{
		Token:      token,
		Amount:     big.NewInt(1_000_000),
		Interest:   big.NewInt(100_000),
		Collateral: big.NewInt(5_000),
		Duration:   86_400,
	}
	v.LiquidityRequest = &vault.LiquidityRequest{
		Token:      token,
		Amount:     big.NewInt(1_000_000),
		Interest:   big.NewInt(100_000),
		Collateral: big.NewInt(5_000),
		Duration:   86_400,
		CreatedAt:  777,
	}
	v.CounterOffers = map[types.AccountID]*vault.CounterOffer{
		lender: {Proposer: lender, Amount: big.NewInt(400_000), Timestamp: 900},
	}
	v.AcceptedOffer = &vault.AcceptedOffer{Lender: lender, AcceptedAt: 950}
	v.Liquidation = &vault.Liquidation{Liquidated: big.NewInt(2_000)}
	v.RefundList[4] = &vault.RefundEntry{
		Token:        &token,
		Proposer:     lender,
		Amount:       big.NewInt(123),
		AddedAtEpoch: 11,
	}
	v.RefundList[9] = &vault.RefundEntry{
		Proposer:     owner,
		Amount:       big.NewInt(456),
		AddedAtEpoch: 12,
	}
	v.RefundNonce = 10
	v.ProcessingState = vault.ProcessingClaims
	v.ProcessingSince = 12345
	v.IsListedForTakeover = true
	return v
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	original := fullVault()
	require.NoError(t, m.Save(original))

	loaded, found, err := m.Load()
	require.NoError(t, err)
	require.True(t, found)

	require.Equal(t, original.Owner, loaded.Owner)
	require.Equal(t, original.Index, loaded.Index)
	require.Equal(t, original.Version, loaded.Version)
	require.Equal(t, original.ActiveValidators, loaded.ActiveValidators)
	require.Equal(t, original.UnstakeEntries, loaded.UnstakeEntries)
	require.Equal(t, original.PendingLiquidityRequest, loaded.PendingLiquidityRequest)
	require.Equal(t, original.LiquidityRequest, loaded.LiquidityRequest)
	require.Equal(t, original.CounterOffers, loaded.CounterOffers)
	require.Equal(t, original.AcceptedOffer, loaded.AcceptedOffer)
	require.Equal(t, original.Liquidation, loaded.Liquidation)
	require.Equal(t, original.RefundList, loaded.RefundList)
	require.Equal(t, original.RefundNonce, loaded.RefundNonce)
	require.Equal(t, original.ProcessingState, loaded.ProcessingState)
	require.Equal(t, original.ProcessingSince, loaded.ProcessingSince)
	require.Equal(t, original.IsListedForTakeover, loaded.IsListedForTakeover)
}

func TestSaveDropsEmptiedGroups(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	v := fullVault()
	require.NoError(t, m.Save(v))

	// Clear every optional group the way workflows do and save again.
	v.PendingLiquidityRequest = nil
	v.LiquidityRequest = nil
	v.CounterOffers = nil
	v.AcceptedOffer = nil
	v.Liquidation = nil
	v.UnstakeEntries = map[types.AccountID][]vault.UnstakeEntry{}
	v.RefundList = map[uint64]*vault.RefundEntry{}
	v.ProcessingState = vault.ProcessingIdle
	v.ProcessingSince = 0
	require.NoError(t, m.Save(v))

	loaded, found, err := m.Load()
	require.NoError(t, err)
	require.True(t, found)
	require.Nil(t, loaded.PendingLiquidityRequest)
	require.Nil(t, loaded.LiquidityRequest)
	require.Nil(t, loaded.CounterOffers)
	require.Nil(t, loaded.AcceptedOffer)
	require.Nil(t, loaded.Liquidation)
	require.Empty(t, loaded.UnstakeEntries)
	require.Empty(t, loaded.RefundList)
	require.Equal(t, vault.ProcessingIdle, loaded.ProcessingState)
}

func TestLoadOnEmptyDatabase(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	loaded, found, err := m.Load()
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, loaded)

	ok, err := m.Loaded()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadRejectsCorruptProcessingState(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)

	v := fullVault()
	v.ProcessingState = vault.ProcessingState(99)
	require.NoError(t, m.Save(v))

	_, _, err := m.Load()
	require.Error(t, err)
}
