// Package state persists vault instances. Every top-level field group lives
// under its own versioned storage key so partial reads stay cheap and future
// migrations can move one group at a time.
package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"sudovault/core/types"
	"sudovault/native/vault"
	"sudovault/storage"
)

const (
	keyMeta           = "vault/v1/meta"
	keyValidators     = "vault/v1/validators"
	keyUnstakeIndex   = "vault/v1/unstake-index"
	keyUnstakePrefix  = "vault/v1/unstake/"
	keyPendingRequest = "vault/v1/pending-request"
	keyRequest        = "vault/v1/request"
	keyOffers         = "vault/v1/offers"
	keyAccepted       = "vault/v1/accepted"
	keyLiquidation    = "vault/v1/liquidation"
	keyRefundIndex    = "vault/v1/refund-index"
	keyRefundPrefix   = "vault/v1/refund/"
)

func storageKey(path string) []byte {
	return crypto.Keccak256([]byte(path))
}

// unstakeKey hashes the validator account into the key so account length never
// leaks into key size.
func unstakeKey(validator types.AccountID) []byte {
	return crypto.Keccak256([]byte(keyUnstakePrefix), []byte(validator))
}

func refundKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return crypto.Keccak256([]byte(keyRefundPrefix), buf[:])
}

type storedMeta struct {
	Owner               string
	Index               uint64
	Version             uint64
	RefundNonce         uint64
	ProcessingState     uint8
	ProcessingSince     uint64
	IsListedForTakeover bool
}

type storedUnstakeEntry struct {
	Amount *big.Int
	Epoch  uint64
}

type storedRequest struct {
	Token      string
	Amount     *big.Int
	Interest   *big.Int
	Collateral *big.Int
	Duration   uint64
	CreatedAt  uint64
}

type storedOffer struct {
	Proposer  string
	Amount    *big.Int
	Timestamp uint64
}

type storedAccepted struct {
	Lender     string
	AcceptedAt uint64
}

type storedLiquidation struct {
	Liquidated *big.Int
}

type storedRefund struct {
	HasToken     bool
	Token        string
	Proposer     string
	Amount       *big.Int
	AddedAtEpoch uint64
}

// Manager reads and writes one vault's state against a key-value database. It
// implements the engine's persister contract.
type Manager struct {
	db storage.Database
}

// NewManager wraps the database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Save writes the full vault state, removing keys whose field groups emptied
// since the previous save.
func (m *Manager) Save(v *vault.Vault) error {
	if v == nil {
		return errors.New("state: nil vault")
	}
	meta := storedMeta{
		Owner:               v.Owner.String(),
		Index:               v.Index,
		Version:             v.Version,
		RefundNonce:         v.RefundNonce,
		ProcessingState:     uint8(v.ProcessingState),
		ProcessingSince:     v.ProcessingSince,
		IsListedForTakeover: v.IsListedForTakeover,
	}
	if err := m.put(storageKey(keyMeta), meta); err != nil {
		return err
	}

	validators := make([]string, len(v.ActiveValidators))
	for i, validator := range v.ActiveValidators {
		validators[i] = validator.String()
	}
	if err := m.put(storageKey(keyValidators), validators); err != nil {
		return err
	}

	if err := m.saveUnstakeQueues(v); err != nil {
		return err
	}
	if err := m.saveOptional(storageKey(keyPendingRequest), v.PendingLiquidityRequest != nil, func() interface{} {
		p := v.PendingLiquidityRequest
		return storedRequest{
			Token:      p.Token.String(),
			Amount:     p.Amount,
			Interest:   p.Interest,
			Collateral: p.Collateral,
			Duration:   p.Duration,
		}
	}); err != nil {
		return err
	}
	if err := m.saveOptional(storageKey(keyRequest), v.LiquidityRequest != nil, func() interface{} {
		r := v.LiquidityRequest
		return storedRequest{
			Token:      r.Token.String(),
			Amount:     r.Amount,
			Interest:   r.Interest,
			Collateral: r.Collateral,
			Duration:   r.Duration,
			CreatedAt:  r.CreatedAt,
		}
	}); err != nil {
		return err
	}
	if err := m.saveOffers(v); err != nil {
		return err
	}
	if err := m.saveOptional(storageKey(keyAccepted), v.AcceptedOffer != nil, func() interface{} {
		return storedAccepted{Lender: v.AcceptedOffer.Lender.String(), AcceptedAt: v.AcceptedOffer.AcceptedAt}
	}); err != nil {
		return err
	}
	if err := m.saveOptional(storageKey(keyLiquidation), v.Liquidation != nil, func() interface{} {
		return storedLiquidation{Liquidated: v.Liquidation.Liquidated}
	}); err != nil {
		return err
	}
	return m.saveRefunds(v)
}

func (m *Manager) saveUnstakeQueues(v *vault.Vault) error {
	previous, err := m.loadStringIndex(keyUnstakeIndex)
	if err != nil {
		return err
	}

	current := make([]string, 0, len(v.UnstakeEntries))
	for validator, entries := range v.UnstakeEntries {
		if len(entries) == 0 {
			continue
		}
		current = append(current, validator.String())
	}
	sort.Strings(current)

	kept := make(map[string]bool, len(current))
	for _, name := range current {
		kept[name] = true
	}
	for _, name := range previous {
		if !kept[name] {
			if err := m.db.Delete(unstakeKey(types.AccountID(name))); err != nil {
				return err
			}
		}
	}

	for _, name := range current {
		entries := v.UnstakeEntries[types.AccountID(name)]
		stored := make([]storedUnstakeEntry, len(entries))
		for i, entry := range entries {
			stored[i] = storedUnstakeEntry{Amount: entry.Amount, Epoch: entry.Epoch}
		}
		if err := m.put(unstakeKey(types.AccountID(name)), stored); err != nil {
			return err
		}
	}
	return m.put(storageKey(keyUnstakeIndex), current)
}

func (m *Manager) saveOffers(v *vault.Vault) error {
	if len(v.CounterOffers) == 0 {
		return m.deleteIgnoreMissing(storageKey(keyOffers))
	}
	stored := make([]storedOffer, 0, len(v.CounterOffers))
	for _, offer := range v.CounterOffers {
		stored = append(stored, storedOffer{
			Proposer:  offer.Proposer.String(),
			Amount:    offer.Amount,
			Timestamp: offer.Timestamp,
		})
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Proposer < stored[j].Proposer })
	return m.put(storageKey(keyOffers), stored)
}

func (m *Manager) saveRefunds(v *vault.Vault) error {
	previous, err := m.loadUintIndex(keyRefundIndex)
	if err != nil {
		return err
	}

	current := make([]uint64, 0, len(v.RefundList))
	for id := range v.RefundList {
		current = append(current, id)
	}
	sort.Slice(current, func(i, j int) bool { return current[i] < current[j] })

	kept := make(map[uint64]bool, len(current))
	for _, id := range current {
		kept[id] = true
	}
	for _, id := range previous {
		if !kept[id] {
			if err := m.db.Delete(refundKey(id)); err != nil {
				return err
			}
		}
	}

	for _, id := range current {
		entry := v.RefundList[id]
		stored := storedRefund{
			Proposer:     entry.Proposer.String(),
			Amount:       entry.Amount,
			AddedAtEpoch: entry.AddedAtEpoch,
		}
		if entry.Token != nil {
			stored.HasToken = true
			stored.Token = entry.Token.String()
		}
		if err := m.put(refundKey(id), stored); err != nil {
			return err
		}
	}
	return m.put(storageKey(keyRefundIndex), current)
}

// Loaded reports whether a vault has ever been persisted.
func (m *Manager) Loaded() (bool, error) {
	_, err := m.db.Get(storageKey(keyMeta))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Load rebuilds the vault from storage. The bool reports whether any state
// was present.
func (m *Manager) Load() (*vault.Vault, bool, error) {
	var meta storedMeta
	found, err := m.get(storageKey(keyMeta), &meta)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	v := vault.NewVault(types.AccountID(meta.Owner), meta.Index, meta.Version)
	v.RefundNonce = meta.RefundNonce
	v.ProcessingState = vault.ProcessingState(meta.ProcessingState)
	v.ProcessingSince = meta.ProcessingSince
	v.IsListedForTakeover = meta.IsListedForTakeover
	if !v.ProcessingState.Valid() {
		return nil, false, fmt.Errorf("state: corrupt processing state %d", meta.ProcessingState)
	}

	var validators []string
	if _, err := m.get(storageKey(keyValidators), &validators); err != nil {
		return nil, false, err
	}
	for _, name := range validators {
		v.ActiveValidators = append(v.ActiveValidators, types.AccountID(name))
	}

	queued, err := m.loadStringIndex(keyUnstakeIndex)
	if err != nil {
		return nil, false, err
	}
	for _, name := range queued {
		var stored []storedUnstakeEntry
		if _, err := m.get(unstakeKey(types.AccountID(name)), &stored); err != nil {
			return nil, false, err
		}
		entries := make([]vault.UnstakeEntry, len(stored))
		for i, entry := range stored {
			entries[i] = vault.UnstakeEntry{Amount: entry.Amount, Epoch: entry.Epoch}
		}
		v.UnstakeEntries[types.AccountID(name)] = entries
	}

	var pending storedRequest
	if found, err := m.get(storageKey(keyPendingRequest), &pending); err != nil {
		return nil, false, err
	} else if found {
		v.PendingLiquidityRequest = &vault.PendingLiquidityRequest{
			Token:      types.AccountID(pending.Token),
			Amount:     pending.Amount,
			Interest:   pending.Interest,
			Collateral: pending.Collateral,
			Duration:   pending.Duration,
		}
	}

	var request storedRequest
	if found, err := m.get(storageKey(keyRequest), &request); err != nil {
		return nil, false, err
	} else if found {
		v.LiquidityRequest = &vault.LiquidityRequest{
			Token:      types.AccountID(request.Token),
			Amount:     request.Amount,
			Interest:   request.Interest,
			Collateral: request.Collateral,
			Duration:   request.Duration,
			CreatedAt:  request.CreatedAt,
		}
	}

	var offers []storedOffer
	if found, err := m.get(storageKey(keyOffers), &offers); err != nil {
		return nil, false, err
	} else if found && len(offers) > 0 {
		v.CounterOffers = make(map[types.AccountID]*vault.CounterOffer, len(offers))
		for _, offer := range offers {
			v.CounterOffers[types.AccountID(offer.Proposer)] = &vault.CounterOffer{
				Proposer:  types.AccountID(offer.Proposer),
				Amount:    offer.Amount,
				Timestamp: offer.Timestamp,
			}
		}
	}

	var accepted storedAccepted
	if found, err := m.get(storageKey(keyAccepted), &accepted); err != nil {
		return nil, false, err
	} else if found {
		v.AcceptedOffer = &vault.AcceptedOffer{
			Lender:     types.AccountID(accepted.Lender),
			AcceptedAt: accepted.AcceptedAt,
		}
	}

	var liquidation storedLiquidation
	if found, err := m.get(storageKey(keyLiquidation), &liquidation); err != nil {
		return nil, false, err
	} else if found {
		v.Liquidation = &vault.Liquidation{Liquidated: liquidation.Liquidated}
	}

	refundIDs, err := m.loadUintIndex(keyRefundIndex)
	if err != nil {
		return nil, false, err
	}
	for _, id := range refundIDs {
		var stored storedRefund
		if _, err := m.get(refundKey(id), &stored); err != nil {
			return nil, false, err
		}
		entry := &vault.RefundEntry{
			Proposer:     types.AccountID(stored.Proposer),
			Amount:       stored.Amount,
			AddedAtEpoch: stored.AddedAtEpoch,
		}
		if stored.HasToken {
			token := types.AccountID(stored.Token)
			entry.Token = &token
		}
		v.RefundList[id] = entry
	}
	return v, true, nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	return m.db.Put(key, encoded)
}

// get decodes the value under key, reporting presence.
func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode: %w", err)
	}
	return true, nil
}

func (m *Manager) saveOptional(key []byte, present bool, value func() interface{}) error {
	if !present {
		return m.deleteIgnoreMissing(key)
	}
	return m.put(key, value())
}

func (m *Manager) deleteIgnoreMissing(key []byte) error {
	err := m.db.Delete(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (m *Manager) loadStringIndex(path string) ([]string, error) {
	var index []string
	if _, err := m.get(storageKey(path), &index); err != nil {
		return nil, err
	}
	return index, nil
}

func (m *Manager) loadUintIndex(path string) ([]uint64, error) {
	var index []uint64
	if _, err := m.get(storageKey(path), &index); err != nil {
		return nil, err
	}
	return index, nil
}
