package vault

import (
	"errors"

	"sudovault/core/types"
)

var (
	errSameOwner      = errors.New("vault engine: new owner matches current owner")
	errInvalidAccount = errors.New("vault engine: invalid account id")
)

// EmitCreated announces the vault right after factory hand-off. Called once
// when the instance is first brought up.
func (e *Engine) EmitCreated() {
	e.emitEvent(EventVaultCreated,
		"vault", e.self.String(),
		"owner", e.vault.Owner.String(),
		"index", uintString(e.vault.Index),
		"version", uintString(e.vault.Version),
	)
}

// TransferOwnership hands the vault to a new owner immediately. Unlike a
// takeover claim there is no payment leg, so no lock is taken.
func (e *Engine) TransferOwnership(ctx CallContext, newOwner types.AccountID) error {
	if err := e.requireOneYocto(ctx); err != nil {
		return err
	}
	if err := e.requireOwner(ctx); err != nil {
		return err
	}
	if !newOwner.Valid() {
		return errInvalidAccount
	}
	if newOwner == e.vault.Owner {
		return errSameOwner
	}
	oldOwner := e.vault.Owner
	e.vault.Owner = newOwner
	e.emitEvent(EventOwnershipTransferred,
		"vault", e.self.String(),
		"old_owner", oldOwner.String(),
		"new_owner", newOwner.String(),
	)
	e.persist()
	return nil
}
