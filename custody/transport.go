package custody

import "github.com/fitmarket/custody-ledger/ledger"

// =============================================================================
// START TRANSPORT (kind 60) - The signer becomes the carrier
// =============================================================================

type startTransport struct{ fixedFee }

func StartTransport() ledger.Handler { return startTransport{} }

func (startTransport) Type() ledger.TransactionType { return TypeStartTransport }

func (startTransport) ReadSet(tx *ledger.Transaction) []ledger.Address {
	return []ledger.Address{tx.Asset.Address("palletId"), tx.SenderID}
}

func (startTransport) Validate(tx *ledger.Transaction) ledger.FieldErrors {
	return ledger.NewAssetValidator(tx).
		RequireString("palletId").
		Errors()
}

// Apply locks the pallet's security on the carrier and moves the pallet to
// ongoing. A carrier holds at most one escrow, so its metadata must be Empty.
func (startTransport) Apply(tx *ledger.Transaction, store ledger.Store) ledger.DomainErrors {
	palletID := tx.Asset.Address("palletId")
	carrierID := tx.SenderID

	palletAcc := store.Get(palletID)
	pallet, ok := palletOf(palletAcc)
	if !ok {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrNotRegistered, ".asset.palletId", palletID,
			"pallet is not registered")}
	}
	if pallet.Status != ledger.PalletPending {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrInvalidPalletStatus, ".asset.palletId", pallet.Status,
			"pallet status needs to be \"pending\"")}
	}

	carrier := store.Get(carrierID)
	if kind := carrier.Meta().Kind(); kind != ledger.KindEmpty {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrRoleConflict, ".senderId", carrierID,
			"carrier account already holds %s metadata", kind)}
	}
	if carrier.Balance.LessThan(pallet.Security) {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrInsufficientBalance, ".senderId", carrier.Balance.String(),
			"carrier has not enough balance to pay the security: required %s, available %s", pallet.Security, carrier.Balance)}
	}

	carrier.Balance, _ = carrier.Balance.Sub(pallet.Security)
	carrier.Metadata = ledger.CarrierEscrow{LockedSecurity: amountPtr(pallet.Security)}
	store.Set(carrierID, carrier)

	palletAcc = store.Get(palletID)
	pallet.Status = ledger.PalletOngoing
	pallet.Carrier = addrPtr(carrierID)
	palletAcc.Metadata = pallet
	store.Set(palletID, palletAcc)
	return nil
}

func (startTransport) Undo(tx *ledger.Transaction, store ledger.Store) ledger.DomainErrors {
	palletID := tx.Asset.Address("palletId")
	carrierID := tx.SenderID

	palletAcc := store.Get(palletID)
	pallet, ok := palletOf(palletAcc)
	if !ok {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrNotRegistered, ".asset.palletId", palletID,
			"pallet is not registered")}
	}
	if pallet.Status != ledger.PalletOngoing {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrInvalidPalletStatus, ".asset.palletId", pallet.Status,
			"pallet status needs to be \"ongoing\"")}
	}
	if pallet.Carrier == nil || *pallet.Carrier != carrierID {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrWrongSigner, ".senderId", carrierID,
			"pallet is not carried by the signer")}
	}
	carrier := store.Get(carrierID)
	if locked := ledger.LockedSecurity(carrier); locked == nil || !locked.Equal(pallet.Security) {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrEscrowMismatch, ".senderId", carrierID,
			"carrier escrow does not hold the pallet security %s", pallet.Security)}
	}

	carrier.Balance = carrier.Balance.Add(pallet.Security)
	carrier.Metadata = ledger.Empty{}
	store.Set(carrierID, carrier)

	palletAcc = store.Get(palletID)
	pallet.Status = ledger.PalletPending
	pallet.Carrier = nil
	palletAcc.Metadata = pallet
	store.Set(palletID, palletAcc)
	return nil
}

// =============================================================================
// FINISH TRANSPORT (kind 70) - The recipient resolves the pallet
// =============================================================================
//
// Read-set is declared in two phases: the pallet and the signer first, then
// the carrier and sender recorded inside the pallet.

type finishTransport struct{ fixedFee }

func FinishTransport() ledger.Handler { return finishTransport{} }

func (finishTransport) Type() ledger.TransactionType { return TypeFinishTransport }

func (finishTransport) ReadSet(tx *ledger.Transaction) []ledger.Address {
	return []ledger.Address{tx.Asset.Address("palletId"), tx.SenderID}
}

func (finishTransport) DerivedReadSet(tx *ledger.Transaction, primary ledger.Reader) []ledger.Address {
	pallet, ok := palletOf(primary.Get(tx.Asset.Address("palletId")))
	if !ok {
		return nil
	}
	out := []ledger.Address{pallet.Sender}
	if pallet.Carrier != nil {
		out = append(out, *pallet.Carrier)
	}
	return out
}

func (finishTransport) Validate(tx *ledger.Transaction) ledger.FieldErrors {
	return ledger.NewAssetValidator(tx).
		RequireString("palletId").
		RequireString("status").
		Errors()
}

func (finishTransport) Apply(tx *ledger.Transaction, store ledger.Store) ledger.DomainErrors {
	palletID := tx.Asset.Address("palletId")
	status, _ := tx.Asset.String("status")

	palletAcc := store.Get(palletID)
	pallet, ok := palletOf(palletAcc)
	if !ok {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrNotRegistered, ".asset.palletId", palletID,
			"pallet is not registered")}
	}
	if tx.SenderID != pallet.Recipient {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrWrongSigner, ".senderId", tx.SenderID,
			"FinishTransport transaction needs to be signed by the recipient of the pallet")}
	}
	if pallet.Status != ledger.PalletOngoing || pallet.Carrier == nil {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrInvalidPalletStatus, ".asset.palletId", pallet.Status,
			"FinishTransport can only be triggered, if pallet status is \"ongoing\"")}
	}
	carrierID := *pallet.Carrier
	if locked := ledger.LockedSecurity(store.Get(carrierID)); locked == nil || !locked.Equal(pallet.Security) {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrEscrowMismatch, ".asset.palletId", palletID,
			"carrier %s does not hold the pallet security %s", carrierID, pallet.Security)}
	}
	if palletAcc.Balance.LessThan(pallet.Postage) {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrInsufficientBalance, ".asset.palletId", palletAcc.Balance.String(),
			"pallet holds %s, postage is %s", palletAcc.Balance, pallet.Postage)}
	}

	payout := pallet.Security.Add(pallet.Postage)
	payee, resolved := pallet.Sender, ledger.PalletFail
	if status == StatusSuccess {
		payee, resolved = carrierID, ledger.PalletSuccess
	}

	carrier := store.Get(carrierID)
	carrier.Metadata = ledger.Empty{}
	store.Set(carrierID, carrier)

	palletAcc = store.Get(palletID)
	palletAcc.Balance, _ = palletAcc.Balance.Sub(pallet.Postage)
	pallet.Status = resolved
	palletAcc.Metadata = pallet
	store.Set(palletID, palletAcc)

	payeeAcc := store.Get(payee)
	payeeAcc.Balance = payeeAcc.Balance.Add(payout)
	store.Set(payee, payeeAcc)
	return nil
}

// Undo takes the branch from the stored pallet status, which must agree with
// the transaction's status field.
func (finishTransport) Undo(tx *ledger.Transaction, store ledger.Store) ledger.DomainErrors {
	palletID := tx.Asset.Address("palletId")
	status, _ := tx.Asset.String("status")

	palletAcc := store.Get(palletID)
	pallet, ok := palletOf(palletAcc)
	if !ok {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrNotRegistered, ".asset.palletId", palletID,
			"pallet is not registered")}
	}
	if pallet.Carrier == nil {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrInvalidPalletStatus, ".asset.palletId", pallet.Status,
			"pallet has no carrier")}
	}
	carrierID := *pallet.Carrier

	var payee ledger.Address
	switch pallet.Status {
	case ledger.PalletSuccess:
		payee = carrierID
	case ledger.PalletFail:
		payee = pallet.Sender
	default:
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrInvalidPalletStatus, ".asset.palletId", pallet.Status,
			"pallet status needs to be \"success\" or \"fail\"")}
	}
	if (pallet.Status == ledger.PalletSuccess) != (status == StatusSuccess) {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrInvalidPalletStatus, ".asset.status", status,
			"pallet was resolved as %q", pallet.Status)}
	}

	payout := pallet.Security.Add(pallet.Postage)
	payeeAcc := store.Get(payee)
	if payeeAcc.Balance.LessThan(payout) {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrInsufficientBalance, ".asset.palletId", payeeAcc.Balance.String(),
			"%s holds %s, cannot return payout %s", payee, payeeAcc.Balance, payout)}
	}
	if kind := store.Get(carrierID).Meta().Kind(); kind != ledger.KindEmpty {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrRoleConflict, ".asset.palletId", carrierID,
			"carrier account already holds %s metadata", kind)}
	}

	payeeAcc.Balance, _ = payeeAcc.Balance.Sub(payout)
	store.Set(payee, payeeAcc)

	palletAcc = store.Get(palletID)
	palletAcc.Balance = palletAcc.Balance.Add(pallet.Postage)
	pallet.Status = ledger.PalletOngoing
	palletAcc.Metadata = pallet
	store.Set(palletID, palletAcc)

	carrier := store.Get(carrierID)
	carrier.Metadata = ledger.CarrierEscrow{LockedSecurity: amountPtr(pallet.Security)}
	store.Set(carrierID, carrier)
	return nil
}
