package custody

import "github.com/fitmarket/custody-ledger/ledger"

// =============================================================================
// REGISTER PALLET (kind 50)
// =============================================================================
//
// Apply:
//   sender.balance          -= postage
//   product.remaining       -= product_quantity
//   pallet.balance          += postage
//   pallet.metadata          = Pallet{status: pending, carrier: none, ...}
//
// Undo reverses each line. The pallet balance moves by postage rather than
// being reset, so an address funded before registration is restored exactly.

type registerPallet struct{ fixedFee }

func RegisterPallet() ledger.Handler { return registerPallet{} }

func (registerPallet) Type() ledger.TransactionType { return TypeRegisterPallet }

func (registerPallet) ReadSet(tx *ledger.Transaction) []ledger.Address {
	return []ledger.Address{
		tx.Asset.Address("palletId"),
		tx.SenderID,
		tx.Asset.Address("productId"),
	}
}

func (registerPallet) Validate(tx *ledger.Transaction) ledger.FieldErrors {
	return ledger.NewAssetValidator(tx).
		RequireString("palletId").
		RequireString("recipientId").
		RequireAmount("postage").
		RequireAmount("security").
		RequireString("productId").
		RequireNonNegative("product_quantity").
		Errors()
}

func (registerPallet) Apply(tx *ledger.Transaction, store ledger.Store) ledger.DomainErrors {
	palletID := tx.Asset.Address("palletId")
	productID := tx.Asset.Address("productId")
	postage, _ := tx.Asset.Amount("postage")
	security, _ := tx.Asset.Amount("security")
	quantity, _ := tx.Asset.Quantity("product_quantity")

	// ---- checks ----

	pallet := store.Get(palletID)
	switch kind := pallet.Meta().Kind(); kind {
	case ledger.KindEmpty:
	case ledger.KindPallet:
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrAlreadyRegistered, ".asset.palletId", palletID,
			"pallet has already been registered")}
	default:
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrRoleConflict, ".asset.palletId", palletID,
			"account already holds %s metadata", kind)}
	}

	product, ok := productOf(store.Get(productID))
	if !ok {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrNotRegistered, ".asset.productId", productID,
			"product is not registered")}
	}
	if product.RemainingQuantity.LessThan(quantity) {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrInsufficientQuantity, ".asset.product_quantity", quantity.String(),
			"product has only %s units remaining, %s requested", product.RemainingQuantity, quantity)}
	}

	sender := store.Get(tx.SenderID)
	if sender.Balance.LessThan(postage) {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrInsufficientBalance, ".asset.postage", postage.String(),
			"sender has not enough balance to pay the postage: required %s, available %s", postage, sender.Balance)}
	}

	// ---- mutations ----

	sender.Balance, _ = sender.Balance.Sub(postage)
	store.Set(tx.SenderID, sender)

	productAcc := store.Get(productID)
	product, _ = productOf(productAcc)
	product.RemainingQuantity, _ = product.RemainingQuantity.Sub(quantity)
	productAcc.Metadata = product
	store.Set(productID, productAcc)

	pallet = store.Get(palletID)
	pallet.Balance = pallet.Balance.Add(postage)
	pallet.Metadata = ledger.Pallet{
		Recipient:       tx.Asset.Address("recipientId"),
		Sender:          tx.SenderID,
		Security:        security,
		Postage:         postage,
		Status:          ledger.PalletPending,
		Product:         productID,
		ProductQuantity: quantity,
	}
	store.Set(palletID, pallet)
	return nil
}

func (registerPallet) Undo(tx *ledger.Transaction, store ledger.Store) ledger.DomainErrors {
	palletID := tx.Asset.Address("palletId")
	productID := tx.Asset.Address("productId")
	postage, _ := tx.Asset.Amount("postage")
	quantity, _ := tx.Asset.Quantity("product_quantity")

	pallet := store.Get(palletID)
	meta, ok := palletOf(pallet)
	if !ok {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrNotRegistered, ".asset.palletId", palletID,
			"pallet is not registered")}
	}
	if meta.Status != ledger.PalletPending {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrInvalidPalletStatus, ".asset.palletId", meta.Status,
			"pallet status needs to be \"pending\"")}
	}
	if pallet.Balance.LessThan(postage) {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrInsufficientBalance, ".asset.postage", postage.String(),
			"pallet holds %s, cannot return postage %s", pallet.Balance, postage)}
	}
	product, ok := productOf(store.Get(productID))
	if !ok {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrNotRegistered, ".asset.productId", productID,
			"product is not registered")}
	}
	if product.ProducedQuantity.LessThan(product.RemainingQuantity.Add(quantity)) {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrInsufficientQuantity, ".asset.product_quantity", quantity.String(),
			"restoring %s units would exceed the produced quantity %s", quantity, product.ProducedQuantity)}
	}

	pallet.Balance, _ = pallet.Balance.Sub(postage)
	pallet.Metadata = ledger.Empty{}
	store.Set(palletID, pallet)

	productAcc := store.Get(productID)
	product, _ = productOf(productAcc)
	product.RemainingQuantity = product.RemainingQuantity.Add(quantity)
	productAcc.Metadata = product
	store.Set(productID, productAcc)

	sender := store.Get(tx.SenderID)
	sender.Balance = sender.Balance.Add(postage)
	store.Set(tx.SenderID, sender)
	return nil
}
