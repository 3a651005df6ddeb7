package custody

import "github.com/fitmarket/custody-ledger/ledger"

// =============================================================================
// REGISTER PRODUCT (kind 40)
// =============================================================================

type registerProduct struct{ fixedFee }

func RegisterProduct() ledger.Handler { return registerProduct{} }

func (registerProduct) Type() ledger.TransactionType { return TypeRegisterProduct }

func (registerProduct) ReadSet(tx *ledger.Transaction) []ledger.Address {
	return []ledger.Address{tx.Asset.Address("productId")}
}

func (registerProduct) Validate(tx *ledger.Transaction) ledger.FieldErrors {
	return ledger.NewAssetValidator(tx).
		RequireString("productId").
		RequireString("barcode").
		RequireString("batch").
		RequireString("name").
		RequireNonNegative("produced_quantity").
		RequireString("produced_date").
		RequireString("due_date").
		Errors()
}

func (registerProduct) Apply(tx *ledger.Transaction, store ledger.Store) ledger.DomainErrors {
	addr := tx.Asset.Address("productId")
	acc := store.Get(addr)

	switch kind := acc.Meta().Kind(); kind {
	case ledger.KindEmpty:
	case ledger.KindProduct:
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrAlreadyRegistered, ".asset.productId", addr,
			"product has already been registered")}
	default:
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrRoleConflict, ".asset.productId", addr,
			"account already holds %s metadata", kind)}
	}

	produced, _ := tx.Asset.Quantity("produced_quantity")
	barcode, _ := tx.Asset.String("barcode")
	batch, _ := tx.Asset.String("batch")
	name, _ := tx.Asset.String("name")
	producedDate, _ := tx.Asset.String("produced_date")
	dueDate, _ := tx.Asset.String("due_date")

	acc.Metadata = ledger.Product{
		Barcode:           barcode,
		Batch:             batch,
		Name:              name,
		ProducedQuantity:  produced,
		RemainingQuantity: produced,
		ProducedDate:      producedDate,
		DueDate:           dueDate,
	}
	store.Set(addr, acc)
	return nil
}

func (registerProduct) Undo(tx *ledger.Transaction, store ledger.Store) ledger.DomainErrors {
	addr := tx.Asset.Address("productId")
	acc := store.Get(addr)
	if _, ok := productOf(acc); !ok {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrNotRegistered, ".asset.productId", addr,
			"product is not registered")}
	}
	acc.Metadata = ledger.Empty{}
	store.Set(addr, acc)
	return nil
}

// =============================================================================
// UPDATE PRODUCT (kind 80) - One-shot nutritional annotation
// =============================================================================

type updateProduct struct{ fixedFee }

func UpdateProduct() ledger.Handler { return updateProduct{} }

func (updateProduct) Type() ledger.TransactionType { return TypeUpdateProduct }

func (updateProduct) ReadSet(tx *ledger.Transaction) []ledger.Address {
	return []ledger.Address{tx.Asset.Address("productId"), tx.SenderID}
}

func (updateProduct) Validate(tx *ledger.Transaction) ledger.FieldErrors {
	return ledger.NewAssetValidator(tx).
		RequireString("productId").
		RequireString("organic").
		RequireString("noTACC").
		RequireString("transFat").
		RequireNonNegative("daily_units").
		Errors()
}

// Apply records the annotation with the signer as the market. The signer's
// role is not checked.
func (updateProduct) Apply(tx *ledger.Transaction, store ledger.Store) ledger.DomainErrors {
	addr := tx.Asset.Address("productId")
	acc := store.Get(addr)
	product, ok := productOf(acc)
	if !ok {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrNotRegistered, ".asset.productId", addr,
			"product is not registered")}
	}
	if product.FitInfo != nil {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrAlreadyRegistered, ".asset.productId", addr,
			"product has already been updated")}
	}

	organic, _ := tx.Asset.String("organic")
	noTACC, _ := tx.Asset.String("noTACC")
	transFat, _ := tx.Asset.String("transFat")
	dailyUnits, _ := tx.Asset.Quantity("daily_units")

	product.FitInfo = &ledger.FitInfo{
		Organic:    organic,
		NoTACC:     noTACC,
		TransFat:   transFat,
		DailyUnits: dailyUnits,
		Market:     tx.SenderID,
	}
	acc.Metadata = product
	store.Set(addr, acc)
	return nil
}

func (updateProduct) Undo(tx *ledger.Transaction, store ledger.Store) ledger.DomainErrors {
	addr := tx.Asset.Address("productId")
	acc := store.Get(addr)
	product, ok := productOf(acc)
	if !ok || product.FitInfo == nil {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrNotRegistered, ".asset.productId", addr,
			"product has no fit information to clear")}
	}
	product.FitInfo = nil
	acc.Metadata = product
	store.Set(addr, acc)
	return nil
}
