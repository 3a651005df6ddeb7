package custody

import "github.com/fitmarket/custody-ledger/ledger"

// =============================================================================
// TRANSFER (kind 8) - Plain balance transfer, used to fund participants
// =============================================================================

type transfer struct{ fixedFee }

func Transfer() ledger.Handler { return transfer{} }

func (transfer) Type() ledger.TransactionType { return TypeTransfer }

func (transfer) ReadSet(tx *ledger.Transaction) []ledger.Address {
	return []ledger.Address{tx.SenderID, tx.Asset.Address("recipientId")}
}

func (transfer) Validate(tx *ledger.Transaction) ledger.FieldErrors {
	return ledger.NewAssetValidator(tx).
		RequireAmount("amount").
		RequireString("recipientId").
		Errors()
}

func (transfer) Apply(tx *ledger.Transaction, store ledger.Store) ledger.DomainErrors {
	recipientID := tx.Asset.Address("recipientId")
	amount, _ := tx.Asset.Amount("amount")

	sender := store.Get(tx.SenderID)
	if sender.Balance.LessThan(amount) {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrInsufficientBalance, ".asset.amount", amount.String(),
			"sender has not enough balance: required %s, available %s", amount, sender.Balance)}
	}
	sender.Balance, _ = sender.Balance.Sub(amount)
	store.Set(tx.SenderID, sender)

	recipient := store.Get(recipientID)
	recipient.Balance = recipient.Balance.Add(amount)
	store.Set(recipientID, recipient)
	return nil
}

func (transfer) Undo(tx *ledger.Transaction, store ledger.Store) ledger.DomainErrors {
	recipientID := tx.Asset.Address("recipientId")
	amount, _ := tx.Asset.Amount("amount")

	recipient := store.Get(recipientID)
	if recipient.Balance.LessThan(amount) {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrInsufficientBalance, ".asset.amount", amount.String(),
			"recipient holds %s, cannot return %s", recipient.Balance, amount)}
	}
	recipient.Balance, _ = recipient.Balance.Sub(amount)
	store.Set(recipientID, recipient)

	sender := store.Get(tx.SenderID)
	sender.Balance = sender.Balance.Add(amount)
	store.Set(tx.SenderID, sender)
	return nil
}
