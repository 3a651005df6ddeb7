package custody

import "github.com/fitmarket/custody-ledger/ledger"

// =============================================================================
// LOCATION REGISTRARS - RegisterMarket, RegisterProducer
// =============================================================================

// locationRegistrar assigns a named, geolocated role to an empty account.
// Markets and producers differ only in kind, asset key and metadata variant.
type locationRegistrar struct {
	fixedFee
	kind  ledger.TransactionType
	key   string
	role  ledger.MetadataKind
	label string
	build func(name string, lat, lng float64) ledger.Metadata
}

// RegisterMarket returns the kind 20 handler.
func RegisterMarket() ledger.Handler {
	return &locationRegistrar{
		kind:  TypeRegisterMarket,
		key:   "marketId",
		role:  ledger.KindMarket,
		label: "market",
		build: func(name string, lat, lng float64) ledger.Metadata {
			return ledger.Market{Name: name, Latitude: lat, Longitude: lng}
		},
	}
}

// RegisterProducer returns the kind 30 handler.
func RegisterProducer() ledger.Handler {
	return &locationRegistrar{
		kind:  TypeRegisterProducer,
		key:   "producerId",
		role:  ledger.KindProducer,
		label: "producer",
		build: func(name string, lat, lng float64) ledger.Metadata {
			return ledger.Producer{Name: name, Latitude: lat, Longitude: lng}
		},
	}
}

func (r *locationRegistrar) Type() ledger.TransactionType { return r.kind }

func (r *locationRegistrar) ReadSet(tx *ledger.Transaction) []ledger.Address {
	return []ledger.Address{tx.Asset.Address(r.key), tx.SenderID}
}

func (r *locationRegistrar) Validate(tx *ledger.Transaction) ledger.FieldErrors {
	return ledger.NewAssetValidator(tx).
		RequireString(r.key).
		RequireString("name").
		RequireFinite("latitude").
		RequireFinite("longitude").
		Errors()
}

func (r *locationRegistrar) Apply(tx *ledger.Transaction, store ledger.Store) ledger.DomainErrors {
	addr := tx.Asset.Address(r.key)
	acc := store.Get(addr)

	switch kind := acc.Meta().Kind(); kind {
	case ledger.KindEmpty:
	case r.role:
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrAlreadyRegistered, ".asset."+r.key, addr,
			"%s has already been registered", r.label)}
	default:
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrRoleConflict, ".asset."+r.key, addr,
			"account already holds %s metadata", kind)}
	}

	name, _ := tx.Asset.String("name")
	lat, _ := tx.Asset.Float("latitude")
	lng, _ := tx.Asset.Float("longitude")
	acc.Metadata = r.build(name, lat, lng)
	store.Set(addr, acc)
	return nil
}

// Undo resets the account to Empty. Registration only succeeds on an empty
// slot, so nothing else needs restoring.
func (r *locationRegistrar) Undo(tx *ledger.Transaction, store ledger.Store) ledger.DomainErrors {
	addr := tx.Asset.Address(r.key)
	acc := store.Get(addr)
	if acc.Meta().Kind() != r.role {
		return ledger.DomainErrors{ledger.NewDomainError(tx, ledger.ErrNotRegistered, ".asset."+r.key, addr,
			"%s is not registered", r.label)}
	}
	acc.Metadata = ledger.Empty{}
	store.Set(addr, acc)
	return nil
}
