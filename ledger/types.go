/*
Package ledger provides the transaction state-transition engine.

PURPOSE:
  Accounts (markets, producers, products, pallets, carriers) are addressable
  records holding a token balance and role metadata. A fixed set of domain
  transactions mutates them. This package owns the pieces every transaction
  kind shares: the account model, checked arithmetic, the account store with
  read-set scoping, the handler contract, and the Chain that sequences
  transactions into blocks and reverses them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Address: Unique key of an account in the store
  - Transaction: Verified, already-parsed transaction handed to a handler
  - Asset: Kind-specific, loosely typed payload of a transaction

LIFECYCLE (per transaction):
  1. ReadSet(tx)               addresses the handler will touch
  2. Prefetch                  load those accounts into the working set
  3. DerivedReadSet(tx, view)  optional second phase (pallet -> carrier/sender)
  4. Validate(tx)              static checks, no store access
  5. Apply(tx, store)          stage mutations, or return errors with none
  6. Undo(tx, store)           exact inverse of Apply, newest first

DETERMINISM:
  Identical (state, transaction) pairs always produce identical state and
  identical errors. Handlers never consult clocks, randomness or map order.

SEE ALSO:
  - account.go: Account and the closed Metadata variant
  - state.go: Store, StateStore and Backend
  - handler.go: Handler contract and Registry
  - chain.go: Block sequencing, commit and rollback
  - custody/: The concrete transaction handlers
*/
package ledger

import (
	"encoding/json"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type Address string
type TransactionID string

// TransactionType is the numeric kind tag the runtime routes on.
type TransactionType uint32

// =============================================================================
// TRANSACTION
// =============================================================================

// Transaction is a verified transaction. Signature and ID computation happen
// outside this package; SenderID is the unique signer identity.
type Transaction struct {
	ID       TransactionID   `json:"id"`
	Type     TransactionType `json:"type"`
	Fee      string          `json:"fee"`
	SenderID Address         `json:"senderId"`
	Asset    Asset           `json:"asset"`
}

// Asset is the kind-specific payload. It is deliberately untyped: Validate
// checks presence and type of each field before Apply relies on them.
type Asset map[string]any

// Clone returns a shallow copy of the asset map. Asset values are scalars.
func (a Asset) Clone() Asset {
	if a == nil {
		return nil
	}
	out := make(Asset, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Clone returns a copy of the transaction that shares no mutable state.
func (tx Transaction) Clone() Transaction {
	tx.Asset = tx.Asset.Clone()
	return tx
}

// canonicalJSON encodes v with sorted map keys (encoding/json sorts maps).
func canonicalJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Only reachable for unsupported asset values, which Validate rejects.
		return nil
	}
	return data
}
