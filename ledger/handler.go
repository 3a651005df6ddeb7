package ledger

import (
	"fmt"
	"sort"
)

// =============================================================================
// HANDLER - One per transaction kind
// =============================================================================

// Handler implements one transaction kind.
//
// CONTRACT:
//   - ReadSet is computed before any store access.
//   - Validate is pure and reports every invalid field.
//   - Apply either stages all of its mutations or returns errors having
//     called Set on nothing.
//   - Undo, given the same tx and the post-Apply state, restores the
//     pre-Apply state exactly.
type Handler interface {
	Type() TransactionType
	Fee() Amount

	// ReadSet returns the primary addresses the handler reads or writes.
	ReadSet(tx *Transaction) []Address

	Validate(tx *Transaction) FieldErrors
	Apply(tx *Transaction, store Store) DomainErrors
	Undo(tx *Transaction, store Store) DomainErrors
}

// DerivedReadSetter is implemented by handlers that discover further
// addresses inside the primary accounts (a pallet's carrier and sender).
// The reader only exposes accounts from the primary read-set.
type DerivedReadSetter interface {
	DerivedReadSet(tx *Transaction, primary Reader) []Address
}

// =============================================================================
// REGISTRY - Kind to handler dispatch, built at startup
// =============================================================================

type Registry struct {
	handlers map[TransactionType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[TransactionType]Handler)}
}

// Register adds h under h.Type(). A kind can only be registered once.
func (r *Registry) Register(h Handler) error {
	if _, exists := r.handlers[h.Type()]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateHandler, h.Type())
	}
	r.handlers[h.Type()] = h
	return nil
}

// MustRegister is Register for startup wiring.
func (r *Registry) MustRegister(handlers ...Handler) *Registry {
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Lookup(t TransactionType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// Types returns the registered kinds in ascending order.
func (r *Registry) Types() []TransactionType {
	types := make([]TransactionType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
