/*
state.go - Account store seen by handlers, and the persistence contract

PURPOSE:
  Handlers only see Store: Get never fails (unknown addresses read as the
  default empty account) and Set stages a mutation that later Gets observe.
  Nothing reaches the Backend until the Chain commits a block.

LAYERS:
  Backend     durable accounts + blocks (memory, sqlite, leveldb)
  StateStore  block-level working set: prefetched accounts + staged writes
  Scope       per-transaction view limited to the declared read-set;
              buffers writes until the handler returned without errors

READ-SET ENFORCEMENT:
  A Scope records every Get/Set outside its allowed addresses. The Chain
  turns any recorded violation into ErrOutsideReadSet and drops the
  buffered writes, so the working set is never touched.

SEE ALSO:
  - store/: Memory backend
  - ../store/sqlite, ../store/leveldb: Persistent backends
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
)

// =============================================================================
// STORE - What handlers see
// =============================================================================

type Reader interface {
	Get(addr Address) Account
}

type Store interface {
	Reader
	Set(addr Address, account Account)
}

// =============================================================================
// BACKEND - Durable state
// =============================================================================

// Backend persists accounts and blocks. CommitBlock and RevertBlock must be
// atomic: either the block record and every account are written, or none.
type Backend interface {
	// LoadAccounts returns the stored accounts among addrs. Missing addresses
	// are simply absent from the result.
	LoadAccounts(ctx context.Context, addrs []Address) (map[Address]Account, error)

	// ListAccounts returns every stored account ordered by address.
	ListAccounts(ctx context.Context) ([]Account, error)

	// LatestBlock returns the highest committed block, or nil if none.
	LatestBlock(ctx context.Context) (*Block, error)

	// CommitBlock stores block (height must be latest+1, or 0 when empty)
	// together with the accounts it wrote.
	CommitBlock(ctx context.Context, block Block, accounts []Account) error

	// RevertBlock removes block (which must be the latest) and stores the
	// accounts as they were before it.
	RevertBlock(ctx context.Context, block Block, accounts []Account) error

	Close() error
}

// =============================================================================
// STATE STORE - Block-level working set
// =============================================================================

type StateStore struct {
	backend Backend
	base    map[Address]Account
	dirty   map[Address]Account
}

func NewStateStore(backend Backend) *StateStore {
	return &StateStore{
		backend: backend,
		base:    make(map[Address]Account),
		dirty:   make(map[Address]Account),
	}
}

// Prefetch loads addrs from the backend. It is idempotent: addresses already
// fetched or staged are skipped, as are empty addresses.
func (s *StateStore) Prefetch(ctx context.Context, addrs []Address) error {
	var missing []Address
	for _, addr := range uniqueAddresses(addrs) {
		if s.Fetched(addr) {
			continue
		}
		missing = append(missing, addr)
	}
	if len(missing) == 0 {
		return nil
	}

	loaded, err := s.backend.LoadAccounts(ctx, missing)
	if err != nil {
		return fmt.Errorf("prefetch accounts: %w", err)
	}
	for _, addr := range missing {
		acc, ok := loaded[addr]
		if !ok {
			acc = NewAccount(addr)
		}
		acc.Address = addr
		s.base[addr] = acc.Clone()
	}
	return nil
}

// Fetched reports whether addr is present in the working set.
func (s *StateStore) Fetched(addr Address) bool {
	if _, ok := s.dirty[addr]; ok {
		return true
	}
	_, ok := s.base[addr]
	return ok
}

// Get returns a copy of the account at addr. Staged writes win over
// prefetched state; unknown addresses read as the default account.
func (s *StateStore) Get(addr Address) Account {
	if acc, ok := s.dirty[addr]; ok {
		return acc.Clone()
	}
	if acc, ok := s.base[addr]; ok {
		return acc.Clone()
	}
	return NewAccount(addr)
}

// Set stages account at addr.
func (s *StateStore) Set(addr Address, account Account) {
	account = account.Clone()
	account.Address = addr
	s.dirty[addr] = account
}

// Dirty returns every staged account ordered by address.
func (s *StateStore) Dirty() []Account {
	out := make([]Account, 0, len(s.dirty))
	for _, acc := range s.dirty {
		out = append(out, acc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Scope returns a per-transaction view restricted to allowed.
func (s *StateStore) Scope(allowed []Address) *Scope {
	set := make(map[Address]struct{}, len(allowed))
	for _, addr := range allowed {
		if addr != "" {
			set[addr] = struct{}{}
		}
	}
	return &Scope{
		parent:  s,
		allowed: set,
		writes:  make(map[Address]Account),
	}
}

// =============================================================================
// SCOPE - Per-transaction view
// =============================================================================

type Scope struct {
	parent     *StateStore
	allowed    map[Address]struct{}
	writes     map[Address]Account
	order      []Address
	violations []Address
}

func (sc *Scope) Get(addr Address) Account {
	if !sc.permits(addr) {
		return NewAccount(addr)
	}
	if acc, ok := sc.writes[addr]; ok {
		return acc.Clone()
	}
	return sc.parent.Get(addr)
}

func (sc *Scope) Set(addr Address, account Account) {
	if !sc.permits(addr) {
		return
	}
	if _, ok := sc.writes[addr]; !ok {
		sc.order = append(sc.order, addr)
	}
	account = account.Clone()
	account.Address = addr
	sc.writes[addr] = account
}

// Violations returns the addresses touched outside the read-set.
func (sc *Scope) Violations() []Address {
	return sc.violations
}

// Commit merges the buffered writes into the parent working set.
func (sc *Scope) Commit() {
	for _, addr := range sc.order {
		sc.parent.Set(addr, sc.writes[addr])
	}
	sc.writes = make(map[Address]Account)
	sc.order = nil
}

func (sc *Scope) permits(addr Address) bool {
	if _, ok := sc.allowed[addr]; ok {
		return true
	}
	for _, v := range sc.violations {
		if v == addr {
			return false
		}
	}
	sc.violations = append(sc.violations, addr)
	return false
}

// uniqueAddresses drops empty and repeated addresses, keeping first-seen order.
func uniqueAddresses(addrs []Address) []Address {
	seen := make(map[Address]struct{}, len(addrs))
	out := make([]Address, 0, len(addrs))
	for _, addr := range addrs {
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
