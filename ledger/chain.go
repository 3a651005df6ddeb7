/*
chain.go - Sequencing transactions into blocks, and reversing them

PURPOSE:
  The Chain drives the handler lifecycle the ledger runtime would: for each
  submitted transaction it declares the read-set, prefetches, validates and
  applies against the pending block's working set. Commit persists the
  block atomically. Reverting a block undoes its transactions in exact
  reverse admission order.

CRITICAL INVARIANTS:
  1. ZERO PARTIAL MUTATION: a rejected transaction leaves the working set
     untouched (the handler's writes are buffered in a Scope and dropped).
  2. SYMMETRY: Undo runs with the same transaction Apply consumed, newest
     first. Any Undo error is fatal (UndoError) and is never retried.
  3. SERIAL: one transaction at a time. The mutex only protects the Chain
     from concurrent API callers; handlers never run concurrently.

EXAMPLE FLOW:
  chain := ledger.NewChain(custody.NewRegistry(), backend)
  chain.Bootstrap(ctx)                  // block 0 with genesis balances
  chain.Submit(ctx, registerPalletTx)   // pending
  chain.Commit(ctx)                     // block 1
  chain.RevertLastBlock(ctx)            // back to block 0 state

SEE ALSO:
  - handler.go: Handler contract
  - state.go: StateStore, Scope, Backend
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// OBSERVER - Hook for metrics
// =============================================================================

// Rejection stages reported to Observer.TransactionRejected.
const (
	StageDispatch = "dispatch"
	StageValidate = "validate"
	StageApply    = "apply"
)

type Observer interface {
	TransactionApplied(tx *Transaction)
	TransactionRejected(tx *Transaction, stage string)
	TransactionUndone(tx *Transaction)
	BlockCommitted(block *Block)
	BlockReverted(block *Block)
}

type noopObserver struct{}

func (noopObserver) TransactionApplied(*Transaction)          {}
func (noopObserver) TransactionRejected(*Transaction, string) {}
func (noopObserver) TransactionUndone(*Transaction)           {}
func (noopObserver) BlockCommitted(*Block)                    {}
func (noopObserver) BlockReverted(*Block)                     {}

// =============================================================================
// CHAIN
// =============================================================================

type Option func(*Chain)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Chain) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithGenesis sets the balances written by block 0.
func WithGenesis(alloc map[Address]Amount) Option {
	return func(c *Chain) {
		c.genesis = make(map[Address]Amount, len(alloc))
		for addr, amt := range alloc {
			c.genesis[addr] = amt
		}
	}
}

// WithClock overrides the block timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) {
		if now != nil {
			c.now = now
		}
	}
}

type Chain struct {
	registry *Registry
	backend  Backend
	logger   *zap.Logger
	observer Observer
	genesis  map[Address]Amount
	now      func() time.Time

	mu      sync.Mutex
	state   *StateStore
	pending []Transaction
}

// Receipt describes an admitted transaction.
type Receipt struct {
	TransactionID TransactionID   `json:"transactionId"`
	Type          TransactionType `json:"type"`
	ReadSet       []Address       `json:"readSet"`
	PendingIndex  int             `json:"pendingIndex"`
}

func NewChain(registry *Registry, backend Backend, opts ...Option) *Chain {
	c := &Chain{
		registry: registry,
		backend:  backend,
		logger:   zap.NewNop(),
		observer: noopObserver{},
		now:      time.Now,
		state:    NewStateStore(backend),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bootstrap commits block 0 with the genesis balances if the backend has no
// blocks yet. It is a no-op on an already initialized backend.
func (c *Chain) Bootstrap(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	latest, err := c.backend.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("load latest block: %w", err)
	}
	if latest != nil {
		c.logger.Info("chain resumed", zap.Uint64("height", latest.Height), zap.String("hash", latest.Hash))
		return nil
	}

	accounts := make([]Account, 0, len(c.genesis))
	for addr, amt := range c.genesis {
		acc := NewAccount(addr)
		acc.Balance = amt
		accounts = append(accounts, acc)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Address < accounts[j].Address })

	block := Block{
		Height:       0,
		ID:           uuid.NewString(),
		Transactions: []Transaction{},
		CommittedAt:  c.now().UTC(),
	}
	block.Hash = BlockHash("", 0, nil, accounts)
	if err := c.backend.CommitBlock(ctx, block, accounts); err != nil {
		return fmt.Errorf("commit genesis block: %w", err)
	}
	c.observer.BlockCommitted(&block)
	c.logger.Info("genesis block committed", zap.String("hash", block.Hash), zap.Int("accounts", len(accounts)))
	return nil
}

// Submit runs the full lifecycle for tx against the pending block. A
// rejected transaction returns a *RejectedError and changes nothing.
func (c *Chain) Submit(ctx context.Context, tx Transaction) (*Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx = tx.Clone()
	log := c.logger.With(zap.String("tx_id", string(tx.ID)), zap.Uint32("type", uint32(tx.Type)), zap.String("sender", string(tx.SenderID)))

	h, ok := c.registry.Lookup(tx.Type)
	if !ok {
		c.observer.TransactionRejected(&tx, StageDispatch)
		return nil, fmt.Errorf("%w: %d", ErrUnknownTransactionType, tx.Type)
	}
	if err := checkFee(h, &tx); err != nil {
		c.observer.TransactionRejected(&tx, StageDispatch)
		return nil, err
	}
	if fieldErrs := checkSender(&tx); len(fieldErrs) > 0 {
		c.observer.TransactionRejected(&tx, StageValidate)
		return nil, &RejectedError{TransactionID: tx.ID, Type: tx.Type, FieldErrors: fieldErrs}
	}

	readSet, err := c.prepare(ctx, c.state, h, &tx)
	if err != nil {
		return nil, err
	}

	if fieldErrs := h.Validate(&tx); len(fieldErrs) > 0 {
		c.observer.TransactionRejected(&tx, StageValidate)
		log.Debug("transaction failed validation", zap.Error(fieldErrs.Err()))
		return nil, &RejectedError{TransactionID: tx.ID, Type: tx.Type, FieldErrors: fieldErrs}
	}

	scope := c.state.Scope(readSet)
	domainErrs := h.Apply(&tx, scope)
	domainErrs = append(domainErrs, readSetViolations(&tx, scope)...)
	if len(domainErrs) > 0 {
		c.observer.TransactionRejected(&tx, StageApply)
		log.Debug("transaction rejected", zap.Error(domainErrs.Err()))
		return nil, &RejectedError{TransactionID: tx.ID, Type: tx.Type, DomainErrors: domainErrs}
	}
	scope.Commit()

	c.pending = append(c.pending, tx)
	c.observer.TransactionApplied(&tx)
	log.Debug("transaction applied", zap.Int("pending", len(c.pending)))

	return &Receipt{
		TransactionID: tx.ID,
		Type:          tx.Type,
		ReadSet:       readSet,
		PendingIndex:  len(c.pending) - 1,
	}, nil
}

// Commit persists the pending transactions and their staged accounts as the
// next block.
func (c *Chain) Commit(ctx context.Context) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return nil, ErrNoPendingTransactions
	}
	latest, err := c.backend.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest block: %w", err)
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: chain is not bootstrapped", ErrNoBlocks)
	}

	written := c.state.Dirty()
	height := latest.Height + 1
	block := Block{
		Height:       height,
		ID:           uuid.NewString(),
		PreviousHash: latest.Hash,
		Transactions: c.pending,
		CommittedAt:  c.now().UTC(),
	}
	block.Hash = BlockHash(latest.Hash, height, c.pending, written)

	if err := c.backend.CommitBlock(ctx, block, written); err != nil {
		return nil, fmt.Errorf("commit block %d: %w", height, err)
	}

	c.resetPending()
	c.observer.BlockCommitted(&block)
	c.logger.Info("block committed",
		zap.Uint64("height", block.Height),
		zap.String("hash", block.Hash),
		zap.Int("transactions", len(block.Transactions)),
		zap.Int("accounts", len(written)))
	return &block, nil
}

// DiscardPending undoes the pending transactions newest first and drops the
// working set. It returns how many transactions were discarded.
func (c *Chain) DiscardPending(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.pending)
	if n == 0 {
		return 0, ErrNoPendingTransactions
	}

	var undoErr error
	for i := n - 1; i >= 0; i-- {
		if err := c.undo(ctx, c.state, &c.pending[i], 0); err != nil {
			undoErr = err
			break
		}
	}
	// The working set is only an overlay, so dropping it restores committed
	// state even when an undo failed.
	c.resetPending()

	if undoErr != nil {
		c.logger.Error("undo failed while discarding pending block", zap.Error(undoErr))
		return n, undoErr
	}
	c.logger.Info("pending block discarded", zap.Int("transactions", n))
	return n, nil
}

// RevertLastBlock undoes the latest committed block in reverse order and
// removes it. The genesis block cannot be reverted.
func (c *Chain) RevertLastBlock(ctx context.Context) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) > 0 {
		return nil, ErrPendingTransactions
	}
	latest, err := c.backend.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest block: %w", err)
	}
	if latest == nil {
		return nil, ErrNoBlocks
	}
	if latest.Height == 0 {
		return nil, ErrGenesisBlock
	}

	state := NewStateStore(c.backend)
	for i := len(latest.Transactions) - 1; i >= 0; i-- {
		if err := c.undo(ctx, state, &latest.Transactions[i], latest.Height); err != nil {
			c.logger.Error("undo failed while reverting block",
				zap.Uint64("height", latest.Height), zap.Error(err))
			return nil, err
		}
	}

	restored := state.Dirty()
	if err := c.backend.RevertBlock(ctx, *latest, restored); err != nil {
		return nil, fmt.Errorf("revert block %d: %w", latest.Height, err)
	}

	c.observer.BlockReverted(latest)
	c.logger.Info("block reverted",
		zap.Uint64("height", latest.Height),
		zap.Int("transactions", len(latest.Transactions)),
		zap.Int("accounts", len(restored)))
	return latest, nil
}

// =============================================================================
// READ HELPERS - Pending state merged over committed state
// =============================================================================

// Account returns the current view of addr, including pending writes.
func (c *Chain) Account(ctx context.Context, addr Address) (Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if acc, ok := c.state.dirty[addr]; ok {
		return acc.Clone(), nil
	}
	loaded, err := c.backend.LoadAccounts(ctx, []Address{addr})
	if err != nil {
		return Account{}, err
	}
	if acc, ok := loaded[addr]; ok {
		return acc, nil
	}
	return NewAccount(addr), nil
}

// Accounts returns every known account ordered by address.
func (c *Chain) Accounts(ctx context.Context) ([]Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	committed, err := c.backend.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	merged := make(map[Address]Account, len(committed))
	for _, acc := range committed {
		merged[acc.Address] = acc
	}
	for _, acc := range c.state.Dirty() {
		merged[acc.Address] = acc
	}

	out := make([]Account, 0, len(merged))
	for _, acc := range merged {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// Pending returns the transactions admitted since the last commit.
func (c *Chain) Pending() []Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Transaction, len(c.pending))
	for i, tx := range c.pending {
		out[i] = tx.Clone()
	}
	return out
}

func (c *Chain) LatestBlock(ctx context.Context) (*Block, error) {
	return c.backend.LatestBlock(ctx)
}

// =============================================================================
// INTERNALS
// =============================================================================

// prepare declares the read-set in two phases and prefetches it.
func (c *Chain) prepare(ctx context.Context, state *StateStore, h Handler, tx *Transaction) ([]Address, error) {
	primary := uniqueAddresses(h.ReadSet(tx))
	if err := state.Prefetch(ctx, primary); err != nil {
		return nil, err
	}
	d, ok := h.(DerivedReadSetter)
	if !ok {
		return primary, nil
	}
	derived := d.DerivedReadSet(tx, state.Scope(primary))
	if err := state.Prefetch(ctx, derived); err != nil {
		return nil, err
	}
	return uniqueAddresses(append(primary, derived...)), nil
}

func (c *Chain) undo(ctx context.Context, state *StateStore, tx *Transaction, height uint64) error {
	h, ok := c.registry.Lookup(tx.Type)
	if !ok {
		return &UndoError{
			TransactionID: tx.ID,
			Height:        height,
			Errors: DomainErrors{NewDomainError(tx, ErrUnknownTransactionType, "type", tx.Type,
				"no handler for transaction type %d", tx.Type)},
		}
	}
	readSet, err := c.prepare(ctx, state, h, tx)
	if err != nil {
		return err
	}

	scope := state.Scope(readSet)
	domainErrs := h.Undo(tx, scope)
	domainErrs = append(domainErrs, readSetViolations(tx, scope)...)
	if len(domainErrs) > 0 {
		return &UndoError{TransactionID: tx.ID, Height: height, Errors: domainErrs}
	}
	scope.Commit()
	c.observer.TransactionUndone(tx)
	return nil
}

func (c *Chain) resetPending() {
	c.pending = nil
	c.state = NewStateStore(c.backend)
}

func checkFee(h Handler, tx *Transaction) error {
	if tx.Fee == "" {
		return nil
	}
	fee, err := ParseAmount(tx.Fee)
	if err != nil || !fee.Equal(h.Fee()) {
		return fmt.Errorf("%w: transaction type %d requires fee %s, got %q", ErrInvalidFee, tx.Type, h.Fee(), tx.Fee)
	}
	return nil
}

// checkSender rejects a transaction without a sender. Every handler reads the
// sender, so the read-set would otherwise hold the empty address.
func checkSender(tx *Transaction) FieldErrors {
	if tx.SenderID != "" {
		return nil
	}
	return FieldErrors{{
		Message:       `Invalid "senderId" defined on transaction`,
		TransactionID: tx.ID,
		Field:         ".senderId",
		Value:         tx.SenderID,
		Expected:      "A non-empty address",
	}}
}

func readSetViolations(tx *Transaction, scope *Scope) DomainErrors {
	var errs DomainErrors
	for _, addr := range scope.Violations() {
		errs = append(errs, NewDomainError(tx, ErrOutsideReadSet, "address", addr,
			"handler accessed %s outside its declared read-set", addr))
	}
	return errs
}

// IsRejected reports whether err is a rejection of the submitted transaction.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}
