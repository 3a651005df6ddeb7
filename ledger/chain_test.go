package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitmarket/custody-ledger/ledger"
	"github.com/fitmarket/custody-ledger/ledger/store"
)

// =============================================================================
// TEST HANDLERS
// =============================================================================

const (
	typeMint  ledger.TransactionType = 1
	typeLeaky ledger.TransactionType = 2
)

// mint credits asset.to with asset.amount out of thin air.
type mint struct{}

func (mint) Type() ledger.TransactionType { return typeMint }
func (mint) Fee() ledger.Amount           { return ledger.ZeroAmount }

func (mint) ReadSet(tx *ledger.Transaction) []ledger.Address {
	return []ledger.Address{tx.Asset.Address("to")}
}

func (mint) Validate(tx *ledger.Transaction) ledger.FieldErrors {
	return ledger.NewAssetValidator(tx).RequireString("to").RequireAmount("amount").Errors()
}

func (mint) Apply(tx *ledger.Transaction, s ledger.Store) ledger.DomainErrors {
	to := tx.Asset.Address("to")
	amount, _ := tx.Asset.Amount("amount")
	acc := s.Get(to)
	acc.Balance = acc.Balance.Add(amount)
	s.Set(to, acc)
	return nil
}

func (mint) Undo(tx *ledger.Transaction, s ledger.Store) ledger.DomainErrors {
	to := tx.Asset.Address("to")
	amount, _ := tx.Asset.Amount("amount")
	acc := s.Get(to)
	balance, err := acc.Balance.Sub(amount)
	if err != nil {
		return ledger.DomainErrors{ledger.NewDomainError(tx, err, ".asset.amount", amount, "cannot burn %s", amount)}
	}
	acc.Balance = balance
	s.Set(to, acc)
	return nil
}

// leaky declares asset.to but also writes asset.other.
type leaky struct{ mint }

func (leaky) Type() ledger.TransactionType { return typeLeaky }

func (l leaky) Apply(tx *ledger.Transaction, s ledger.Store) ledger.DomainErrors {
	l.mint.Apply(tx, s)
	other := tx.Asset.Address("other")
	acc := s.Get(other)
	acc.Balance = acc.Balance.Add(ledger.NewAmount(1))
	s.Set(other, acc)
	return nil
}

func mintTx(id string, to ledger.Address, amount string) ledger.Transaction {
	return ledger.Transaction{
		ID:       ledger.TransactionID(id),
		Type:     typeMint,
		Fee:      "0",
		SenderID: "minter",
		Asset:    ledger.Asset{"to": string(to), "amount": amount},
	}
}

type recorder struct {
	applied, rejected, undone, committed, reverted int
	stages                                         []string
}

func (r *recorder) TransactionApplied(*ledger.Transaction) { r.applied++ }
func (r *recorder) TransactionRejected(_ *ledger.Transaction, stage string) {
	r.rejected++
	r.stages = append(r.stages, stage)
}
func (r *recorder) TransactionUndone(*ledger.Transaction) { r.undone++ }
func (r *recorder) BlockCommitted(*ledger.Block)          { r.committed++ }
func (r *recorder) BlockReverted(*ledger.Block)           { r.reverted++ }

func newTestChain(t *testing.T, opts ...ledger.Option) (*ledger.Chain, *store.Memory) {
	t.Helper()
	backend := store.NewMemory()
	registry := ledger.NewRegistry().MustRegister(mint{}, leaky{})
	chain := ledger.NewChain(registry, backend, opts...)
	require.NoError(t, chain.Bootstrap(context.Background()))
	return chain, backend
}

// =============================================================================
// CHAIN TESTS
// =============================================================================

func TestChain_Bootstrap_WritesGenesis(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	chain, backend := newTestChain(t,
		ledger.WithGenesis(map[ledger.Address]ledger.Amount{"genesis": ledger.MustParseAmount("1000000")}),
		ledger.WithClock(func() time.Time { return at }),
	)
	ctx := context.Background()

	acc, err := chain.Account(ctx, "genesis")
	require.NoError(t, err)
	assert.Equal(t, "1000000", acc.Balance.String())

	blocks := backend.Blocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, uint64(0), blocks[0].Height)
	assert.Equal(t, at, blocks[0].CommittedAt)
	assert.NotEmpty(t, blocks[0].Hash)

	// A second bootstrap is a no-op.
	require.NoError(t, chain.Bootstrap(ctx))
	assert.Len(t, backend.Blocks(), 1)
}

func TestChain_CommitChainsHashes(t *testing.T) {
	chain, backend := newTestChain(t)
	ctx := context.Background()

	_, err := chain.Submit(ctx, mintTx("tx-1", "alice", "10"))
	require.NoError(t, err)
	first, err := chain.Commit(ctx)
	require.NoError(t, err)

	_, err = chain.Submit(ctx, mintTx("tx-2", "alice", "5"))
	require.NoError(t, err)
	second, err := chain.Commit(ctx)
	require.NoError(t, err)

	genesis := backend.Blocks()[0]
	assert.Equal(t, genesis.Hash, first.PreviousHash)
	assert.Equal(t, first.Hash, second.PreviousHash)
	assert.Equal(t, uint64(2), second.Height)
	assert.NotEqual(t, first.Hash, second.Hash)

	acc, err := chain.Account(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "15", acc.Balance.String())
}

func TestChain_Commit_NothingPending(t *testing.T) {
	chain, _ := newTestChain(t)

	_, err := chain.Commit(context.Background())

	assert.ErrorIs(t, err, ledger.ErrNoPendingTransactions)
}

func TestChain_ReadSetViolation_RejectedWithoutMutation(t *testing.T) {
	// GIVEN: A handler that writes an address it did not declare
	// WHEN: Submitting its transaction
	// THEN: ErrOutsideReadSet, and neither address is touched

	rec := &recorder{}
	chain, _ := newTestChain(t, ledger.WithObserver(rec))
	ctx := context.Background()

	tx := mintTx("tx-1", "alice", "10")
	tx.Type = typeLeaky
	tx.Asset["other"] = "bob"

	_, err := chain.Submit(ctx, tx)

	require.ErrorIs(t, err, ledger.ErrOutsideReadSet)
	assert.True(t, ledger.IsRejected(err))
	assert.True(t, ledger.IsClientError(err))
	for _, addr := range []ledger.Address{"alice", "bob"} {
		acc, err := chain.Account(ctx, addr)
		require.NoError(t, err)
		assert.True(t, acc.Balance.IsZero(), addr)
	}
	assert.Empty(t, chain.Pending())
	assert.Equal(t, []string{ledger.StageApply}, rec.stages)
}

func TestChain_DispatchErrors(t *testing.T) {
	rec := &recorder{}
	chain, _ := newTestChain(t, ledger.WithObserver(rec))
	ctx := context.Background()

	tx := mintTx("tx-1", "alice", "10")
	tx.Type = 42
	_, err := chain.Submit(ctx, tx)
	assert.ErrorIs(t, err, ledger.ErrUnknownTransactionType)

	tx = mintTx("tx-2", "alice", "10")
	tx.Fee = "1"
	_, err = chain.Submit(ctx, tx)
	assert.ErrorIs(t, err, ledger.ErrInvalidFee)

	tx = mintTx("tx-3", "alice", "ten")
	_, err = chain.Submit(ctx, tx)
	assert.ErrorIs(t, err, ledger.ErrInvalidField)

	assert.Equal(t, []string{ledger.StageDispatch, ledger.StageDispatch, ledger.StageValidate}, rec.stages)
}

func TestChain_Submit_EmptySenderIsFieldError(t *testing.T) {
	// GIVEN: A transaction without a sender
	// WHEN: Submitting it
	// THEN: It is rejected at validation with a .senderId field error, not a
	//       read-set violation, and nothing is pending

	rec := &recorder{}
	chain, _ := newTestChain(t, ledger.WithObserver(rec))

	tx := mintTx("tx-1", "alice", "10")
	tx.SenderID = ""
	_, err := chain.Submit(context.Background(), tx)

	require.ErrorIs(t, err, ledger.ErrInvalidField)
	assert.NotErrorIs(t, err, ledger.ErrOutsideReadSet)
	var rejected *ledger.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.True(t, rejected.IsValidation())
	require.Len(t, rejected.FieldErrors, 1)
	assert.Equal(t, ".senderId", rejected.FieldErrors[0].Field)
	assert.Empty(t, chain.Pending())
	assert.Equal(t, []string{ledger.StageValidate}, rec.stages)
}

func TestChain_DiscardPending_UndoesNewestFirst(t *testing.T) {
	rec := &recorder{}
	chain, _ := newTestChain(t, ledger.WithObserver(rec))
	ctx := context.Background()

	for _, id := range []string{"tx-1", "tx-2", "tx-3"} {
		_, err := chain.Submit(ctx, mintTx(id, "alice", "7"))
		require.NoError(t, err)
	}

	n, err := chain.DiscardPending(ctx)

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, rec.undone)
	acc, err := chain.Account(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acc.Balance.IsZero())

	_, err = chain.DiscardPending(ctx)
	assert.ErrorIs(t, err, ledger.ErrNoPendingTransactions)
}

func TestChain_RevertLastBlock(t *testing.T) {
	chain, backend := newTestChain(t)
	ctx := context.Background()

	_, err := chain.Submit(ctx, mintTx("tx-1", "alice", "10"))
	require.NoError(t, err)
	_, err = chain.Commit(ctx)
	require.NoError(t, err)

	// Pending transactions block a revert.
	_, err = chain.Submit(ctx, mintTx("tx-2", "alice", "1"))
	require.NoError(t, err)
	_, err = chain.RevertLastBlock(ctx)
	assert.ErrorIs(t, err, ledger.ErrPendingTransactions)
	_, err = chain.DiscardPending(ctx)
	require.NoError(t, err)

	reverted, err := chain.RevertLastBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reverted.Height)

	acc, err := chain.Account(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acc.Balance.IsZero())
	assert.Len(t, backend.Blocks(), 1)

	_, err = chain.RevertLastBlock(ctx)
	assert.ErrorIs(t, err, ledger.ErrGenesisBlock)
}

func TestChain_RevertLastBlock_UndoFailureIsFatal(t *testing.T) {
	// GIVEN: A committed block whose state was tampered with afterwards
	// WHEN: Reverting it
	// THEN: UndoError, fatal, and the block stays committed

	chain, backend := newTestChain(t)
	ctx := context.Background()

	_, err := chain.Submit(ctx, mintTx("tx-1", "alice", "10"))
	require.NoError(t, err)
	_, err = chain.Commit(ctx)
	require.NoError(t, err)
	backend.Seed(ledger.NewAccount("alice"))

	_, err = chain.RevertLastBlock(ctx)

	var undoErr *ledger.UndoError
	require.ErrorAs(t, err, &undoErr)
	assert.Equal(t, ledger.TransactionID("tx-1"), undoErr.TransactionID)
	assert.Equal(t, uint64(1), undoErr.Height)
	assert.True(t, ledger.IsFatal(err))
	assert.Len(t, backend.Blocks(), 2)
}

func TestChain_Accounts_MergesPending(t *testing.T) {
	chain, _ := newTestChain(t, ledger.WithGenesis(map[ledger.Address]ledger.Amount{"genesis": ledger.NewAmount(5)}))
	ctx := context.Background()

	_, err := chain.Submit(ctx, mintTx("tx-1", "alice", "3"))
	require.NoError(t, err)

	accounts, err := chain.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, ledger.Address("alice"), accounts[0].Address)
	assert.Equal(t, "3", accounts[0].Balance.String())
	assert.Equal(t, ledger.Address("genesis"), accounts[1].Address)

	pending := chain.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, ledger.TransactionID("tx-1"), pending[0].ID)
}

func TestRegistry_DuplicateKind(t *testing.T) {
	registry := ledger.NewRegistry()
	require.NoError(t, registry.Register(mint{}))

	err := registry.Register(mint{})

	assert.ErrorIs(t, err, ledger.ErrDuplicateHandler)
}
