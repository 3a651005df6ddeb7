/*
Package sqlite provides a SQLite-backed ledger.Backend.

PURPOSE:
  Persists the committed account state and the block history. Every block
  commit and revert runs in one SQL transaction: the block row and all
  accounts it wrote land together or not at all.

KEY TABLES:
  accounts:  Latest committed state per address (balance + metadata envelope)
  blocks:    One row per committed block, transactions stored as JSON

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. The Chain already serializes writers;
  the lock keeps readers (API) consistent with an in-flight commit.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/custody.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  chain := ledger.NewChain(custody.NewRegistry(), store)

SEE ALSO:
  - ../../ledger/state.go: Backend contract
  - ../leveldb: Key-value implementation
  - ../../ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fitmarket/custody-ledger/ledger"
)

// Store implements ledger.Backend using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		address TEXT PRIMARY KEY,
		balance TEXT NOT NULL,
		metadata_json TEXT NOT NULL,
		updated_at_height INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS blocks (
		height INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		previous_hash TEXT NOT NULL,
		hash TEXT NOT NULL,
		block_json TEXT NOT NULL,
		tx_count INTEGER NOT NULL,
		committed_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) LoadAccounts(ctx context.Context, addrs []ledger.Address) (map[ledger.Address]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[ledger.Address]ledger.Account, len(addrs))
	stmt, err := s.db.PrepareContext(ctx, `SELECT address, balance, metadata_json FROM accounts WHERE address = ?`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare account query: %w", err)
	}
	defer stmt.Close()

	for _, addr := range addrs {
		acc, err := scanAccount(stmt.QueryRowContext(ctx, addr))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load account %s: %w", addr, err)
		}
		result[addr] = acc
	}
	return result, nil
}

// ListAccounts returns every committed account ordered by address.
func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT address, balance, metadata_json FROM accounts ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var result []ledger.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, acc)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (ledger.Account, error) {
	var address, balance, metadataJSON string
	if err := row.Scan(&address, &balance, &metadataJSON); err != nil {
		return ledger.Account{}, err
	}
	amount, err := ledger.ParseAmount(balance)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("account %s: %w", address, err)
	}
	meta, err := ledger.UnmarshalMetadata([]byte(metadataJSON))
	if err != nil {
		return ledger.Account{}, fmt.Errorf("account %s: %w", address, err)
	}
	return ledger.Account{Address: ledger.Address(address), Balance: amount, Metadata: meta}, nil
}

// =============================================================================
// BLOCKS
// =============================================================================

func (s *Store) LatestBlock(ctx context.Context) (*ledger.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return latestBlock(ctx, s.db)
}

// BlockAt returns the block at height, or nil if none.
func (s *Store) BlockAt(ctx context.Context, height uint64) (*ledger.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanBlock(s.db.QueryRowContext(ctx, `SELECT block_json FROM blocks WHERE height = ?`, height))
}

// CommitBlock stores block and its accounts in one SQL transaction.
func (s *Store) CommitBlock(ctx context.Context, block ledger.Block, accounts []ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	latest, err := latestBlock(ctx, sqlTx)
	if err != nil {
		return err
	}
	expected := uint64(0)
	if latest != nil {
		expected = latest.Height + 1
	}
	if block.Height != expected {
		return fmt.Errorf("%w: expected height %d, got %d", ledger.ErrHeightMismatch, expected, block.Height)
	}

	data, err := ledger.EncodeBlock(block)
	if err != nil {
		return fmt.Errorf("failed to encode block: %w", err)
	}
	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO blocks (height, id, previous_hash, hash, block_json, tx_count, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		block.Height,
		block.ID,
		block.PreviousHash,
		block.Hash,
		string(data),
		len(block.Transactions),
		block.CommittedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert block %d: %w", block.Height, err)
	}

	if err := upsertAccounts(ctx, sqlTx, block.Height, accounts); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// RevertBlock deletes the latest block and restores accounts in one SQL
// transaction.
func (s *Store) RevertBlock(ctx context.Context, block ledger.Block, accounts []ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	latest, err := latestBlock(ctx, sqlTx)
	if err != nil {
		return err
	}
	if latest == nil {
		return ledger.ErrNoBlocks
	}
	if latest.Height != block.Height || latest.Hash != block.Hash {
		return fmt.Errorf("%w: latest block is %d, got %d", ledger.ErrHeightMismatch, latest.Height, block.Height)
	}

	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM blocks WHERE height = ?`, block.Height); err != nil {
		return fmt.Errorf("failed to delete block %d: %w", block.Height, err)
	}
	if err := upsertAccounts(ctx, sqlTx, block.Height-1, accounts); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func latestBlock(ctx context.Context, db querier) (*ledger.Block, error) {
	return scanBlock(db.QueryRowContext(ctx, `SELECT block_json FROM blocks ORDER BY height DESC LIMIT 1`))
}

func scanBlock(row *sql.Row) (*ledger.Block, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load block: %w", err)
	}
	block, err := ledger.DecodeBlock([]byte(data))
	if err != nil {
		return nil, err
	}
	return &block, nil
}

func upsertAccounts(ctx context.Context, sqlTx *sql.Tx, height uint64, accounts []ledger.Account) error {
	stmt, err := sqlTx.PrepareContext(ctx, `
		INSERT INTO accounts (address, balance, metadata_json, updated_at_height)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			balance = excluded.balance,
			metadata_json = excluded.metadata_json,
			updated_at_height = excluded.updated_at_height`)
	if err != nil {
		return fmt.Errorf("failed to prepare account upsert: %w", err)
	}
	defer stmt.Close()

	for _, acc := range accounts {
		meta, err := ledger.MarshalMetadata(acc.Meta())
		if err != nil {
			return fmt.Errorf("failed to encode metadata of %s: %w", acc.Address, err)
		}
		if _, err := stmt.ExecContext(ctx,
			string(acc.Address),
			acc.Balance.String(),
			string(meta),
			height,
		); err != nil {
			return fmt.Errorf("failed to write account %s: %w", acc.Address, err)
		}
	}
	return nil
}

var _ ledger.Backend = (*Store)(nil)
