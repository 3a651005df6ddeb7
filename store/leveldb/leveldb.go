/*
Package leveldb provides a LevelDB-backed ledger.Backend.

PURPOSE:
  A key-value alternative to the SQLite store for single-node deployments.
  Block commits and reverts are written as one leveldb.Batch, so the block
  record, the latest-height pointer and every account change land together.

KEY LAYOUT:
  acct/<address>        account JSON (address, balance, metadata envelope)
  block/<height:%016x>  block JSON (transactions keep exact asset numbers)
  meta/latest           height of the latest block, 8 bytes big endian

USAGE:
  store, err := leveldb.New("./data/custody-leveldb")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ../sqlite: Relational implementation
  - ../../ledger/state.go: Backend contract
*/
package leveldb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/fitmarket/custody-ledger/ledger"
)

var (
	accountPrefix = []byte("acct/")
	blockPrefix   = []byte("block/")
	latestKey     = []byte("meta/latest")
)

// Store implements ledger.Backend on a LevelDB database.
type Store struct {
	db *leveldb.DB
	mu sync.RWMutex
}

// New creates or opens a LevelDB database at path.
func New(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) LoadAccounts(_ context.Context, addrs []ledger.Address) (map[ledger.Address]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[ledger.Address]ledger.Account, len(addrs))
	for _, addr := range addrs {
		data, err := s.db.Get(accountKey(addr), nil)
		if errors.Is(err, leveldb.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load account %s: %w", addr, err)
		}
		var acc ledger.Account
		if err := json.Unmarshal(data, &acc); err != nil {
			return nil, fmt.Errorf("failed to decode account %s: %w", addr, err)
		}
		result[addr] = acc
	}
	return result, nil
}

// ListAccounts iterates the account prefix; LevelDB keeps keys sorted, so
// the result is ordered by address.
func (s *Store) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	iter := s.db.NewIterator(util.BytesPrefix(accountPrefix), nil)
	defer iter.Release()

	var result []ledger.Account
	for iter.Next() {
		var acc ledger.Account
		if err := json.Unmarshal(iter.Value(), &acc); err != nil {
			return nil, fmt.Errorf("failed to decode account %s: %w", iter.Key()[len(accountPrefix):], err)
		}
		result = append(result, acc)
	}
	return result, iter.Error()
}

// =============================================================================
// BLOCKS
// =============================================================================

func (s *Store) LatestBlock(_ context.Context) (*ledger.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	height, ok, err := s.latestHeight()
	if err != nil || !ok {
		return nil, err
	}
	return s.blockAt(height)
}

// BlockAt returns the block at height, or nil if none.
func (s *Store) BlockAt(_ context.Context, height uint64) (*ledger.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.blockAt(height)
}

// CommitBlock writes block, the latest pointer and accounts in one batch.
func (s *Store) CommitBlock(_ context.Context, block ledger.Block, accounts []ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	height, ok, err := s.latestHeight()
	if err != nil {
		return err
	}
	expected := uint64(0)
	if ok {
		expected = height + 1
	}
	if block.Height != expected {
		return fmt.Errorf("%w: expected height %d, got %d", ledger.ErrHeightMismatch, expected, block.Height)
	}

	data, err := ledger.EncodeBlock(block)
	if err != nil {
		return fmt.Errorf("failed to encode block: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put(blockKey(block.Height), data)
	batch.Put(latestKey, encodeHeight(block.Height))
	if err := putAccounts(batch, accounts); err != nil {
		return err
	}
	return s.db.Write(batch, &opt.WriteOptions{Sync: true})
}

// RevertBlock deletes the latest block, moves the pointer back and restores
// accounts in one batch.
func (s *Store) RevertBlock(_ context.Context, block ledger.Block, accounts []ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	height, ok, err := s.latestHeight()
	if err != nil {
		return err
	}
	if !ok {
		return ledger.ErrNoBlocks
	}
	latest, err := s.blockAt(height)
	if err != nil {
		return err
	}
	if latest == nil || latest.Height != block.Height || latest.Hash != block.Hash {
		return fmt.Errorf("%w: latest block is %d, got %d", ledger.ErrHeightMismatch, height, block.Height)
	}

	batch := new(leveldb.Batch)
	batch.Delete(blockKey(block.Height))
	if block.Height == 0 {
		batch.Delete(latestKey)
	} else {
		batch.Put(latestKey, encodeHeight(block.Height-1))
	}
	if err := putAccounts(batch, accounts); err != nil {
		return err
	}
	return s.db.Write(batch, &opt.WriteOptions{Sync: true})
}

func (s *Store) latestHeight() (uint64, bool, error) {
	data, err := s.db.Get(latestKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read latest height: %w", err)
	}
	if len(data) != 8 {
		return 0, false, fmt.Errorf("corrupt latest height record (%d bytes)", len(data))
	}
	return binary.BigEndian.Uint64(data), true, nil
}

func (s *Store) blockAt(height uint64) (*ledger.Block, error) {
	data, err := s.db.Get(blockKey(height), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load block %d: %w", height, err)
	}
	block, err := ledger.DecodeBlock(data)
	if err != nil {
		return nil, err
	}
	return &block, nil
}

// =============================================================================
// KEYS
// =============================================================================

func accountKey(addr ledger.Address) []byte {
	return append(append([]byte{}, accountPrefix...), addr...)
}

func blockKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", blockPrefix, height))
}

func encodeHeight(height uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return buf[:]
}

func putAccounts(batch *leveldb.Batch, accounts []ledger.Account) error {
	for _, acc := range accounts {
		data, err := json.Marshal(acc)
		if err != nil {
			return fmt.Errorf("failed to encode account %s: %w", acc.Address, err)
		}
		batch.Put(accountKey(acc.Address), data)
	}
	return nil
}

var _ ledger.Backend = (*Store)(nil)
