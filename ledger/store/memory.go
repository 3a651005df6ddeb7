// Package store provides in-process ledger.Backend implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fitmarket/custody-ledger/ledger"
)

// =============================================================================
// MEMORY BACKEND - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	accounts map[ledger.Address]ledger.Account
	blocks   []ledger.Block
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[ledger.Address]ledger.Account),
	}
}

func (m *Memory) LoadAccounts(_ context.Context, addrs []ledger.Address) (map[ledger.Address]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[ledger.Address]ledger.Account, len(addrs))
	for _, addr := range addrs {
		if acc, ok := m.accounts[addr]; ok {
			result[addr] = acc.Clone()
		}
	}
	return result, nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Account, 0, len(m.accounts))
	for _, acc := range m.accounts {
		result = append(result, acc.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result, nil
}

func (m *Memory) LatestBlock(_ context.Context) (*ledger.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.blocks) == 0 {
		return nil, nil
	}
	b := cloneBlock(m.blocks[len(m.blocks)-1])
	return &b, nil
}

// BlockAt returns the block at height, or nil if none.
func (m *Memory) BlockAt(_ context.Context, height uint64) (*ledger.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if height >= uint64(len(m.blocks)) {
		return nil, nil
	}
	b := cloneBlock(m.blocks[height])
	return &b, nil
}

// CommitBlock appends block and writes accounts atomically.
func (m *Memory) CommitBlock(_ context.Context, block ledger.Block, accounts []ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if expected := uint64(len(m.blocks)); block.Height != expected {
		return fmt.Errorf("%w: expected height %d, got %d", ledger.ErrHeightMismatch, expected, block.Height)
	}
	for _, acc := range accounts {
		m.accounts[acc.Address] = acc.Clone()
	}
	m.blocks = append(m.blocks, cloneBlock(block))
	return nil
}

// RevertBlock drops the latest block and restores accounts atomically.
func (m *Memory) RevertBlock(_ context.Context, block ledger.Block, accounts []ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.blocks) == 0 {
		return ledger.ErrNoBlocks
	}
	latest := m.blocks[len(m.blocks)-1]
	if latest.Height != block.Height || latest.Hash != block.Hash {
		return fmt.Errorf("%w: latest block is %d, got %d", ledger.ErrHeightMismatch, latest.Height, block.Height)
	}
	for _, acc := range accounts {
		m.accounts[acc.Address] = acc.Clone()
	}
	m.blocks = m.blocks[:len(m.blocks)-1]
	return nil
}

func (m *Memory) Close() error { return nil }

// Blocks returns every committed block, oldest first.
func (m *Memory) Blocks() []ledger.Block {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ledger.Block, len(m.blocks))
	for i, b := range m.blocks {
		out[i] = cloneBlock(b)
	}
	return out
}

// Seed writes accounts directly, bypassing blocks. Test helper.
func (m *Memory) Seed(accounts ...ledger.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range accounts {
		m.accounts[acc.Address] = acc.Clone()
	}
}

func cloneBlock(b ledger.Block) ledger.Block {
	txs := make([]ledger.Transaction, len(b.Transactions))
	for i, tx := range b.Transactions {
		txs[i] = tx.Clone()
	}
	b.Transactions = txs
	return b
}

var _ ledger.Backend = (*Memory)(nil)
