/*
scheduler.go - Automated block production

PURPOSE:
  Periodically commits the pending block so a dev node produces blocks
  without a client calling POST /api/blocks.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Empty pending blocks are skipped (no empty blocks are produced)
  - Commits go through Chain, which serializes them with API submissions

CONFIGURATION:
  - Interval: How often to commit (config block_interval, 0 disables)

USAGE:
  scheduler := NewBlockScheduler(chain, 10*time.Second, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: CommitBlock endpoint (manual commit)
  - ../ledger/chain.go: Chain.Commit
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fitmarket/custody-ledger/ledger"
)

// BlockScheduler commits the pending block on a fixed interval.
type BlockScheduler struct {
	Chain    *ledger.Chain
	Interval time.Duration
	Logger   *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewBlockScheduler creates a new scheduler.
func NewBlockScheduler(chain *ledger.Chain, interval time.Duration, logger *zap.Logger) *BlockScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlockScheduler{
		Chain:    chain,
		Interval: interval,
		Logger:   logger.Named("scheduler"),
	}
}

// Start begins the scheduler. It is a no-op when Interval is not positive
// or the scheduler is already running.
func (bs *BlockScheduler) Start() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.Interval <= 0 {
		bs.Logger.Info("disabled, not starting")
		return
	}
	if bs.ticker != nil {
		return
	}

	bs.ticker = time.NewTicker(bs.Interval)
	bs.stop = make(chan struct{})
	bs.wg.Add(1)

	go bs.run(bs.ticker, bs.stop)

	bs.Logger.Info("started", zap.Duration("interval", bs.Interval))
}

// Stop stops the scheduler and waits for an in-flight commit.
func (bs *BlockScheduler) Stop() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.ticker == nil {
		return
	}
	bs.ticker.Stop()
	close(bs.stop)
	bs.wg.Wait()
	bs.ticker = nil
	bs.Logger.Info("stopped")
}

func (bs *BlockScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer bs.wg.Done()

	for {
		select {
		case <-ticker.C:
			bs.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow commits the pending block immediately. It returns nil when there
// was nothing to commit.
func (bs *BlockScheduler) RunNow(ctx context.Context) *ledger.Block {
	block, err := bs.Chain.Commit(ctx)
	switch {
	case errors.Is(err, ledger.ErrNoPendingTransactions):
		return nil
	case err != nil:
		bs.Logger.Error("commit failed", zap.Error(err))
		return nil
	}
	return block
}
