// Package metrics exports chain activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fitmarket/custody-ledger/custody"
	"github.com/fitmarket/custody-ledger/ledger"
)

// Outcome label values of custody_transactions_total.
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
)

// Collector implements ledger.Observer. A nil *Collector is a valid no-op.
type Collector struct {
	transactions    *prometheus.CounterVec
	undone          *prometheus.CounterVec
	blocksCommitted prometheus.Counter
	blocksReverted  prometheus.Counter
	height          prometheus.Gauge
}

// NewCollector registers the chain metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_transactions_total",
			Help: "Submitted transactions by type and outcome (applied, rejected at dispatch/validate/apply).",
		}, []string{"type", "outcome"}),
		undone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_undo_total",
			Help: "Transactions undone by discarding or reverting blocks.",
		}, []string{"type"}),
		blocksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "custody_blocks_committed_total",
			Help: "Blocks committed, genesis included.",
		}),
		blocksReverted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "custody_blocks_reverted_total",
			Help: "Blocks reverted.",
		}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "custody_block_height",
			Help: "Height of the latest committed block.",
		}),
	}
	reg.MustRegister(c.transactions, c.undone, c.blocksCommitted, c.blocksReverted, c.height)
	return c
}

func (c *Collector) TransactionApplied(tx *ledger.Transaction) {
	if c == nil {
		return
	}
	c.transactions.WithLabelValues(custody.TypeName(tx.Type), OutcomeApplied).Inc()
}

func (c *Collector) TransactionRejected(tx *ledger.Transaction, stage string) {
	if c == nil {
		return
	}
	outcome := OutcomeRejected
	if stage != "" {
		outcome = OutcomeRejected + "_" + stage
	}
	c.transactions.WithLabelValues(custody.TypeName(tx.Type), outcome).Inc()
}

func (c *Collector) TransactionUndone(tx *ledger.Transaction) {
	if c == nil {
		return
	}
	c.undone.WithLabelValues(custody.TypeName(tx.Type)).Inc()
}

func (c *Collector) BlockCommitted(block *ledger.Block) {
	if c == nil {
		return
	}
	c.blocksCommitted.Inc()
	c.height.Set(float64(block.Height))
}

func (c *Collector) BlockReverted(block *ledger.Block) {
	if c == nil {
		return
	}
	c.blocksReverted.Inc()
	if block.Height > 0 {
		c.height.Set(float64(block.Height - 1))
	}
}

// Transactions returns the counter for one type/outcome pair.
func (c *Collector) Transactions(typeName, outcome string) prometheus.Counter {
	return c.transactions.WithLabelValues(typeName, outcome)
}

func (c *Collector) Height() prometheus.Gauge { return c.height }

var _ ledger.Observer = (*Collector)(nil)
