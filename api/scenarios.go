/*
scenarios.go - Demo supply chains for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that drive a full pallet lifecycle through
	the Chain, so the explorer has realistic accounts to show. Every
	transaction goes through Submit like any client transaction.

AVAILABLE SCENARIOS:

	pallet-delivered: pallet arrives, carrier is paid, market rates the product
	pallet-lost:      pallet is reported lost, producer keeps the security

HOW SCENARIOS WORK:
 1. Fund a producer and a carrier from the faucet account
 2. Register producer, market and product
 3. Register a pallet, start and finish its transport
 4. Commit everything as one block

Addresses carry a random suffix, so a scenario can be loaded repeatedly on
the same chain.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "pallet-delivered"}

SEE ALSO:
  - handlers.go: Faucet configuration
  - ../factory/transaction.go: Transaction builders
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fitmarket/custody-ledger/custody"
	"github.com/fitmarket/custody-ledger/factory"
	"github.com/fitmarket/custody-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "pallet-delivered",
		Name:        "Pallet Delivered",
		Description: "Producer ships a pallet, the carrier delivers it and the market rates the product",
	},
	{
		ID:          "pallet-lost",
		Name:        "Pallet Lost",
		Description: "The market reports the pallet as lost; the producer receives the carrier's security",
	},
}

// Amounts used by every scenario.
var (
	scenarioProducerFunds = ledger.NewAmount(10000)
	scenarioCarrierFunds  = ledger.NewAmount(5000)
	scenarioPostage       = ledger.NewAmount(500)
	scenarioSecurity      = ledger.NewAmount(250)
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario runs a scenario and commits it.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var delivered bool
	switch req.ScenarioID {
	case "pallet-delivered":
		delivered = true
	case "pallet-lost":
		delivered = false
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown scenario %q", req.ScenarioID), nil)
		return
	}
	if h.Faucet == "" {
		writeError(w, http.StatusConflict, "Scenarios need a funded faucet account", nil)
		return
	}

	result, err := h.loadPalletScenario(r.Context(), delivered)
	if err != nil {
		h.fail(w, r, "Failed to load scenario", err)
		return
	}
	result.ScenarioID = req.ScenarioID

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.Logger.Info("scenario loaded",
		zap.String("scenario", req.ScenarioID),
		zap.Uint64("height", result.Block.Height))
	writeJSON(w, http.StatusCreated, result)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadPalletScenario(ctx context.Context, delivered bool) (*ScenarioResultDTO, error) {
	// A failed step discards the whole pending block, so it must hold only
	// scenario transactions.
	if len(h.Chain.Pending()) > 0 {
		return nil, ledger.ErrPendingTransactions
	}

	suffix := uuid.NewString()[:8]
	addrs := map[string]ledger.Address{
		"producer": ledger.Address("producer-" + suffix),
		"market":   ledger.Address("market-" + suffix),
		"carrier":  ledger.Address("carrier-" + suffix),
		"product":  ledger.Address("product-" + suffix),
		"pallet":   ledger.Address("pallet-" + suffix),
	}
	producer, market, carrier := addrs["producer"], addrs["market"], addrs["carrier"]
	product, pallet := addrs["product"], addrs["pallet"]

	status := string(ledger.PalletFail)
	if delivered {
		status = custody.StatusSuccess
	}

	txs := []ledger.Transaction{
		factory.Transfer(h.Faucet, producer, scenarioProducerFunds),
		factory.Transfer(h.Faucet, carrier, scenarioCarrierFunds),
		factory.RegisterProducer(producer, producer, factory.Location{Name: "Finca La Esperanza", Latitude: -31.4135, Longitude: -64.1811}),
		factory.RegisterMarket(market, market, factory.Location{Name: "Mercado Central", Latitude: -34.6037, Longitude: -58.3816}),
		factory.RegisterProduct(producer, product, factory.ProductParams{
			Barcode:          "7790001000" + suffix[:3],
			Batch:            "L-" + suffix,
			Name:             "Dulce de leche",
			ProducedQuantity: ledger.NewQuantity(1000),
			ProducedDate:     "2024-03-01",
			DueDate:          "2025-03-01",
		}),
		factory.RegisterPallet(producer, pallet, factory.PalletParams{
			RecipientID:     market,
			ProductID:       product,
			Postage:         scenarioPostage,
			Security:        scenarioSecurity,
			ProductQuantity: ledger.NewQuantity(100),
		}),
		factory.StartTransport(carrier, pallet),
		factory.FinishTransport(market, pallet, status),
	}
	if delivered {
		txs = append(txs, factory.UpdateProduct(market, product, factory.FitParams{
			Organic:    "no",
			NoTACC:     "yes",
			TransFat:   "no",
			DailyUnits: ledger.NewQuantity(2),
		}))
	}

	for _, tx := range txs {
		if _, err := h.Chain.Submit(ctx, tx); err != nil {
			if _, discardErr := h.Chain.DiscardPending(ctx); discardErr != nil {
				h.Logger.Error("discard after failed scenario", zap.Error(discardErr))
			}
			return nil, fmt.Errorf("%s: %w", custody.TypeName(tx.Type), err)
		}
	}

	block, err := h.Chain.Commit(ctx)
	if err != nil {
		return nil, err
	}
	return &ScenarioResultDTO{Block: block, Addresses: addrs, Transactions: len(txs)}, nil
}
