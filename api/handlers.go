/*
handlers.go - HTTP API handlers for the custody ledger

PURPOSE:
  Exposes the Chain via REST API. Handles HTTP request/response and JSON
  serialization and delegates every state change to the Chain, so HTTP
  callers get exactly the admission rules of the transaction handlers.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                 List accounts (?registered=true, ?kind=pallet)
    GET    /api/accounts/{address}       One account, pending writes included

  Transactions:
    POST   /api/transactions             Submit a transaction to the pending block
    GET    /api/transactions/pending     Transactions waiting for the next block

  Blocks:
    GET    /api/blocks/latest            Latest committed block
    GET    /api/blocks/{height}          Block at height
    POST   /api/blocks                   Commit the pending block
    DELETE /api/blocks/pending           Discard the pending block (undo)
    POST   /api/blocks/latest/revert     Revert the latest block (undo)

  Faucet:
    POST   /api/faucet                   Transfer from the genesis account
    POST   /api/faucet/accounts          Create a random address holding 1 unit

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed JSON, invalid asset fields, unknown type, invalid fee
  - 404: Account or block not found
  - 409: Nothing pending, pending block in the way, genesis revert
  - 422: Transaction rejected by a business rule
  - 500: Storage failures and undo failures (logged at error level)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo supply chains
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fitmarket/custody-ledger/factory"
	"github.com/fitmarket/custody-ledger/ledger"
)

// maxBodyBytes bounds transaction and faucet payloads.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// BlockReader is implemented by backends that can serve historical blocks.
type BlockReader interface {
	BlockAt(ctx context.Context, height uint64) (*ledger.Block, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Chain  *ledger.Chain
	Blocks BlockReader
	Logger *zap.Logger

	// Faucet is the genesis account that funds POST /api/faucet. Empty
	// disables the endpoint.
	Faucet ledger.Address

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over chain. Historical block lookups are
// enabled when backend implements BlockReader.
func NewHandler(chain *ledger.Chain, backend ledger.Backend, faucet ledger.Address, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{Chain: chain, Faucet: faucet, Logger: logger}
	if br, ok := backend.(BlockReader); ok {
		h.Blocks = br
	}
	return h
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns every known account ordered by address.
// GET /api/accounts?registered=true&kind=pallet
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Chain.Accounts(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list accounts", err)
		return
	}

	q := r.URL.Query()
	registeredOnly := q.Get("registered") == "true"
	kind := ledger.MetadataKind(q.Get("kind"))

	out := make([]ledger.Account, 0, len(accounts))
	for _, acc := range accounts {
		if registeredOnly && !acc.IsRegistered() {
			continue
		}
		if kind != "" && acc.Meta().Kind() != kind {
			continue
		}
		out = append(out, acc)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetAccount returns one account. Addresses with neither balance nor
// metadata are reported as not found.
// GET /api/accounts/{address}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr := ledger.Address(chi.URLParam(r, "address"))

	acc, err := h.Chain.Account(r.Context(), addr)
	if err != nil {
		h.fail(w, r, "Failed to get account", err)
		return
	}
	if !acc.IsRegistered() {
		writeError(w, http.StatusNotFound, "Account not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// SubmitTransaction admits one transaction into the pending block.
// POST /api/transactions
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	tx, err := factory.ParseTransaction(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction", err)
		return
	}
	h.submit(w, r, tx)
}

// ListPending returns the transactions admitted since the last commit.
// GET /api/transactions/pending
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	pending := h.Chain.Pending()
	writeJSON(w, http.StatusOK, PendingDTO{Count: len(pending), Transactions: pending})
}

// FaucetTransfer funds an address from the genesis account.
// POST /api/faucet
func (h *Handler) FaucetTransfer(w http.ResponseWriter, r *http.Request) {
	if h.Faucet == "" {
		writeError(w, http.StatusNotFound, "Faucet is not configured", nil)
		return
	}

	var req FaucetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required", nil)
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be a positive integer", err)
		return
	}

	h.submit(w, r, factory.Transfer(h.Faucet, ledger.Address(req.Address), amount))
}

// FaucetNewAccount creates an account under a random address by sending it
// one unit from the genesis account.
// POST /api/faucet/accounts
func (h *Handler) FaucetNewAccount(w http.ResponseWriter, r *http.Request) {
	if h.Faucet == "" {
		writeError(w, http.StatusNotFound, "Faucet is not configured", nil)
		return
	}

	addr := ledger.Address(uuid.NewString())
	receipt, err := h.Chain.Submit(r.Context(), factory.Transfer(h.Faucet, addr, ledger.NewAmount(1)))
	if err != nil {
		h.fail(w, r, "Transaction rejected", err)
		return
	}
	writeJSON(w, http.StatusAccepted, NewAccountResponse{Address: addr, Receipt: receipt})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, tx ledger.Transaction) {
	receipt, err := h.Chain.Submit(r.Context(), tx)
	if err != nil {
		h.fail(w, r, "Transaction rejected", err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

// =============================================================================
// BLOCK HANDLERS
// =============================================================================

// GET /api/blocks/latest
func (h *Handler) GetLatestBlock(w http.ResponseWriter, r *http.Request) {
	block, err := h.Chain.LatestBlock(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to get latest block", err)
		return
	}
	if block == nil {
		writeError(w, http.StatusNotFound, "No blocks committed", nil)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

// GET /api/blocks/{height}
func (h *Handler) GetBlock(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(chi.URLParam(r, "height"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid block height", err)
		return
	}
	if h.Blocks == nil {
		writeError(w, http.StatusNotImplemented, "Backend does not serve historical blocks", nil)
		return
	}

	block, err := h.Blocks.BlockAt(r.Context(), height)
	if err != nil {
		h.fail(w, r, "Failed to get block", err)
		return
	}
	if block == nil {
		writeError(w, http.StatusNotFound, "Block not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

// CommitBlock persists the pending transactions as the next block.
// POST /api/blocks
func (h *Handler) CommitBlock(w http.ResponseWriter, r *http.Request) {
	block, err := h.Chain.Commit(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to commit block", err)
		return
	}
	writeJSON(w, http.StatusCreated, block)
}

// DiscardPending undoes the pending transactions newest first.
// DELETE /api/blocks/pending
func (h *Handler) DiscardPending(w http.ResponseWriter, r *http.Request) {
	n, err := h.Chain.DiscardPending(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to discard pending block", err)
		return
	}
	writeJSON(w, http.StatusOK, DiscardResponse{Discarded: n})
}

// RevertLatestBlock undoes and removes the latest committed block.
// POST /api/blocks/latest/revert
func (h *Handler) RevertLatestBlock(w http.ResponseWriter, r *http.Request) {
	block, err := h.Chain.RevertLastBlock(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to revert block", err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

// =============================================================================
// HELPERS
// =============================================================================

// statusFor maps chain errors to HTTP status codes.
func statusFor(err error) int {
	var rejected *ledger.RejectedError
	switch {
	case ledger.IsFatal(err):
		return http.StatusInternalServerError
	case errors.As(err, &rejected):
		if rejected.IsValidation() {
			return http.StatusBadRequest
		}
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrUnknownTransactionType),
		errors.Is(err, ledger.ErrInvalidFee),
		errors.Is(err, factory.ErrMalformedTransaction):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNoPendingTransactions),
		errors.Is(err, ledger.ErrPendingTransactions),
		errors.Is(err, ledger.ErrGenesisBlock):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrNoBlocks):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server-side failures are logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message,
			zap.String("path", r.URL.Path),
			zap.Bool("fatal", ledger.IsFatal(err)),
			zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Details: err.Error(),
		Errors:  errorDetails(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
