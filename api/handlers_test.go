package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fitmarket/custody-ledger/api"
	"github.com/fitmarket/custody-ledger/config"
	"github.com/fitmarket/custody-ledger/custody"
	"github.com/fitmarket/custody-ledger/ledger"
	"github.com/fitmarket/custody-ledger/ledger/store"
	"github.com/fitmarket/custody-ledger/metrics"
)

const faucet = ledger.Address("genesis")

type testServer struct {
	t      *testing.T
	chain  *ledger.Chain
	router http.Handler
}

func newTestServer(t *testing.T, cfg config.APIConfig) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	backend := store.NewMemory()
	chain := ledger.NewChain(custody.NewRegistry(), backend,
		ledger.WithObserver(metrics.NewCollector(reg)),
		ledger.WithGenesis(map[ledger.Address]ledger.Amount{faucet: ledger.NewAmount(1000000)}))
	require.NoError(t, chain.Bootstrap(context.Background()))

	h := api.NewHandler(chain, backend, faucet, zap.NewNop())
	router := api.NewRouter(h, cfg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &testServer{t: t, chain: chain, router: router}
}

func unlimited() config.APIConfig {
	cfg := config.Defaults().API
	cfg.SubmitRate = 0
	return cfg
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// =============================================================================
// ACCOUNTS, FAUCET AND BLOCKS
// =============================================================================

func TestFaucet_FundsAccountAndCommits(t *testing.T) {
	// GIVEN: A node with a funded genesis account
	// WHEN: Funding alice through the faucet and committing
	// THEN: alice is visible before and after the commit and block 1 holds the transfer

	s := newTestServer(t, unlimited())

	rec := s.do(http.MethodPost, "/api/faucet", `{"address":"alice","amount":"250"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	receipt := decode[ledger.Receipt](t, rec)
	assert.Equal(t, custody.TypeTransfer, receipt.Type)
	assert.ElementsMatch(t, []ledger.Address{faucet, "alice"}, receipt.ReadSet)

	rec = s.do(http.MethodGet, "/api/accounts/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "250", decode[ledger.Account](t, rec).Balance.String())

	pending := decode[api.PendingDTO](t, s.do(http.MethodGet, "/api/transactions/pending", ""))
	assert.Equal(t, 1, pending.Count)

	rec = s.do(http.MethodPost, "/api/blocks", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	block := decode[ledger.Block](t, rec)
	assert.Equal(t, uint64(1), block.Height)
	require.Len(t, block.Transactions, 1)

	latest := decode[ledger.Block](t, s.do(http.MethodGet, "/api/blocks/latest", ""))
	assert.Equal(t, block.Hash, latest.Hash)

	genesis := decode[ledger.Block](t, s.do(http.MethodGet, "/api/blocks/0", ""))
	assert.Equal(t, genesis.Hash, latest.PreviousHash)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/blocks/7", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/blocks/x", "").Code)
}

func TestFaucet_NewAccount(t *testing.T) {
	// GIVEN: A node with a funded genesis account
	// WHEN: Asking the faucet for two new accounts
	// THEN: Each gets a distinct random address holding one unit

	s := newTestServer(t, unlimited())

	rec := s.do(http.MethodPost, "/api/faucet/accounts", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	first := decode[api.NewAccountResponse](t, rec)
	require.NotEmpty(t, first.Address)
	require.NotNil(t, first.Receipt)
	assert.Equal(t, custody.TypeTransfer, first.Receipt.Type)

	account := decode[ledger.Account](t, s.do(http.MethodGet, "/api/accounts/"+string(first.Address), ""))
	assert.Equal(t, "1", account.Balance.String())

	second := decode[api.NewAccountResponse](t, s.do(http.MethodPost, "/api/faucet/accounts", ""))
	assert.NotEqual(t, first.Address, second.Address)
	assert.Len(t, s.chain.Pending(), 2)
}

func TestFaucet_NotConfigured(t *testing.T) {
	backend := store.NewMemory()
	chain := ledger.NewChain(custody.NewRegistry(), backend)
	require.NoError(t, chain.Bootstrap(context.Background()))
	router := api.NewRouter(api.NewHandler(chain, backend, "", zap.NewNop()), unlimited(), nil)
	s := &testServer{t: t, chain: chain, router: router}

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/faucet/accounts", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/faucet", `{"address":"a","amount":"1"}`).Code)
}

func TestListAccounts_Filters(t *testing.T) {
	s := newTestServer(t, unlimited())
	s.do(http.MethodPost, "/api/faucet", `{"address":"alice","amount":"1"}`)

	all := decode[[]ledger.Account](t, s.do(http.MethodGet, "/api/accounts", ""))
	require.Len(t, all, 2)
	assert.Equal(t, ledger.Address("alice"), all[0].Address)

	pallets := decode[[]ledger.Account](t, s.do(http.MethodGet, "/api/accounts?registered=true&kind=pallet", ""))
	assert.Empty(t, pallets)
}

func TestGetAccount_UnknownIsNotFound(t *testing.T) {
	s := newTestServer(t, unlimited())

	rec := s.do(http.MethodGet, "/api/accounts/nobody", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestSubmitTransaction_ErrorStatuses(t *testing.T) {
	s := newTestServer(t, unlimited())

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"type":`, http.StatusBadRequest},
		{"trailing data", `{"type":8} {}`, http.StatusBadRequest},
		{"unknown type", `{"type":99,"senderId":"genesis","asset":{}}`, http.StatusBadRequest},
		{"non-zero fee", `{"type":8,"fee":"10","senderId":"genesis","asset":{"amount":"1","recipientId":"bob"}}`, http.StatusBadRequest},
		{"invalid field", `{"type":8,"senderId":"genesis","asset":{"recipientId":"bob"}}`, http.StatusBadRequest},
		{"missing sender", `{"type":8,"asset":{"amount":"1","recipientId":"bob"}}`, http.StatusBadRequest},
		{"insufficient balance", `{"type":8,"senderId":"bob","asset":{"amount":"5","recipientId":"alice"}}`, http.StatusUnprocessableEntity},
		{"pallet not registered", `{"type":60,"senderId":"genesis","asset":{"palletId":"pallet-x"}}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/transactions", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	assert.Empty(t, s.chain.Pending())
}

func TestSubmitTransaction_RejectionCarriesDetails(t *testing.T) {
	s := newTestServer(t, unlimited())

	rec := s.do(http.MethodPost, "/api/transactions",
		`{"type":8,"senderId":"bob","asset":{"amount":"5","recipientId":"alice"}}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[api.ErrorResponse](t, rec)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, ".asset.amount", resp.Errors[0].Field)
}

func TestBlockLifecycle_Conflicts(t *testing.T) {
	// GIVEN: A freshly bootstrapped node
	// WHEN: Committing or discarding with nothing pending, and reverting genesis
	// THEN: Each request is refused with 409

	s := newTestServer(t, unlimited())

	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/api/blocks", "").Code)
	assert.Equal(t, http.StatusConflict, s.do(http.MethodDelete, "/api/blocks/pending", "").Code)
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/api/blocks/latest/revert", "").Code)

	s.do(http.MethodPost, "/api/faucet", `{"address":"alice","amount":"1"}`)
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/api/blocks/latest/revert", "").Code)
}

func TestDiscardAndRevert_RestoreState(t *testing.T) {
	s := newTestServer(t, unlimited())

	s.do(http.MethodPost, "/api/faucet", `{"address":"alice","amount":"10"}`)
	s.do(http.MethodPost, "/api/faucet", `{"address":"bob","amount":"20"}`)
	rec := s.do(http.MethodDelete, "/api/blocks/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[api.DiscardResponse](t, rec).Discarded)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/accounts/alice", "").Code)

	s.do(http.MethodPost, "/api/faucet", `{"address":"alice","amount":"10"}`)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/blocks", "").Code)
	rec = s.do(http.MethodPost, "/api/blocks/latest/revert", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(1), decode[ledger.Block](t, rec).Height)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/accounts/alice", "").Code)
	genesis := decode[ledger.Account](t, s.do(http.MethodGet, "/api/accounts/genesis", ""))
	assert.Equal(t, "1000000", genesis.Balance.String())
}

func TestFaucet_RejectsBadRequests(t *testing.T) {
	s := newTestServer(t, unlimited())

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/faucet", `{"amount":"1"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/faucet", `{"address":"a","amount":"-1"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/faucet", `{"address":"a","amount":"0"}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(http.MethodPost, "/api/faucet", `{"address":"a","amount":"9999999"}`).Code)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestSubmitRateLimit(t *testing.T) {
	cfg := config.Defaults().API
	cfg.SubmitRate = 0.001
	cfg.SubmitBurst = 1
	s := newTestServer(t, cfg)

	first := s.do(http.MethodPost, "/api/faucet", `{"address":"alice","amount":"1"}`)
	second := s.do(http.MethodPost, "/api/faucet", `{"address":"alice","amount":"1"}`)

	assert.Equal(t, http.StatusAccepted, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	// Reads are not limited.
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/accounts", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, unlimited())
	s.do(http.MethodPost, "/api/faucet", `{"address":"alice","amount":"1"}`)

	rec := s.do(http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `custody_transactions_total{outcome="applied",type="transfer"} 1`)
}
