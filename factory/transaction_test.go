package factory_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitmarket/custody-ledger/custody"
	"github.com/fitmarket/custody-ledger/factory"
	"github.com/fitmarket/custody-ledger/ledger"
)

func TestParseTransaction_KeepsNumbersExact(t *testing.T) {
	// GIVEN: A RegisterPallet payload with a quantity beyond float64 precision
	// WHEN: Parsing it
	// THEN: The quantity survives as the exact decimal text

	tx, err := factory.ParseTransaction([]byte(`{
		"id": "tx-1",
		"type": 50,
		"fee": "0",
		"senderId": "producer-1",
		"asset": {
			"palletId": "pallet-1",
			"recipientId": "market-1",
			"postage": "500",
			"security": "250",
			"productId": "product-1",
			"product_quantity": 9007199254740993
		}
	}`))

	require.NoError(t, err)
	assert.Equal(t, ledger.TransactionID("tx-1"), tx.ID)
	assert.Equal(t, custody.TypeRegisterPallet, tx.Type)
	assert.Equal(t, json.Number("9007199254740993"), tx.Asset["product_quantity"])

	q, ok := tx.Asset.Quantity("product_quantity")
	require.True(t, ok)
	assert.Equal(t, "9007199254740993", q.String())
}

func TestParseTransaction_FillsDefaults(t *testing.T) {
	tx, err := factory.ParseTransaction([]byte(`{"type":60,"senderId":"carrier-1"}`))

	require.NoError(t, err)
	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, "0", tx.Fee)
	assert.NotNil(t, tx.Asset)
}

func TestParseTransaction_RejectsMalformed(t *testing.T) {
	for _, body := range []string{``, `[]`, `{"type":"x"}`, `{"type":8}{"type":8}`} {
		_, err := factory.ParseTransaction([]byte(body))
		assert.ErrorIs(t, err, factory.ErrMalformedTransaction, body)
	}
}

func TestBuilders_ProduceValidTransactions(t *testing.T) {
	// GIVEN: One transaction per custody kind built with the factory
	// WHEN: Running each handler's Validate
	// THEN: None reports a field error and every fee is the kind's fee

	registry := custody.NewRegistry()
	txs := []ledger.Transaction{
		factory.Transfer("a", "b", ledger.NewAmount(1)),
		factory.RegisterMarket("a", "m", factory.Location{Name: "M", Latitude: -34.6, Longitude: -58.4}),
		factory.RegisterProducer("a", "p", factory.Location{Name: "P"}),
		factory.RegisterProduct("a", "prod", factory.ProductParams{
			Barcode: "1", Batch: "2", Name: "n", ProducedQuantity: ledger.NewQuantity(5),
			ProducedDate: "2024-01-01", DueDate: "2024-06-01",
		}),
		factory.RegisterPallet("a", "pal", factory.PalletParams{
			RecipientID: "m", ProductID: "prod", Postage: ledger.NewAmount(1),
			Security: ledger.NewAmount(1), ProductQuantity: ledger.NewQuantity(1),
		}),
		factory.StartTransport("c", "pal"),
		factory.FinishTransport("m", "pal", custody.StatusSuccess),
		factory.UpdateProduct("m", "prod", factory.FitParams{Organic: "y", NoTACC: "y", TransFat: "n", DailyUnits: ledger.NewQuantity(1)}),
	}

	for _, tx := range txs {
		h, ok := registry.Lookup(tx.Type)
		require.True(t, ok, custody.TypeName(tx.Type))
		assert.Empty(t, h.Validate(&tx), custody.TypeName(tx.Type))
		assert.Equal(t, h.Fee().String(), tx.Fee)
	}
}

func TestBuilders_RoundTripThroughJSON(t *testing.T) {
	tx := factory.RegisterMarket("a", "m", factory.Location{Name: "Mercado", Latitude: -34.6037, Longitude: -58.3816})

	data, err := json.Marshal(tx)
	require.NoError(t, err)
	parsed, err := factory.ParseTransaction(data)
	require.NoError(t, err)

	assert.Equal(t, tx.ID, parsed.ID)
	lat, ok := parsed.Asset.Float("latitude")
	require.True(t, ok)
	assert.InDelta(t, -34.6037, lat, 1e-9)
}
