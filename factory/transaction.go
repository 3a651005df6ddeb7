/*
Package factory converts JSON payloads and Go parameters into transactions.

PURPOSE:
  Transactions arrive as JSON from the API, the demo scenarios and tests.
  The factory decodes them into ledger.Transaction keeping every asset
  number exact (json.Number), and offers one builder per custody kind so
  callers never spell asset keys by hand.

JSON SCHEMA:
  {
    "id": "3f0c...",            // optional, generated when missing
    "type": 50,
    "fee": "0",
    "senderId": "producer-1",
    "asset": {
      "palletId": "pallet-1",
      "recipientId": "market-1",
      "postage": "500",
      "security": "250",
      "productId": "product-1",
      "product_quantity": 10000
    }
  }

USAGE:
  tx, err := factory.ParseTransaction(body)

  tx := factory.StartTransport("carrier-1", "pallet-1")
  receipt, err := chain.Submit(ctx, tx)

SEE ALSO:
  - ../custody/types.go: Kinds and asset keys
  - ../ledger/asset.go: How handlers read the asset
*/
package factory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"

	"github.com/fitmarket/custody-ledger/custody"
	"github.com/fitmarket/custody-ledger/ledger"
)

// =============================================================================
// PARSING
// =============================================================================

// ErrMalformedTransaction is returned for payloads that are not a single
// transaction object.
var ErrMalformedTransaction = errors.New("malformed transaction")

// ParseTransaction decodes one JSON transaction. Asset numbers are kept as
// json.Number; an empty id is replaced with a fresh UUID.
func ParseTransaction(data []byte) (ledger.Transaction, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var tx ledger.Transaction
	if err := dec.Decode(&tx); err != nil {
		return ledger.Transaction{}, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return ledger.Transaction{}, fmt.Errorf("%w: trailing data after transaction", ErrMalformedTransaction)
	}
	if tx.ID == "" {
		tx.ID = newID()
	}
	if tx.Fee == "" {
		tx.Fee = custody.Fee.String()
	}
	if tx.Asset == nil {
		tx.Asset = ledger.Asset{}
	}
	return tx, nil
}

// =============================================================================
// BUILDERS - One per custody kind
// =============================================================================

type Location struct {
	Name      string
	Latitude  float64
	Longitude float64
}

type ProductParams struct {
	Barcode          string
	Batch            string
	Name             string
	ProducedQuantity ledger.Quantity
	ProducedDate     string
	DueDate          string
}

type PalletParams struct {
	RecipientID     ledger.Address
	ProductID       ledger.Address
	Postage         ledger.Amount
	Security        ledger.Amount
	ProductQuantity ledger.Quantity
}

type FitParams struct {
	Organic    string
	NoTACC     string
	TransFat   string
	DailyUnits ledger.Quantity
}

func Transfer(sender, recipient ledger.Address, amount ledger.Amount) ledger.Transaction {
	return build(custody.TypeTransfer, sender, ledger.Asset{
		"amount":      amount.String(),
		"recipientId": string(recipient),
	})
}

func RegisterMarket(sender, market ledger.Address, loc Location) ledger.Transaction {
	return build(custody.TypeRegisterMarket, sender, locationAsset("marketId", market, loc))
}

func RegisterProducer(sender, producer ledger.Address, loc Location) ledger.Transaction {
	return build(custody.TypeRegisterProducer, sender, locationAsset("producerId", producer, loc))
}

func RegisterProduct(sender, product ledger.Address, p ProductParams) ledger.Transaction {
	return build(custody.TypeRegisterProduct, sender, ledger.Asset{
		"productId":         string(product),
		"barcode":           p.Barcode,
		"batch":             p.Batch,
		"name":              p.Name,
		"produced_quantity": number(p.ProducedQuantity),
		"produced_date":     p.ProducedDate,
		"due_date":          p.DueDate,
	})
}

func RegisterPallet(sender, pallet ledger.Address, p PalletParams) ledger.Transaction {
	return build(custody.TypeRegisterPallet, sender, ledger.Asset{
		"palletId":         string(pallet),
		"recipientId":      string(p.RecipientID),
		"postage":          p.Postage.String(),
		"security":         p.Security.String(),
		"productId":        string(p.ProductID),
		"product_quantity": number(p.ProductQuantity),
	})
}

// StartTransport makes carrier the signer, and so the carrier, of pallet.
func StartTransport(carrier, pallet ledger.Address) ledger.Transaction {
	return build(custody.TypeStartTransport, carrier, ledger.Asset{
		"palletId": string(pallet),
	})
}

// FinishTransport must be signed by the pallet's recipient.
func FinishTransport(recipient, pallet ledger.Address, status string) ledger.Transaction {
	return build(custody.TypeFinishTransport, recipient, ledger.Asset{
		"palletId": string(pallet),
		"status":   status,
	})
}

func UpdateProduct(market, product ledger.Address, fit FitParams) ledger.Transaction {
	return build(custody.TypeUpdateProduct, market, ledger.Asset{
		"productId":   string(product),
		"organic":     fit.Organic,
		"noTACC":      fit.NoTACC,
		"transFat":    fit.TransFat,
		"daily_units": number(fit.DailyUnits),
	})
}

func build(t ledger.TransactionType, sender ledger.Address, asset ledger.Asset) ledger.Transaction {
	return ledger.Transaction{
		ID:       newID(),
		Type:     t,
		Fee:      custody.Fee.String(),
		SenderID: sender,
		Asset:    asset,
	}
}

func locationAsset(key string, addr ledger.Address, loc Location) ledger.Asset {
	return ledger.Asset{
		key:         string(addr),
		"name":      loc.Name,
		"latitude":  json.Number(strconv.FormatFloat(loc.Latitude, 'f', -1, 64)),
		"longitude": json.Number(strconv.FormatFloat(loc.Longitude, 'f', -1, 64)),
	}
}

func number(q ledger.Quantity) json.Number {
	return json.Number(q.String())
}

func newID() ledger.TransactionID {
	return ledger.TransactionID(uuid.NewString())
}
