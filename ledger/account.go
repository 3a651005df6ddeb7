package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// =============================================================================
// ACCOUNT - The unit of state
// =============================================================================

// Account is an addressable state record. An address that was never written
// reads as an Account with zero balance and Empty metadata.
type Account struct {
	Address  Address
	Balance  Amount
	Metadata Metadata
}

// NewAccount returns the default account for addr.
func NewAccount(addr Address) Account {
	return Account{Address: addr, Metadata: Empty{}}
}

// Meta returns the metadata, treating nil as Empty.
func (a Account) Meta() Metadata {
	if a.Metadata == nil {
		return Empty{}
	}
	return a.Metadata
}

// Clone deep-copies the account so that callers can mutate the result freely.
func (a Account) Clone() Account {
	a.Metadata = a.Meta().clone()
	return a
}

// IsRegistered reports whether the account carries a balance or metadata.
func (a Account) IsRegistered() bool {
	return a.Balance.IsPositive() || a.Meta().Kind() != KindEmpty
}

// Equal compares accounts field-for-field.
func (a Account) Equal(b Account) bool {
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}
	right, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}

type accountJSON struct {
	Address  Address         `json:"address"`
	Balance  Amount          `json:"balance"`
	Metadata json.RawMessage `json:"metadata"`
}

func (a Account) MarshalJSON() ([]byte, error) {
	meta, err := MarshalMetadata(a.Meta())
	if err != nil {
		return nil, err
	}
	return json.Marshal(accountJSON{Address: a.Address, Balance: a.Balance, Metadata: meta})
}

func (a *Account) UnmarshalJSON(data []byte) error {
	var raw accountJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	meta, err := UnmarshalMetadata(raw.Metadata)
	if err != nil {
		return err
	}
	*a = Account{Address: raw.Address, Balance: raw.Balance, Metadata: meta}
	return nil
}

// =============================================================================
// METADATA - Closed tagged variant
// =============================================================================

type MetadataKind string

const (
	KindEmpty         MetadataKind = "empty"
	KindMarket        MetadataKind = "market"
	KindProducer      MetadataKind = "producer"
	KindProduct       MetadataKind = "product"
	KindPallet        MetadataKind = "pallet"
	KindCarrierEscrow MetadataKind = "carrier_escrow"
)

// Metadata is the role-specific part of an account. The set of variants is
// closed: Empty, Market, Producer, Product, Pallet and CarrierEscrow.
type Metadata interface {
	Kind() MetadataKind
	clone() Metadata
}

// Empty is the metadata of every address that holds no role.
type Empty struct{}

type Market struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Producer struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Product is a production batch. RemainingQuantity never exceeds
// ProducedQuantity; pallet registration draws it down.
type Product struct {
	Barcode           string   `json:"barcode"`
	Batch             string   `json:"batch"`
	Name              string   `json:"name"`
	ProducedQuantity  Quantity `json:"produced_quantity"`
	RemainingQuantity Quantity `json:"remaining_quantity"`
	ProducedDate      string   `json:"produced_date"`
	DueDate           string   `json:"due_date"`
	FitInfo           *FitInfo `json:"fit_info,omitempty"`
}

// FitInfo is a one-shot nutritional annotation written by a market.
type FitInfo struct {
	Organic    string   `json:"organic"`
	NoTACC     string   `json:"noTACC"`
	TransFat   string   `json:"transFat"`
	DailyUnits Quantity `json:"daily_units"`
	Market     Address  `json:"market"`
}

type PalletStatus string

const (
	PalletPending PalletStatus = "pending"
	PalletOngoing PalletStatus = "ongoing"
	PalletSuccess PalletStatus = "success"
	PalletFail    PalletStatus = "fail"
)

// Pallet is a shipment. Its account balance holds the escrowed postage while
// the status is pending or ongoing.
type Pallet struct {
	Recipient       Address      `json:"recipient"`
	Sender          Address      `json:"sender"`
	Carrier         *Address     `json:"carrier,omitempty"`
	Security        Amount       `json:"security"`
	Postage         Amount       `json:"postage"`
	Status          PalletStatus `json:"status"`
	Product         Address      `json:"product"`
	ProductQuantity Quantity     `json:"product_quantity"`
}

// CarrierEscrow marks a carrier that holds locked security for a pallet in
// transit. A carrier whose escrow was released goes back to Empty.
type CarrierEscrow struct {
	LockedSecurity *Amount `json:"locked_security,omitempty"`
}

func (Empty) Kind() MetadataKind         { return KindEmpty }
func (Market) Kind() MetadataKind        { return KindMarket }
func (Producer) Kind() MetadataKind      { return KindProducer }
func (Product) Kind() MetadataKind       { return KindProduct }
func (Pallet) Kind() MetadataKind        { return KindPallet }
func (CarrierEscrow) Kind() MetadataKind { return KindCarrierEscrow }

func (m Empty) clone() Metadata    { return m }
func (m Market) clone() Metadata   { return m }
func (m Producer) clone() Metadata { return m }

func (m Product) clone() Metadata {
	if m.FitInfo != nil {
		fit := *m.FitInfo
		m.FitInfo = &fit
	}
	return m
}

func (m Pallet) clone() Metadata {
	if m.Carrier != nil {
		carrier := *m.Carrier
		m.Carrier = &carrier
	}
	return m
}

func (m CarrierEscrow) clone() Metadata {
	if m.LockedSecurity != nil {
		locked := *m.LockedSecurity
		m.LockedSecurity = &locked
	}
	return m
}

// LockedSecurity returns the security locked on a carrier account, or nil.
func LockedSecurity(a Account) *Amount {
	escrow, ok := a.Meta().(CarrierEscrow)
	if !ok {
		return nil
	}
	return escrow.LockedSecurity
}

// =============================================================================
// METADATA CODEC
// =============================================================================

// MarshalMetadata encodes m as {"type": kind, ...fields}.
func MarshalMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		m = Empty{}
	}
	fields, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	kind, err := json.Marshal(m.Kind())
	if err != nil {
		return nil, err
	}
	if bytes.Equal(fields, []byte("{}")) {
		return []byte(`{"type":` + string(kind) + `}`), nil
	}
	out := make([]byte, 0, len(fields)+len(kind)+9)
	out = append(out, `{"type":`...)
	out = append(out, kind...)
	out = append(out, ',')
	out = append(out, fields[1:]...)
	return out, nil
}

// UnmarshalMetadata decodes the envelope written by MarshalMetadata. Empty
// input and JSON null decode to Empty.
func UnmarshalMetadata(data []byte) (Metadata, error) {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return Empty{}, nil
	}
	var envelope struct {
		Type MetadataKind `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("ledger: decode metadata: %w", err)
	}

	var target Metadata
	switch envelope.Type {
	case KindEmpty, "":
		return Empty{}, nil
	case KindMarket:
		var m Market
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		target = m
	case KindProducer:
		var m Producer
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		target = m
	case KindProduct:
		var m Product
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		target = m
	case KindPallet:
		var m Pallet
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		target = m
	case KindCarrierEscrow:
		var m CarrierEscrow
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		target = m
	default:
		return nil, fmt.Errorf("ledger: unknown metadata type %q", envelope.Type)
	}
	return target, nil
}
