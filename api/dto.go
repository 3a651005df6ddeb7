/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures the API adds around the ledger types.
  Accounts, transactions, receipts and blocks are served with their own
  JSON encoding (camelCase, exact decimal strings); everything the API
  introduces itself uses snake_case.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

SEE ALSO:
  - handlers.go: Uses these types
  - ../ledger/account.go: Account JSON
*/
package api

import (
	"errors"

	"github.com/fitmarket/custody-ledger/ledger"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string           `json:"error"`
	Details string           `json:"details,omitempty"`
	Errors  []ErrorDetailDTO `json:"errors,omitempty"`
}

// ErrorDetailDTO is one field or domain error of a rejected transaction.
type ErrorDetailDTO struct {
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
	Value    any    `json:"value,omitempty"`
	Expected string `json:"expected,omitempty"`
}

// PendingDTO lists the transactions waiting for the next block.
type PendingDTO struct {
	Count        int                  `json:"count"`
	Transactions []ledger.Transaction `json:"transactions"`
}

type DiscardResponse struct {
	Discarded int `json:"discarded"`
}

// FaucetRequest funds Address from the genesis account.
type FaucetRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// NewAccountResponse is returned by POST /api/faucet/accounts.
type NewAccountResponse struct {
	Address ledger.Address  `json:"address"`
	Receipt *ledger.Receipt `json:"receipt"`
}

// ScenarioDTO describes a demo supply chain.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ScenarioResultDTO reports the accounts a scenario created and the block
// that holds them.
type ScenarioResultDTO struct {
	ScenarioID   string                    `json:"scenario_id"`
	Block        *ledger.Block             `json:"block"`
	Addresses    map[string]ledger.Address `json:"addresses"`
	Transactions int                       `json:"transactions"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// errorDetails flattens a rejection into one entry per underlying error.
func errorDetails(err error) []ErrorDetailDTO {
	var rejected *ledger.RejectedError
	if !errors.As(err, &rejected) {
		return nil
	}
	out := make([]ErrorDetailDTO, 0, len(rejected.FieldErrors)+len(rejected.DomainErrors))
	for _, fe := range rejected.FieldErrors {
		out = append(out, ErrorDetailDTO{Message: fe.Message, Field: fe.Field, Value: fe.Value, Expected: fe.Expected})
	}
	for _, de := range rejected.DomainErrors {
		out = append(out, ErrorDetailDTO{Message: de.Message, Field: de.Field, Value: de.Value})
	}
	return out
}
