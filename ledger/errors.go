/*
errors.go - Error types for the transaction engine

ERROR CLASSES:
  1. Field errors (Validate): static, structural problems with the asset.
     The transaction is rejected before any store access.
  2. Domain errors (Apply/Undo): business-rule violations that need store
     context. Apply guarantees no mutation when it returns any.
  3. Undo errors: an Undo that fails means the store or the call sequence is
     corrupt. They are fatal and never retried.

Every field/domain error carries the tuple the runtime reports:
(message, transaction id, offending field, offending value).

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) { ... }

  var rejected *ledger.RejectedError
  if errors.As(err, &rejected) {
      for _, fe := range rejected.FieldErrors { ... }
  }
*/
package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidField = errors.New("invalid transaction field")

	ErrInvalidAmount        = errors.New("invalid amount")
	ErrNegativeAmount       = errors.New("amount would become negative")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientQuantity = errors.New("insufficient remaining quantity")

	// ErrAlreadyRegistered is returned when an address already holds the role
	// a registration transaction assigns.
	ErrAlreadyRegistered = errors.New("already registered")

	// ErrRoleConflict is returned when an address holds a different role than
	// the one a transaction needs to write.
	ErrRoleConflict = errors.New("account holds conflicting metadata")

	ErrNotRegistered       = errors.New("not registered")
	ErrWrongSigner         = errors.New("wrong signer")
	ErrInvalidPalletStatus = errors.New("invalid pallet status")
	ErrEscrowMismatch      = errors.New("carrier escrow does not match pallet")

	// ErrOutsideReadSet is returned when a handler touches an address it did
	// not declare.
	ErrOutsideReadSet = errors.New("address outside declared read-set")

	ErrUnknownTransactionType = errors.New("unknown transaction type")
	ErrInvalidFee             = errors.New("invalid fee")
	ErrDuplicateHandler       = errors.New("handler already registered for type")

	ErrNoPendingTransactions = errors.New("no pending transactions")
	ErrPendingTransactions   = errors.New("pending transactions must be committed or discarded first")
	ErrNoBlocks              = errors.New("no committed blocks")
	ErrGenesisBlock          = errors.New("genesis block cannot be reverted")
	ErrHeightMismatch        = errors.New("block height mismatch")

	ErrUndoFailed = errors.New("undo failed")
)

// =============================================================================
// FIELD ERRORS - Returned by Validate
// =============================================================================

// FieldError describes one invalid asset field.
type FieldError struct {
	Message       string
	TransactionID TransactionID
	Field         string
	Value         any
	Expected      string
}

func (e *FieldError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("%s (field %s, got %v, expected %s)", e.Message, e.Field, e.Value, e.Expected)
	}
	return fmt.Sprintf("%s (field %s, got %v)", e.Message, e.Field, e.Value)
}

func (e *FieldError) Unwrap() error { return ErrInvalidField }

type FieldErrors []*FieldError

// Err joins the list into a single error, or nil when empty.
func (fe FieldErrors) Err() error {
	if len(fe) == 0 {
		return nil
	}
	errs := make([]error, len(fe))
	for i, e := range fe {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// =============================================================================
// DOMAIN ERRORS - Returned by Apply and Undo
// =============================================================================

// DomainError describes a business-rule violation found with store context.
type DomainError struct {
	Message       string
	TransactionID TransactionID
	Field         string
	Value         any
	Cause         error
}

func (e *DomainError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (field %s, got %v)", e.Message, e.Field, e.Value)
}

func (e *DomainError) Unwrap() error { return e.Cause }

// NewDomainError builds a DomainError for tx.
func NewDomainError(tx *Transaction, cause error, field string, value any, format string, args ...any) *DomainError {
	return &DomainError{
		Message:       fmt.Sprintf(format, args...),
		TransactionID: tx.ID,
		Field:         field,
		Value:         value,
		Cause:         cause,
	}
}

type DomainErrors []*DomainError

func (de DomainErrors) Err() error {
	if len(de) == 0 {
		return nil
	}
	errs := make([]error, len(de))
	for i, e := range de {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// =============================================================================
// STRUCTURED ERRORS - Returned by Chain
// =============================================================================

// RejectedError reports why a submitted transaction was not admitted.
type RejectedError struct {
	TransactionID TransactionID
	Type          TransactionType
	FieldErrors   FieldErrors
	DomainErrors  DomainErrors
}

func (e *RejectedError) Error() string {
	var parts []string
	for _, fe := range e.FieldErrors {
		parts = append(parts, fe.Error())
	}
	for _, de := range e.DomainErrors {
		parts = append(parts, de.Error())
	}
	return fmt.Sprintf("transaction %s rejected: %s", e.TransactionID, strings.Join(parts, "; "))
}

// Unwrap exposes every underlying error to errors.Is / errors.As.
func (e *RejectedError) Unwrap() []error {
	out := make([]error, 0, len(e.FieldErrors)+len(e.DomainErrors))
	for _, fe := range e.FieldErrors {
		out = append(out, fe)
	}
	for _, de := range e.DomainErrors {
		out = append(out, de)
	}
	return out
}

// IsValidation reports whether the rejection happened at Validate time.
func (e *RejectedError) IsValidation() bool { return len(e.FieldErrors) > 0 }

// UndoError is fatal: the apply/undo symmetry has been broken.
type UndoError struct {
	TransactionID TransactionID
	Height        uint64
	Errors        DomainErrors
}

func (e *UndoError) Error() string {
	return fmt.Sprintf("undo of transaction %s (block %d) failed: %v", e.TransactionID, e.Height, e.Errors.Err())
}

func (e *UndoError) Unwrap() []error {
	out := []error{ErrUndoFailed}
	for _, de := range e.Errors {
		out = append(out, de)
	}
	return out
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the submitted transaction.
func IsClientError(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected) ||
		errors.Is(err, ErrUnknownTransactionType) ||
		errors.Is(err, ErrInvalidFee)
}

// IsFatal returns true for errors that break apply/undo symmetry.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUndoFailed)
}
