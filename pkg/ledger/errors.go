package ledger

import (
	"fmt"

	"github.com/MarkoPoloResearchLab/forwarder/pkg/faults"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientFunds        = faults.New(faults.KindInsufficientFunds, "insufficient funds")
	ErrWalletNotFound           = faults.New(faults.KindNotFound, "wallet not found")
	ErrDuplicateReference       = faults.New(faults.KindConflict, "duplicate reference id")
	ErrVersionConflict          = faults.New(faults.KindTransient, "wallet version conflict")
	ErrSerializationFailure     = faults.New(faults.KindTransient, "serialization failure")
	ErrConcurrentModification   = faults.New(faults.KindTransient, "wallet is being modified concurrently, retry later")
	ErrInvalidUserID            = faults.New(faults.KindValidation, "invalid user id")
	ErrInvalidWalletID          = faults.New(faults.KindValidation, "invalid wallet id")
	ErrInvalidTransactionID     = faults.New(faults.KindValidation, "invalid transaction id")
	ErrInvalidReferenceID       = faults.New(faults.KindValidation, "invalid reference id")
	ErrInvalidDescription       = faults.New(faults.KindValidation, "invalid description")
	ErrInvalidCurrency          = faults.New(faults.KindValidation, "invalid currency")
	ErrInvalidAmountCents       = faults.New(faults.KindValidation, "invalid amount")
	ErrInvalidEntryAmountCents  = faults.New(faults.KindValidation, "invalid entry amount")
	ErrInvalidTransactionKind   = faults.New(faults.KindValidation, "invalid transaction kind")
	ErrInvalidTransactionStatus = faults.New(faults.KindValidation, "invalid transaction status")
	ErrInvalidHistoryLimit      = faults.New(faults.KindValidation, "invalid history limit")
	ErrInvalidHistoryCursor     = faults.New(faults.KindValidation, "invalid history cursor")
	ErrInvalidServiceConfig     = faults.New(faults.KindInternal, "invalid service config")
	ErrInvalidBalance           = faults.New(faults.KindInternal, "invalid balance")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
