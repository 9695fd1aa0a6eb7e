package shared

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Is reports whether target is a DomainError with the same code, so that
// errors.Is(err, shared.ErrInvalidState) matches any INVALID_STATE error.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Error codes
const (
	CodeNotFound         = "NOT_FOUND"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeInvalidState     = "INVALID_STATE"
	CodeDuplicateInvoice = "DUPLICATE_INVOICE"
	CodeInvalidAmount    = "INVALID_AMOUNT"
	CodeIntegrityError   = "INTEGRITY_ERROR"
	CodeOptimisticLock   = "OPTIMISTIC_LOCK_ERROR"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeAlreadyExists    = "ALREADY_EXISTS"
	CodeNumberConflict   = "NUMBER_CONFLICT"
	CodeConcurrency      = "CONCURRENCY_CONFLICT"
)

// Common domain errors
var (
	ErrNotFound            = NewDomainError(CodeNotFound, "Resource not found")
	ErrAlreadyExists       = NewDomainError(CodeAlreadyExists, "Resource already exists")
	ErrInvalidInput        = NewDomainError(CodeInvalidInput, "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError(CodeConcurrency, "Resource was modified by another process")
	ErrUnauthorized        = NewDomainError(CodeUnauthorized, "Not authorized to perform this action")
	ErrInvalidState        = NewDomainError(CodeInvalidState, "Operation not allowed in current state")
	ErrDuplicateInvoice    = NewDomainError(CodeDuplicateInvoice, "An invoice already exists for this payment")
	ErrInvalidAmount       = NewDomainError(CodeInvalidAmount, "Amount must be positive")
	ErrIntegrity           = NewDomainError(CodeIntegrityError, "Ledger integrity check failed")
	ErrOptimisticLock      = NewDomainError(CodeOptimisticLock, "The record has been modified by another transaction")
	ErrNumberConflict      = NewDomainError(CodeNumberConflict, "Generated document number is already taken")
)

// NewNotFoundError names the missing resource
func NewNotFoundError(resource, id string) *DomainError {
	return NewDomainError(CodeNotFound, fmt.Sprintf("%s %s not found", resource, id))
}

// NewInvalidStateError reports a rejected transition together with the
// current status and the requested one.
func NewInvalidStateError(entity, action, current, requested string) *DomainError {
	return NewDomainError(CodeInvalidState,
		fmt.Sprintf("cannot %s %s: status is %s (requested %s)", action, entity, current, requested))
}

// NewInvalidAmountError creates an INVALID_AMOUNT error
func NewInvalidAmountError(message string) *DomainError {
	return NewDomainError(CodeInvalidAmount, message)
}

// NewIntegrityError creates an INTEGRITY_ERROR error
func NewIntegrityError(message string) *DomainError {
	return NewDomainError(CodeIntegrityError, message)
}

// ErrorCode extracts the domain error code, or "" for non-domain errors
func ErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
