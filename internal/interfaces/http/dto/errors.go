package dto

import (
	"net/http"

	"github.com/csr/ledger/internal/domain/shared"
)

// Error codes returned in the error envelope. Ledger codes are the domain
// codes unchanged; the rest are produced by the transport layer.
const (
	ErrCodeNotFound         = shared.CodeNotFound
	ErrCodeInvalidInput     = shared.CodeInvalidInput
	ErrCodeInvalidState     = shared.CodeInvalidState
	ErrCodeDuplicateInvoice = shared.CodeDuplicateInvoice
	ErrCodeInvalidAmount    = shared.CodeInvalidAmount
	ErrCodeIntegrity        = shared.CodeIntegrityError
	ErrCodeOptimisticLock   = shared.CodeOptimisticLock
	ErrCodeAlreadyExists    = shared.CodeAlreadyExists
	ErrCodeNumberConflict   = shared.CodeNumberConflict
	ErrCodeConcurrency      = shared.CodeConcurrency
	ErrCodeUnauthorized     = shared.CodeUnauthorized

	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeTokenExpired    = "TOKEN_EXPIRED"
	ErrCodeTokenInvalid    = "INVALID_TOKEN"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeNotFound:         http.StatusNotFound,
	ErrCodeInvalidInput:     http.StatusBadRequest,
	ErrCodeInvalidAmount:    http.StatusBadRequest,
	ErrCodeValidation:       http.StatusBadRequest,
	ErrCodeBadRequest:       http.StatusBadRequest,
	ErrCodeInvalidState:     http.StatusUnprocessableEntity,
	ErrCodeDuplicateInvoice: http.StatusConflict,
	ErrCodeAlreadyExists:    http.StatusConflict,
	ErrCodeOptimisticLock:   http.StatusConflict,
	ErrCodeConcurrency:      http.StatusConflict,
	// the number allocator retries internally; surfacing it means retries ran out
	ErrCodeNumberConflict: http.StatusServiceUnavailable,
	ErrCodeIntegrity:      http.StatusInternalServerError,

	ErrCodeUnauthorized:    http.StatusUnauthorized,
	ErrCodeTokenExpired:    http.StatusUnauthorized,
	ErrCodeTokenInvalid:    http.StatusUnauthorized,
	ErrCodeRateLimited:     http.StatusTooManyRequests,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
	ErrCodeInternal:        http.StatusInternalServerError,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Unknown codes map to 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
