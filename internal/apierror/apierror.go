package apierror

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrConflict            ErrorCode = "CONFLICT"
	ErrBadRequest          ErrorCode = "BAD_REQUEST"
	ErrInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrForbidden           ErrorCode = "FORBIDDEN"
	ErrInsufficientCredits ErrorCode = "INSUFFICIENT_CREDITS"
	ErrInternalServer      ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.Error(details)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// InsufficientCreditsDetails is the structured payload returned with a 402
// when an account cannot cover the cost of a scan.
type InsufficientCreditsDetails struct {
	Required  int64 `json:"required"`
	Available int64 `json:"available"`
	Needed    int64 `json:"needed"`
}

// NewInsufficientCredits builds the admission-control rejection for a reserve
// attempt that would overdraw the account. The balance is left untouched.
func NewInsufficientCredits(required, available int64) APIError {
	return NewAPIError(
		ErrInsufficientCredits,
		fmt.Sprintf("insufficient credits. Required: %d, Available: %d", required, available),
		InsufficientCreditsDetails{
			Required:  required,
			Available: available,
			Needed:    required - available,
		},
	)
}

func MapErrorToHTTPStatus(err error) int {
	if apiErr, ok := err.(APIError); ok {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict:
			return http.StatusConflict
		case ErrInvalidInput, ErrBadRequest:
			return http.StatusBadRequest
		case ErrUnauthorized:
			return http.StatusUnauthorized
		case ErrForbidden:
			return http.StatusForbidden
		case ErrInsufficientCredits:
			return http.StatusPaymentRequired
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
