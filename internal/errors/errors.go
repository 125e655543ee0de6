// Package errors defines the typed failures returned by the economy services.
//
// Every failure carries a stable Code, a human readable Message and the HTTP
// status the API layer should use. Callers match failures with the standard
// library's errors.Is against the exported sentinels:
//
//	if errors.Is(err, apperr.ErrInsufficientBalance) { ... }
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies a failure kind.
type Code string

const (
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeInvalidToken        Code = "INVALID_TOKEN"
	CodeInvalidCredentials  Code = "INVALID_CREDENTIALS"
	CodeForbidden           Code = "FORBIDDEN"
	CodeAccountNotFound     Code = "ACCOUNT_NOT_FOUND"
	CodeEmailTaken          Code = "EMAIL_TAKEN"
	CodeUsernameTaken       Code = "USERNAME_TAKEN"
	CodeItemNotFound        Code = "ITEM_NOT_FOUND"
	CodeNotCoinPriced       Code = "NOT_COIN_PRICED"
	CodeNotExternalPriced   Code = "NOT_EXTERNAL_PRICED"
	CodeAmountTooLow        Code = "AMOUNT_TOO_LOW"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeAlreadyOwned        Code = "ALREADY_OWNED"
	CodeNotOwned            Code = "NOT_OWNED"
	CodeRequestNotFound     Code = "REQUEST_NOT_FOUND"
	CodeAlreadyProcessed    Code = "ALREADY_PROCESSED"
	CodeBelowThreshold      Code = "BELOW_THRESHOLD"
	CodeInvalidAddress      Code = "INVALID_ADDRESS"
	CodeRateLimitExceeded   Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal            Code = "INTERNAL"
)

// ServiceError is a typed, client-facing failure.
type ServiceError struct {
	Code       Code           `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is reports whether target is a ServiceError with the same code.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of the error with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if stderrors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// Sentinels for errors.Is matching.
var (
	ErrInvalidArgument     = &ServiceError{Code: CodeInvalidArgument, HTTPStatus: http.StatusBadRequest}
	ErrUnauthorized        = &ServiceError{Code: CodeUnauthorized, HTTPStatus: http.StatusUnauthorized}
	ErrInvalidToken        = &ServiceError{Code: CodeInvalidToken, HTTPStatus: http.StatusUnauthorized}
	ErrInvalidCredentials  = &ServiceError{Code: CodeInvalidCredentials, HTTPStatus: http.StatusUnauthorized}
	ErrForbidden           = &ServiceError{Code: CodeForbidden, HTTPStatus: http.StatusForbidden}
	ErrAccountNotFound     = &ServiceError{Code: CodeAccountNotFound, HTTPStatus: http.StatusNotFound}
	ErrEmailTaken          = &ServiceError{Code: CodeEmailTaken, HTTPStatus: http.StatusBadRequest}
	ErrUsernameTaken       = &ServiceError{Code: CodeUsernameTaken, HTTPStatus: http.StatusBadRequest}
	ErrItemNotFound        = &ServiceError{Code: CodeItemNotFound, HTTPStatus: http.StatusNotFound}
	ErrNotCoinPriced       = &ServiceError{Code: CodeNotCoinPriced, HTTPStatus: http.StatusBadRequest}
	ErrNotExternalPriced   = &ServiceError{Code: CodeNotExternalPriced, HTTPStatus: http.StatusBadRequest}
	ErrAmountTooLow        = &ServiceError{Code: CodeAmountTooLow, HTTPStatus: http.StatusBadRequest}
	ErrInsufficientBalance = &ServiceError{Code: CodeInsufficientBalance, HTTPStatus: http.StatusBadRequest}
	ErrAlreadyOwned        = &ServiceError{Code: CodeAlreadyOwned, HTTPStatus: http.StatusBadRequest}
	ErrNotOwned            = &ServiceError{Code: CodeNotOwned, HTTPStatus: http.StatusBadRequest}
	ErrRequestNotFound     = &ServiceError{Code: CodeRequestNotFound, HTTPStatus: http.StatusNotFound}
	ErrAlreadyProcessed    = &ServiceError{Code: CodeAlreadyProcessed, HTTPStatus: http.StatusConflict}
	ErrBelowThreshold      = &ServiceError{Code: CodeBelowThreshold, HTTPStatus: http.StatusBadRequest}
	ErrInvalidAddress      = &ServiceError{Code: CodeInvalidAddress, HTTPStatus: http.StatusBadRequest}
	ErrRateLimitExceeded   = &ServiceError{Code: CodeRateLimitExceeded, HTTPStatus: http.StatusTooManyRequests}
	ErrInternal            = &ServiceError{Code: CodeInternal, HTTPStatus: http.StatusInternalServerError}
)

func newError(sentinel *ServiceError, message string) *ServiceError {
	return &ServiceError{Code: sentinel.Code, HTTPStatus: sentinel.HTTPStatus, Message: message}
}

func InvalidArgument(message string) *ServiceError {
	return newError(ErrInvalidArgument, message)
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return newError(ErrUnauthorized, message)
}

func InvalidToken(err error) *ServiceError {
	e := newError(ErrInvalidToken, "invalid token")
	e.Err = err
	return e
}

func InvalidCredentials() *ServiceError {
	return newError(ErrInvalidCredentials, "invalid email or password")
}

func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "admin privileges required"
	}
	return newError(ErrForbidden, message)
}

func AccountNotFound(id string) *ServiceError {
	return newError(ErrAccountNotFound, "account not found").WithDetails("account", id)
}

func EmailTaken(email string) *ServiceError {
	return newError(ErrEmailTaken, "email already registered").WithDetails("email", email)
}

func UsernameTaken(username string) *ServiceError {
	return newError(ErrUsernameTaken, "username already taken").WithDetails("username", username)
}

func ItemNotFound(itemID string) *ServiceError {
	return newError(ErrItemNotFound, fmt.Sprintf("item %s not found", itemID)).WithDetails("item_id", itemID)
}

func NotCoinPriced(itemID string) *ServiceError {
	return newError(ErrNotCoinPriced, fmt.Sprintf("item %s cannot be bought with coins", itemID)).WithDetails("item_id", itemID)
}

func NotExternalPriced(itemID string) *ServiceError {
	return newError(ErrNotExternalPriced, fmt.Sprintf("item %s cannot be bought with an external payment", itemID)).WithDetails("item_id", itemID)
}

func AmountTooLow(required string) *ServiceError {
	return newError(ErrAmountTooLow, fmt.Sprintf("amount too low, required %s", required)).WithDetails("required", required)
}

func InsufficientBalance(available, required int64) *ServiceError {
	return newError(ErrInsufficientBalance, fmt.Sprintf("insufficient balance: available %d, required %d", available, required)).
		WithDetails("available", available).
		WithDetails("required", required)
}

func AlreadyOwned(shipID string) *ServiceError {
	return newError(ErrAlreadyOwned, fmt.Sprintf("ship %s already owned", shipID)).WithDetails("ship_id", shipID)
}

func NotOwned(shipID string) *ServiceError {
	return newError(ErrNotOwned, fmt.Sprintf("ship %s not owned", shipID)).WithDetails("ship_id", shipID)
}

func RequestNotFound(kind, id string) *ServiceError {
	return newError(ErrRequestNotFound, fmt.Sprintf("%s %s not found", kind, id)).WithDetails("id", id)
}

func AlreadyProcessed(kind, id, status string) *ServiceError {
	return newError(ErrAlreadyProcessed, fmt.Sprintf("%s %s already %s", kind, id, status)).
		WithDetails("id", id).
		WithDetails("status", status)
}

func BelowThreshold(threshold, requested int64) *ServiceError {
	return newError(ErrBelowThreshold, fmt.Sprintf("minimum withdrawal is %d coins, requested %d", threshold, requested)).
		WithDetails("threshold", threshold)
}

func InvalidAddress(address string, err error) *ServiceError {
	e := newError(ErrInvalidAddress, "invalid destination address").WithDetails("address", address)
	e.Err = err
	return e
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(ErrRateLimitExceeded, "rate limit exceeded").
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Internal(message string, err error) *ServiceError {
	e := newError(ErrInternal, message)
	e.Err = err
	return e
}
