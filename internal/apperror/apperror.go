package apperror

import "net/http"

type Code string

const (
	BadRequest        Code = "BAD_REQUEST"
	NotFound          Code = "NOT_FOUND"
	Internal          Code = "INTERNAL"
	InvalidInterval   Code = "INVALID_INTERVAL"
	MarketUnavailable Code = "MARKET_UNAVAILABLE"
	CachePersist      Code = "CACHE_PERSIST"
)

type AppError struct {
	code    Code
	message string
	cause   error
}

func New(code Code, message string) *AppError {
	return &AppError{code: code, message: message}
}

// Wrap keeps the underlying cause reachable via errors.Is/errors.As.
func Wrap(code Code, message string, cause error) *AppError {
	return &AppError{code: code, message: message, cause: cause}
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *AppError) Code() Code      { return e.code }
func (e *AppError) Message() string { return e.message }
func (e *AppError) Unwrap() error   { return e.cause }

func (e *AppError) HTTPStatus() int {
	switch e.code {
	case BadRequest, InvalidInterval:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case MarketUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
