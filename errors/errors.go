package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error is the error type surfaced to HTTP clients. Code maps to the response
// status, Message is safe to show to users, Op names the failing operation.
type Error struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
	Op      string `json:"-"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func E(op string, err error, message string, code int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

func InvalidInput(op string, err error, message string) *Error {
	return E(op, err, message, http.StatusBadRequest)
}

func NotFound(op string, err error, message string) *Error {
	return E(op, err, message, http.StatusNotFound)
}

func Conflict(op string, err error, message string) *Error {
	return E(op, err, message, http.StatusConflict)
}

func Internal(op string, err error, message string) *Error {
	return E(op, err, message, http.StatusInternalServerError)
}

func Upstream(op string, err error, message string) *Error {
	return E(op, err, message, http.StatusBadGateway)
}

func RateLimitExceeded(op string) *Error {
	return E(op, nil, "Rate limit exceeded", http.StatusTooManyRequests)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// CodeOf returns the status code of the first *Error in err's chain, or 500.
func CodeOf(err error) int {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return http.StatusInternalServerError
}
