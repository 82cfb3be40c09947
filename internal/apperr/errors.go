package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches any AppError carrying the same code, so copies made by
// WithMessage still satisfy errors.Is against the sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// WithCause returns a shallow copy of e with Cause.
func (e *AppError) WithCause(err error) *AppError {
	c := *e
	c.Cause = err
	return &c
}

// WithMessage returns a shallow copy with an overridden message.
func (e *AppError) WithMessage(msg string, a ...any) *AppError {
	c := *e
	if len(a) > 0 {
		c.Message = fmt.Sprintf(msg, a...)
	} else {
		c.Message = msg
	}
	return &c
}

// CodeOf returns the code of the first AppError in err's chain; "UNKNOWN" otherwise; "OK" for nil.
func CodeOf(err error) string {
	if err == nil {
		return "OK"
	}
	var e *AppError
	if errors.As(err, &e) {
		return e.Code
	}
	return "UNKNOWN"
}

// HTTPStatusOf returns the HTTP status of the first AppError in err's chain; otherwise 500.
func HTTPStatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var e *AppError
	if errors.As(err, &e) && e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}

func def(code, msg string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: msg, HTTPStatus: httpStatus}
}

var (
	ErrInvalidInput   = def("400000", "invalid input", http.StatusBadRequest)
	ErrInternal       = def("500000", "internal server error", http.StatusInternalServerError)
	ErrStoreFailure   = def("500001", "alert store failure", http.StatusInternalServerError)
	ErrIngestionQueue = def("503000", "ingestion unavailable", http.StatusServiceUnavailable)
	ErrRateLimited    = def("429000", "rate limit exceeded", http.StatusTooManyRequests)
)

var (
	ErrAlertNotFound     = def("440400", "alert not found", http.StatusNotFound)
	ErrInvalidTransition = def("440900", "invalid alert status transition", http.StatusConflict)
	ErrEscalationLimit   = def("440901", "alert already at maximum escalation level", http.StatusConflict)
)
