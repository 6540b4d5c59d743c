package main

import (
	"errors"
	"net/http"
)

// statusErr is an HTTP status code that also satisfies error, the way the
// teacher's upstream transport wraps 4XX/5XX responses.
type statusErr int

func (s statusErr) Error() string { return http.StatusText(int(s)) }

// Status implements statusCoder.
func (s statusErr) Status() int { return int(s) }

// statusCoder is satisfied by statusErr and every error type in
// internal/throttle; handler.error uses it to recover an HTTP status code
// from an otherwise-opaque error.
type statusCoder interface {
	error
	Status() int
}

var (
	errBadRequest = statusErr(http.StatusBadRequest)

	errMissingURL          = errors.New("url is required")
	errNegativeRequestQty  = errors.New("request_qty must be non-negative")
	errNonPositiveDuration = errors.New("request_duration must be positive when request_qty > 0")
)
