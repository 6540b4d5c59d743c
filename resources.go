package main

import (
	"errors"
	"time"

	"github.com/ranking-agent/trapi-throttle/internal/throttle"
)

// registrationRequest is the body of POST /register/{kp_id}.
type registrationRequest struct {
	URL             string  `json:"url"`
	RequestQty      int     `json:"request_qty"`
	RequestDuration float64 `json:"request_duration"` // seconds
}

// toKPInfo validates and converts the wire request into throttle.KPInfo.
func (r registrationRequest) toKPInfo() (throttle.KPInfo, error) {
	if r.URL == "" {
		return throttle.KPInfo{}, errors.Join(errMissingURL, errBadRequest)
	}
	if r.RequestQty < 0 {
		return throttle.KPInfo{}, errors.Join(errNegativeRequestQty, errBadRequest)
	}
	if r.RequestQty > 0 && r.RequestDuration <= 0 {
		return throttle.KPInfo{}, errors.Join(errNonPositiveDuration, errBadRequest)
	}

	return throttle.KPInfo{
		URL:             r.URL,
		RequestQty:      r.RequestQty,
		RequestDuration: time.Duration(r.RequestDuration * float64(time.Second)),
	}, nil
}

// statusResource is the body returned by register/unregister.
type statusResource struct {
	Status string `json:"status"`
}

// errorResource is the body returned when /{kp_id}/query fails, with a 502
// or the status code the error carries, per spec.md section 6's
// {message, request, response?, error} shape.
type errorResource struct {
	Message  string `json:"message"`
	Request  string `json:"request,omitempty"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error"`
}
