package main

import (
	"net/http"

	"golang.org/x/time/rate"
)

// throttledTransport is the process-wide safety valve in front of every KP:
// it rate limits requests regardless of per-KP pacing. A KP's own 4XX/5XX
// responses (including 403) are left to the caller to interpret as a
// KPStatusError; this transport only ever throttles.
type throttledTransport struct {
	http.RoundTripper
	*rate.Limiter
}

func (t throttledTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.Limiter.Wait(r.Context()); err != nil {
		return nil, err
	}
	return t.RoundTripper.RoundTrip(r)
}
