package main

import (
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

// newUpstream creates the *http.Client shared by every registered KP's
// engine. A single client, reused across engines, amortizes connection
// pooling the way the teacher's NewUpstream does; it must be (and is) safe
// for concurrent use.
//
// Per-KP pacing is handled by each engine's own GCRA limiter (internal
// throttle.gcra); this transport additionally applies a process-wide safety
// valve so a burst across many KPs sharing this client can never exceed
// sharedRPS, independent of any single KP's configured rate.
func newUpstream(sharedRPS float64, timeout time.Duration) (*http.Client, error) {
	base := &http.Transport{
		MaxIdleConnsPerHost: 32,
	}
	if err := http2.ConfigureTransport(base); err != nil {
		return nil, err
	}

	return &http.Client{
		Timeout: timeout,
		Transport: throttledTransport{
			Limiter:      rate.NewLimiter(rate.Limit(sharedRPS), 1),
			RoundTripper: base,
		},
	}, nil
}
