// Package log provides the Log(ctx) helper shared by every internal/*
// package: a thin wrapper around log/slog that attaches the chi
// RequestID (when present) as a field, mirroring the root package's own
// log(ctx) helper.
package log

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5/middleware"
)

// Log returns the default slog.Logger, tagged with the request ID carried on
// ctx by chi's RequestID middleware, if any.
func Log(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("reqID", reqID)
	}
	return logger
}
