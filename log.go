package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	charm "github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattn/go-isatty"
)

// _logHandler is the charm handler backing the package's default slog
// logger. Verbosity is adjusted at runtime by logconfig.Run.
var _logHandler = charm.NewWithOptions(os.Stderr, charm.Options{
	ReportTimestamp: true,
	Level:           charm.InfoLevel,
	Formatter:       logFormatter(),
})

func init() {
	slog.SetDefault(slog.New(_logHandler))
}

// logFormatter uses charm's colorized text formatter on an interactive
// terminal and plain logfmt everywhere else (containers, log aggregators)
// where ANSI escapes just add noise.
func logFormatter() charm.Formatter {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return charm.TextFormatter
	}
	return charm.LogfmtFormatter
}

// log returns the default logger, tagged with the inbound request ID when
// ctx carries one.
func log(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("reqID", reqID)
	}
	return logger
}

// requestlogger logs each inbound request at Info once it completes.
type requestlogger struct{}

// Wrap returns next wrapped with request logging.
func (requestlogger) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log(r.Context()).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
