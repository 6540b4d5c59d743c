package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/alecthomas/kong"
	charm "github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/stampede"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ranking-agent/trapi-throttle/internal/cache"
	"github.com/ranking-agent/trapi-throttle/internal/metrics"
	"github.com/ranking-agent/trapi-throttle/internal/store"
	"github.com/ranking-agent/trapi-throttle/internal/throttle"
)

// cli contains our command-line flags.
type cli struct {
	Serve server `cmd:"" help:"Run the throttling proxy's HTTP server."`
}

type server struct {
	pgconfig
	sqliteconfig
	logconfig

	Port            int           `default:"8788" help:"Port to serve traffic on."`
	SharedRPS       float64       `default:"50" help:"Process-wide upstream requests/sec safety valve, across all KPs."`
	UpstreamTimeout time.Duration `default:"30s" help:"Timeout for a single upstream KP call."`
	MetaKGCacheTTL  time.Duration `default:"1h" help:"How long to cache a KP's meta_knowledge_graph passthrough response."`
	Store           string        `default:"none" enum:"none,postgres,sqlite" help:"Where KP registrations are persisted: none, postgres, or sqlite."`
}

type pgconfig struct {
	PostgresHost     string `default:"localhost" help:"Postgres host."`
	PostgresUser     string `default:"postgres" help:"Postgres user."`
	PostgresPassword string `default:"" help:"Postgres password."`
	PostgresPort     int    `default:"5432" help:"Postgres port."`
	PostgresDatabase string `default:"trapi_throttle" help:"Postgres database to use."`
}

// dsn returns the database's DSN based on the provided flags.
func (c *pgconfig) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDatabase,
	)
}

type sqliteconfig struct {
	SQLitePath string `default:"trapi_throttle.db" help:"Path to the sqlite database file, when --store=sqlite."`
}

type logconfig struct {
	Verbose bool `help:"increase log verbosity"`
}

func (c *logconfig) Run() error {
	if c.Verbose {
		_logHandler.SetLevel(charm.DebugLevel)
	}
	return nil
}

func (s *server) newStore(ctx context.Context, reg *prometheus.Registry) (store.Store, error) {
	switch s.Store {
	case "postgres":
		return store.NewPGStore(ctx, s.dsn(), reg)
	case "sqlite":
		return store.NewSQLiteStore(s.SQLitePath)
	default:
		return store.NewNoStore(), nil
	}
}

func (s *server) Run() error {
	_ = s.logconfig.Run()

	ctx := context.Background()

	reg := metrics.New()
	engineMetrics := metrics.NewEngine(reg)

	st, err := s.newStore(ctx, reg)
	if err != nil {
		return fmt.Errorf("setting up store: %w", err)
	}

	upstream, err := newUpstream(s.SharedRPS, s.UpstreamTimeout)
	if err != nil {
		return fmt.Errorf("setting up upstream client: %w", err)
	}

	registry := throttle.NewRegistry(upstream, engineMetrics)

	existing, err := st.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading persisted registrations: %w", err)
	}
	for kpID, info := range existing {
		if err := registry.Register(kpID, info); err != nil {
			log(ctx).Error("replaying registration", "kpID", kpID, "err", err)
		}
	}

	mkgCache, err := cache.New(s.MetaKGCacheTTL)
	if err != nil {
		return fmt.Errorf("setting up meta_knowledge_graph cache: %w", err)
	}

	h := newHandler(registry, st, mkgCache, upstream)
	mux := newMux(h)

	var handler http.Handler = mux
	handler = metrics.Instrument(reg, handler)
	handler = stampede.Handler(1024, 0)(handler)           // Coalesce requests to the same resource.
	handler = middleware.RequestSize(1024 * 1024)(handler) // Limit request bodies.
	handler = middleware.RedirectSlashes(handler)          // Normalize paths.
	handler = requestlogger{}.Wrap(handler)                // Log requests.
	handler = middleware.RequestID(handler)                // Include a request ID header.
	handler = middleware.Recoverer(handler)                // Recover from panics.

	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", s.Port)
	httpServer := &http.Server{
		Handler:  handler,
		Addr:     addr,
		ErrorLog: slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
	}

	slog.Info("listening on " + addr)
	return httpServer.ListenAndServe()
}

func main() {
	kctx := kong.Parse(&cli{})
	err := kctx.Run()
	if err != nil {
		log(context.Background()).Error("fatal", "err", err)
		os.Exit(1)
	}
}

func init() {
	// Limit our memory to 90% of the cgroup memory limit, or of total system
	// memory when there is no cgroup limit. This affects cache sizes.
	_, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.9),
		memlimit.WithLogger(slog.Default()),
		memlimit.WithProvider(
			memlimit.ApplyFallback(
				memlimit.FromCgroup,
				memlimit.FromSystem,
			),
		),
	)
	if err != nil {
		panic(err)
	}
}
