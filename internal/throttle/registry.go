package throttle

import (
	"context"
	"net/http"
	"sync"

	"github.com/ranking-agent/trapi-throttle/internal/trapi"
	"golang.org/x/sync/errgroup"
)

// Registry owns one Engine per registered KP. Concurrent register/unregister
// against the same kp_id are serialized by mu; query only takes a read lock,
// so lookups never block on one another.
type Registry struct {
	httpc   *http.Client
	metrics Metrics

	mu      sync.RWMutex
	engines map[string]*Engine
}

// NewRegistry creates an empty Registry. httpc is the shared upstream
// client every Engine dispatches through.
func NewRegistry(httpc *http.Client, metrics Metrics) *Registry {
	return &Registry{
		httpc:   httpc,
		metrics: metrics,
		engines: map[string]*Engine{},
	}
}

// Register installs and starts a new Engine for kpID. It fails with
// DuplicateError if kpID is already registered.
func (r *Registry) Register(kpID string, info KPInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.engines[kpID]; ok {
		return DuplicateError{KPID: kpID}
	}

	e := NewEngine(kpID, info, r.httpc, r.metrics)
	e.Start()
	r.engines[kpID] = e

	return nil
}

// Unregister stops kpID's Engine and removes it. It fails with
// UnknownKPError if kpID isn't registered.
func (r *Registry) Unregister(kpID string) error {
	r.mu.Lock()
	e, ok := r.engines[kpID]
	if !ok {
		r.mu.Unlock()
		return UnknownKPError{KPID: kpID}
	}
	delete(r.engines, kpID)
	r.mu.Unlock()

	e.Stop()
	return nil
}

// Query dispatches query to kpID's Engine and blocks for its result. It
// fails with UnknownKPError if kpID isn't registered.
func (r *Registry) Query(ctx context.Context, kpID string, query trapi.Query) (trapi.Message, error) {
	r.mu.RLock()
	e, ok := r.engines[kpID]
	r.mu.RUnlock()
	if !ok {
		return trapi.Message{}, UnknownKPError{KPID: kpID}
	}

	return e.Submit(ctx, query)
}

// KPInfo returns the registration info for kpID, for callers (like the
// meta_knowledge_graph passthrough) that need the upstream URL without
// going through Submit. It fails with UnknownKPError if kpID isn't
// registered.
func (r *Registry) KPInfo(kpID string) (KPInfo, error) {
	r.mu.RLock()
	e, ok := r.engines[kpID]
	r.mu.RUnlock()
	if !ok {
		return KPInfo{}, UnknownKPError{KPID: kpID}
	}
	return e.kpInfo, nil
}

// KPIDs returns every currently-registered KP identifier.
func (r *Registry) KPIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	return ids
}

// Close stops every registered Engine concurrently and waits for all of
// them to drain, mirroring the teacher's errgroup-bounded shutdown.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.engines = map[string]*Engine{}
	r.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, e := range engines {
		g.Go(func() error {
			e.Stop()
			return nil
		})
	}
	return g.Wait()
}
