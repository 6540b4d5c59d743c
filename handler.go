package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/ranking-agent/trapi-throttle/internal/cache"
	"github.com/ranking-agent/trapi-throttle/internal/store"
	"github.com/ranking-agent/trapi-throttle/internal/throttle"
	"github.com/ranking-agent/trapi-throttle/internal/trapi"
)

// handler is our HTTP handler. It defers batching/throttling to the
// registry and handles muxing, response bodies, and the meta_knowledge_graph
// passthrough.
type handler struct {
	registry *throttle.Registry
	store    store.Store
	cache    *cache.Cache
	http     *http.Client

	group singleflight.Group
}

// newHandler creates a new handler.
func newHandler(registry *throttle.Registry, st store.Store, c *cache.Cache, httpc *http.Client) *handler {
	return &handler{
		registry: registry,
		store:    st,
		cache:    c,
		http:     httpc,
	}
}

// newMux registers a handler's routes on a new mux.
func newMux(h *handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /register/{kpID}", h.register)
	mux.HandleFunc("GET /unregister/{kpID}", h.unregister)
	mux.HandleFunc("POST /{kpID}/query", h.query)
	mux.HandleFunc("GET /{kpID}/meta_knowledge_graph", h.metaKnowledgeGraph)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return mux
}

// register handles POST /register/{kp_id}.
func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	kpID := r.PathValue("kpID")

	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, errors.Join(err, errBadRequest))
		return
	}

	info, err := req.toKPInfo()
	if err != nil {
		h.error(w, err)
		return
	}

	if err := h.registry.Register(kpID, info); err != nil {
		h.error(w, err)
		return
	}

	if err := h.store.Save(r.Context(), kpID, info); err != nil {
		log(r.Context()).Error("persisting registration", "kpID", kpID, "err", err)
	}

	writeJSON(w, http.StatusOK, statusResource{Status: "created"})
}

// unregister handles GET /unregister/{kp_id}.
func (h *handler) unregister(w http.ResponseWriter, r *http.Request) {
	kpID := r.PathValue("kpID")

	if err := h.registry.Unregister(kpID); err != nil {
		h.error(w, err)
		return
	}

	if err := h.store.Delete(r.Context(), kpID); err != nil {
		log(r.Context()).Error("deleting registration", "kpID", kpID, "err", err)
	}

	writeJSON(w, http.StatusOK, statusResource{Status: "removed"})
}

// query handles POST /{kp_id}/query.
func (h *handler) query(w http.ResponseWriter, r *http.Request) {
	kpID := r.PathValue("kpID")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.error(w, errors.Join(err, errBadRequest))
		return
	}

	var q trapi.Query
	if err := json.Unmarshal(body, &q); err != nil {
		h.error(w, errors.Join(err, errBadRequest))
		return
	}

	message, err := h.registry.Query(r.Context(), kpID, q)
	if err != nil {
		h.upstreamError(w, kpID, string(body), err)
		return
	}

	writeJSON(w, http.StatusOK, trapi.Response{Message: message})
}

// metaKnowledgeGraph handles GET /{kp_id}/meta_knowledge_graph, a passthrough
// to the KP's own endpoint. Concurrent requests for the same kp_id are
// coalesced with singleflight, and results are cached for a short TTL since
// a KP's meta_knowledge_graph rarely changes.
func (h *handler) metaKnowledgeGraph(w http.ResponseWriter, r *http.Request) {
	kpID := r.PathValue("kpID")
	ctx := r.Context()

	if cached, ok := h.cache.Get(ctx, kpID); ok {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(cached)
		return
	}

	body, err, _ := h.group.Do(kpID, func() (any, error) {
		return h.fetchMetaKnowledgeGraph(ctx, kpID)
	})
	if err != nil {
		h.error(w, err)
		return
	}

	b := body.([]byte)
	if err := h.cache.Set(ctx, kpID, b); err != nil {
		log(ctx).Error("caching meta_knowledge_graph", "kpID", kpID, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func (h *handler) fetchMetaKnowledgeGraph(ctx context.Context, kpID string) ([]byte, error) {
	info, err := h.registry.KPInfo(kpID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL+"/meta_knowledge_graph", nil)
	if err != nil {
		return nil, throttle.KPUnreachableError{KPID: kpID, Err: err}
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, throttle.KPUnreachableError{KPID: kpID, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, throttle.KPUnreachableError{KPID: kpID, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, throttle.KPStatusError{KPID: kpID, Code: resp.StatusCode, Body: body}
	}

	return body, nil
}

// upstreamError renders a failed /{kp_id}/query dispatch with the
// {message, request, response?, error} envelope from spec section 6.
func (h *handler) upstreamError(w http.ResponseWriter, kpID, request string, err error) {
	status := http.StatusBadGateway
	var s statusCoder
	if errors.As(err, &s) {
		status = s.Status()
	}

	resource := errorResource{
		Message: "upstream dispatch failed",
		Request: request,
		Error:   err.Error(),
	}

	var kpStatus throttle.KPStatusError
	if errors.As(err, &kpStatus) {
		resource.Response = string(kpStatus.Body)
	}

	writeJSON(w, status, resource)
}

func (*handler) error(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var s statusCoder
	if errors.As(err, &s) {
		status = s.Status()
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
