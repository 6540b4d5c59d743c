// Package throttle implements the per-KP throttled batching engine: the
// worker that drains a request queue, merges structurally-identical pending
// requests into a single upstream call, paces dispatches with a GCRA rate
// limiter, and demultiplexes the upstream response back to each waiting
// caller.
package throttle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/ranking-agent/trapi-throttle/internal/log"
	"github.com/ranking-agent/trapi-throttle/internal/trapi"
)

// KPInfo is the immutable configuration of a registered knowledge provider.
type KPInfo struct {
	URL             string
	RequestQty      int
	RequestDuration time.Duration
}

// Metrics is the hook an Engine reports batching and pacing activity
// through. A nil Metrics is valid; all Engine methods guard against it.
type Metrics interface {
	BatchDispatched(kpID string, size int)
	QueueDepth(kpID string, depth int)
	DispatchLatency(kpID string, d time.Duration)
	PaceWait(kpID string, d time.Duration)
}

// engineState is the lifecycle state of an Engine, per spec.md's
// Idle->Running->Stopping->Stopped state machine.
type engineState int32

const (
	stateIdle engineState = iota
	stateRunning
	stateStopping
	stateStopped
)

// queue is an unbounded, mutex-protected FIFO with a buffered signal channel
// the worker blocks on. It is deliberately simpler than a sync.Cond: a
// single worker ever reads from it, so a signal channel with a drain loop
// is sufficient and avoids the broadcast/lock-juggling sync.Cond needs.
type queue struct {
	mu     sync.Mutex
	items  []*pendingRequest
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

func (q *queue) push(p *pendingRequest) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// drain removes and returns every item currently queued.
func (q *queue) drain() []*pendingRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

func (q *queue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Engine is the throttled batching worker for a single registered KP.
type Engine struct {
	kpID    string
	kpInfo  KPInfo
	httpc   *http.Client
	metrics Metrics

	limiter *gcra
	queue   *queue

	mu    sync.Mutex
	state engineState

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine constructs an Engine for kpID. The engine is not started; call
// Start to create its worker.
func NewEngine(kpID string, info KPInfo, httpc *http.Client, metrics Metrics) *Engine {
	return &Engine{
		kpID:    kpID,
		kpInfo:  info,
		httpc:   httpc,
		metrics: metrics,
		limiter: newGCRA(info.RequestQty, info.RequestDuration),
		queue:   newQueue(),
	}
}

// Start is idempotent: it creates the worker goroutine if the engine is
// currently Idle or Stopped, and does nothing otherwise.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateRunning || e.state == stateStopping {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.state = stateRunning

	go e.run(ctx)
}

// Stop cancels the worker, waits for it to exit, and delivers CancelledError
// to every request still in the queue or in flight.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != stateRunning {
		e.mu.Unlock()
		return
	}
	e.state = stateStopping
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	<-done

	e.mu.Lock()
	e.state = stateStopped
	e.mu.Unlock()
}

// Submit enqueues query and blocks until the engine produces a Message, a
// dispatch-level error, or ctx is done (reported as CancelledError). It is
// accepted only while the engine is Running.
func (e *Engine) Submit(ctx context.Context, query trapi.Query) (trapi.Message, error) {
	p := newPendingRequest(query)

	// Enqueue under mu so Stop cannot drain the queue between the state
	// check and the push.
	e.mu.Lock()
	running := e.state == stateRunning
	if running {
		e.queue.push(p)
	}
	e.mu.Unlock()
	if !running {
		return trapi.Message{}, CancelledError{KPID: e.kpID}
	}

	if e.metrics != nil {
		e.metrics.QueueDepth(e.kpID, e.queue.depth())
	}

	msg, err := p.wait(ctx)
	if err != nil && err == ctx.Err() {
		return trapi.Message{}, CancelledError{KPID: e.kpID}
	}
	return msg, err
}

// run is the worker's batch cycle, executed until ctx is cancelled.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	defer e.drainAll(CancelledError{KPID: e.kpID})

	for {
		select {
		case <-e.queue.signal:
		case <-ctx.Done():
			return
		}

		drained := e.queue.drain()
		if len(drained) == 0 {
			continue
		}

		batch, remainder := partition(drained)
		for _, p := range remainder {
			e.queue.push(p)
		}

		e.dispatch(ctx, batch)

		waited, err := e.limiter.pace(ctx)
		if e.metrics != nil {
			e.metrics.PaceWait(e.kpID, waited)
		}
		if err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// drainAll delivers err to every request still sitting in the queue when the
// worker exits.
func (e *Engine) drainAll(err error) {
	for _, p := range e.queue.drain() {
		p.deliver(result{err: err})
	}
}

// dispatch issues one upstream POST for batch, validates the response, and
// demultiplexes it (or a single shared error) to every member.
func (e *Engine) dispatch(ctx context.Context, batch []*pendingRequest) {
	if e.metrics != nil {
		e.metrics.BatchDispatched(e.kpID, len(batch))
	}

	merged := mergeBatch(batch)

	start := time.Now()
	message, err := e.call(ctx, merged)
	if e.metrics != nil {
		e.metrics.DispatchLatency(e.kpID, time.Since(start))
	}

	if err != nil {
		// A cancelled worker context always means the engine is stopping:
		// report that instead of whatever transport error the cancellation
		// produced downstream (e.g. "context canceled" surfacing as a
		// KPUnreachableError).
		if ctx.Err() != nil {
			err = CancelledError{KPID: e.kpID}
		}
		for _, p := range batch {
			p.deliver(result{err: err})
		}
		return
	}

	for _, p := range batch {
		filtered, ferr := trapi.FilterByCurieMapping(message, p.curies, e.kpID)
		if ferr != nil {
			p.deliver(result{err: ferr})
			continue
		}
		p.deliver(result{message: filtered})
	}
}

// call performs the upstream HTTP round trip and returns the validated
// message, or a typed dispatch error.
func (e *Engine) call(ctx context.Context, query trapi.Query) (trapi.Message, error) {
	body, err := sonic.Marshal(query)
	if err != nil {
		return trapi.Message{}, fmt.Errorf("marshaling merged query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.kpInfo.URL, bytes.NewReader(body))
	if err != nil {
		return trapi.Message{}, KPUnreachableError{KPID: e.kpID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpc.Do(req)
	if err != nil {
		return trapi.Message{}, KPUnreachableError{KPID: e.kpID, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return trapi.Message{}, KPUnreachableError{KPID: e.kpID, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return trapi.Message{}, KPStatusError{KPID: e.kpID, Code: resp.StatusCode, Body: respBody}
	}

	var trapiResp trapi.Response
	if err := sonic.Unmarshal(respBody, &trapiResp); err != nil {
		return trapi.Message{}, KPMalformedResponseError{KPID: e.kpID, Err: err}
	}

	message := trapiResp.Message
	if message.QueryGraph == nil {
		return trapi.Message{}, BatchingError{KPID: e.kpID, Reason: "qgraph not returned"}
	}
	if message.KnowledgeGraph == nil {
		return trapi.Message{}, BatchingError{KPID: e.kpID, Reason: "kgraph not returned"}
	}

	log.Log(ctx).Debug("dispatched batch", "kpID", e.kpID)

	return message, nil
}
