package throttle

import (
	"context"

	"github.com/google/uuid"
	"github.com/ranking-agent/trapi-throttle/internal/trapi"
)

// result is what the worker hands back to a waiting caller: either a message
// or a typed error, never both.
type result struct {
	message trapi.Message
	err     error
}

// pendingRequest is the in-memory record of an accepted but not-yet-answered
// client query. Its response slot is a capacity-one channel: the worker
// writes to it exactly once, and the caller that created it is the only
// reader, so no broadcast or condition variable is needed.
type pendingRequest struct {
	id    string
	query trapi.Query

	// canonical is the query graph with `ids` stripped, precomputed once so
	// the worker's batch partitioning step doesn't need to re-copy and
	// re-strip on every comparison.
	canonical trapi.QueryGraph
	curies    trapi.CurieMapping

	respC chan result
}

// newPendingRequest wraps a client query for submission to an engine.
func newPendingRequest(query trapi.Query) *pendingRequest {
	qg := trapi.QueryGraph{}
	if query.Message.QueryGraph != nil {
		qg = *query.Message.QueryGraph
	}

	return &pendingRequest{
		id:        uuid.NewString(),
		query:     query,
		canonical: trapi.RemoveCuries(qg),
		curies:    trapi.ExtractCuries(qg),
		respC:     make(chan result, 1),
	}
}

// deliver writes a single result to the pending request's response slot. It
// must be called at most once per pendingRequest.
func (p *pendingRequest) deliver(r result) {
	p.respC <- r
}

// wait blocks until the worker delivers a result or ctx is done, whichever
// happens first. A caller timeout only abandons the wait; it does not cancel
// the batch this request may already be part of.
func (p *pendingRequest) wait(ctx context.Context) (trapi.Message, error) {
	select {
	case r := <-p.respC:
		return r.message, r.err
	case <-ctx.Done():
		return trapi.Message{}, ctx.Err()
	}
}
