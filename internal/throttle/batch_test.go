package throttle

import (
	"testing"

	"github.com/ranking-agent/trapi-throttle/internal/trapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQuery(curie string) trapi.Query {
	return trapi.Query{
		Message: trapi.Message{
			QueryGraph: &trapi.QueryGraph{
				Nodes: map[string]map[string]any{
					"n0": {"ids": []any{curie}},
					"n1": {},
				},
				Edges: map[string]map[string]any{
					"e0": {"predicates": []any{"biolink:treats"}},
				},
			},
		},
	}
}

func TestPartitionAlwaysIncludesLeader(t *testing.T) {
	t.Parallel()

	p1 := newPendingRequest(newTestQuery("CHEBI:1"))
	p2 := newPendingRequest(newTestQuery("CHEBI:2"))

	batch, remainder := partition([]*pendingRequest{p1, p2})
	require.Len(t, batch, 2)
	assert.Empty(t, remainder)
	assert.Same(t, p1, batch[0])
}

func TestPartitionSeparatesNonMatchingRequests(t *testing.T) {
	t.Parallel()

	matching := newTestQuery("CHEBI:1")
	leader := newPendingRequest(matching)

	other := newTestQuery("CHEBI:2")
	other.Message.QueryGraph.Edges["e0"]["predicates"] = []any{"biolink:affects"}
	mismatched := newPendingRequest(other)

	batch, remainder := partition([]*pendingRequest{leader, mismatched})
	require.Len(t, batch, 1)
	require.Len(t, remainder, 1)
	assert.Same(t, leader, batch[0])
	assert.Same(t, mismatched, remainder[0])
}

func TestMergeBatchDedupesRepeatedCuries(t *testing.T) {
	t.Parallel()

	p1 := newPendingRequest(newTestQuery("CHEBI:1"))
	p2 := newPendingRequest(newTestQuery("CHEBI:1")) // same CURIE, independent submitter
	p3 := newPendingRequest(newTestQuery("CHEBI:2"))

	merged := mergeBatch([]*pendingRequest{p1, p2, p3})

	ids := merged.Message.QueryGraph.Nodes["n0"]["ids"].([]any)
	assert.ElementsMatch(t, []any{"CHEBI:1", "CHEBI:2"}, ids)
}

func TestMergeBatchStripsIdsFromLeaderBeforeReapplying(t *testing.T) {
	t.Parallel()

	p1 := newPendingRequest(newTestQuery("CHEBI:1"))
	merged := mergeBatch([]*pendingRequest{p1})

	assert.Equal(t, []any{"CHEBI:1"}, merged.Message.QueryGraph.Nodes["n0"]["ids"])
	_, hasIDs := merged.Message.QueryGraph.Nodes["n1"]["ids"]
	assert.False(t, hasIDs)
}
