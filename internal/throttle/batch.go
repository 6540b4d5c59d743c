package throttle

import "github.com/ranking-agent/trapi-throttle/internal/trapi"

// partition splits a drained set of pendingRequests into the batch that can
// be merged with the leader (drained[0]) and the remainder, which must be
// re-enqueued at the back of the queue in the same relative order they
// arrived in.
//
// The leader is always selected, guaranteeing progress regardless of how
// many distinct equivalence classes are waiting.
func partition(drained []*pendingRequest) (batch, remainder []*pendingRequest) {
	if len(drained) == 0 {
		return nil, nil
	}

	leader := drained[0]
	batch = append(batch, leader)

	for _, p := range drained[1:] {
		if trapi.Equal(leader.canonical, p.canonical) {
			batch = append(batch, p)
		} else {
			remainder = append(remainder, p)
		}
	}

	return batch, remainder
}

// mergeBatch builds the single upstream query for a batch: the leader's
// query with `ids` stripped from every node, then the union of every batch
// member's pinned curies re-applied per node.
func mergeBatch(batch []*pendingRequest) trapi.Query {
	leader := batch[0]

	merged := trapi.Query{
		Message: trapi.Message{
			QueryGraph: &trapi.QueryGraph{
				Nodes: map[string]map[string]any{},
				Edges: map[string]map[string]any{},
			},
		},
	}
	for nodeID, node := range leader.canonical.Nodes {
		merged.Message.QueryGraph.Nodes[nodeID] = cloneAttrs(node)
	}
	for edgeID, edge := range leader.canonical.Edges {
		merged.Message.QueryGraph.Edges[edgeID] = cloneAttrs(edge)
	}

	seen := map[string]set[string]{}
	for _, member := range batch {
		for nodeID, curies := range member.curies {
			node, ok := merged.Message.QueryGraph.Nodes[nodeID]
			if !ok {
				continue
			}
			if seen[nodeID] == nil {
				seen[nodeID] = newSet[string]()
			}

			existing, _ := node["ids"].([]any)
			for _, c := range curies {
				// Two batch members may independently pin the same CURIE on
				// the same node; the merged query only needs it once.
				if seen[nodeID].has(c) {
					continue
				}
				seen[nodeID].add(c)
				existing = append(existing, c)
			}
			node["ids"] = existing
		}
	}

	return merged
}

func cloneAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
