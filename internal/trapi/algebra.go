package trapi

import (
	"reflect"

	"github.com/ohler55/ojg/oj"
)

// ExtractCuries pulls the curies pinned on each node of qg and returns them
// as a node-id -> curie-list mapping. Nodes without `ids` (absent or null)
// are omitted. qg is not modified.
func ExtractCuries(qg QueryGraph) CurieMapping {
	out := CurieMapping{}
	for nodeID, node := range qg.Nodes {
		ids, ok := nodeCuries(node)
		if !ok {
			continue
		}
		out[nodeID] = append([]string(nil), ids...)
	}
	return out
}

// RemoveCuries returns a deep copy of qg with `ids` removed from every node.
// This is the canonical form used for batching's structural-equivalence
// test (see Equal).
func RemoveCuries(qg QueryGraph) QueryGraph {
	cp := deepCopyQG(qg)
	for _, node := range cp.Nodes {
		delete(node, "ids")
	}
	return cp
}

// Equal reports whether two query graphs are deep-equal. Callers that want
// the batching equivalence relation (equal modulo pinned `ids`) should pass
// the result of RemoveCuries for both sides.
func Equal(a, b QueryGraph) bool {
	return reflect.DeepEqual(a, b)
}

// nodeCuries returns the `ids` pinned on a node, treating both an absent key
// and an explicit null the same: "not pinned".
func nodeCuries(node map[string]any) ([]string, bool) {
	raw, present := node["ids"]
	if !present || raw == nil {
		return nil, false
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	ids := make([]string, 0, len(list))
	for _, v := range list {
		s, _ := v.(string)
		ids = append(ids, s)
	}
	return ids, true
}

// deepCopyQG clones a query graph via a marshal/parse round trip through
// ojg, mirroring the Python original's use of copy.deepcopy on plain dicts:
// nodes and edges here are untyped JSON, not fixed Go structs, so a
// reflection-based copier would have to special-case every provider field we
// don't otherwise care about.
func deepCopyQG(qg QueryGraph) QueryGraph {
	return QueryGraph{
		Nodes: deepCopyAttrs(qg.Nodes),
		Edges: deepCopyAttrs(qg.Edges),
	}
}

func deepCopyAttrs(m map[string]map[string]any) map[string]map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]map[string]any, len(m))
	for id, attrs := range m {
		out[id] = deepCopyMap(attrs)
	}
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	b, err := oj.Marshal(m)
	if err != nil {
		// m is always derived from a prior JSON decode, so it's always
		// marshalable; this would indicate a bug, not bad input.
		panic(err)
	}
	parsed, err := oj.Parse(b)
	if err != nil {
		panic(err)
	}
	cp, _ := parsed.(map[string]any)
	if cp == nil {
		cp = map[string]any{}
	}
	return cp
}

// FilterByCurieMapping returns a new Message containing only the results (and
// the knowledge-graph nodes/edges they reference) belonging to a single
// client's curie mapping. message is not modified.
func FilterByCurieMapping(message Message, mapping CurieMapping, kpLabel string) (Message, error) {
	if message.QueryGraph == nil {
		return Message{}, MissingQGraphError{KP: kpLabel}
	}
	if message.KnowledgeGraph == nil {
		return Message{}, MissingKGraphError{KP: kpLabel}
	}

	out := Message{
		QueryGraph: &QueryGraph{
			Nodes: deepCopyAttrs(message.QueryGraph.Nodes),
			Edges: deepCopyAttrs(message.QueryGraph.Edges),
		},
		KnowledgeGraph: &KnowledgeGraph{
			Nodes: deepCopyAttrs(message.KnowledgeGraph.Nodes),
			Edges: deepCopyAttrs(message.KnowledgeGraph.Edges),
		},
		Results: append([]Result{}, message.Results...),
	}

	for qgID, curies := range mapping {
		node, ok := out.QueryGraph.Nodes[qgID]
		if !ok {
			return Message{}, MalformedQGraphError{KP: kpLabel, NodeID: qgID}
		}
		ids := make([]any, len(curies))
		for i, c := range curies {
			ids[i] = c
		}
		node["ids"] = ids
	}

	kept := make([]Result, 0, len(out.Results))
	for _, result := range out.Results {
		if resultMatchesMapping(result, mapping) {
			kept = append(kept, result)
		}
	}
	out.Results = kept

	RemoveUnboundFromKG(&out)

	return out, nil
}

// resultMatchesMapping reports whether, for every (qg_id, curies) pair in
// mapping, at least one of result's node_bindings[qg_id] has its id in
// curies.
func resultMatchesMapping(result Result, mapping CurieMapping) bool {
	for qgID, curies := range mapping {
		bindings := result.NodeBindings[qgID]
		if !anyBindingIn(bindings, curies) {
			return false
		}
	}
	return true
}

func anyBindingIn(bindings []Binding, curies []string) bool {
	for _, b := range bindings {
		for _, c := range curies {
			if b.ID() == c {
				return true
			}
		}
	}
	return false
}

// RemoveUnboundFromKG drops every knowledge-graph node and edge that isn't
// referenced by message.Results' bindings. It mutates message in place; it's
// meant to be called on a message that's already been deep-copied (e.g. by
// FilterByCurieMapping).
func RemoveUnboundFromKG(message *Message) {
	if message.KnowledgeGraph == nil {
		return
	}

	boundNodes := map[string]struct{}{}
	boundEdges := map[string]struct{}{}
	for _, result := range message.Results {
		for _, bindings := range result.NodeBindings {
			for _, b := range bindings {
				boundNodes[b.ID()] = struct{}{}
			}
		}
		for _, bindings := range result.EdgeBindings {
			for _, b := range bindings {
				boundEdges[b.ID()] = struct{}{}
			}
		}
	}

	for id := range message.KnowledgeGraph.Nodes {
		if _, ok := boundNodes[id]; !ok {
			delete(message.KnowledgeGraph.Nodes, id)
		}
	}
	for id := range message.KnowledgeGraph.Edges {
		if _, ok := boundEdges[id]; !ok {
			delete(message.KnowledgeGraph.Edges, id)
		}
	}
}
