package trapi

import "fmt"

// MissingQGraphError is returned when a message's query_graph is null where
// one is required.
type MissingQGraphError struct {
	KP string
}

func (e MissingQGraphError) Error() string {
	return fmt.Sprintf("%s: message is missing a query_graph", e.KP)
}

// MissingKGraphError is returned when a message's knowledge_graph is null
// where one is required.
type MissingKGraphError struct {
	KP string
}

func (e MissingKGraphError) Error() string {
	return fmt.Sprintf("%s: message is missing a knowledge_graph", e.KP)
}

// MalformedQGraphError is returned when a query graph is missing a node that
// a curie mapping expected to pin. This happens when an upstream response's
// query_graph has had its node IDs renamed -- there is no recovery from this,
// by design.
type MalformedQGraphError struct {
	KP     string
	NodeID string
}

func (e MalformedQGraphError) Error() string {
	return fmt.Sprintf("%s: query_graph is missing expected node %q", e.KP, e.NodeID)
}
