package model

// Evidence is everything a responder hands to its generation graph: the query,
// the reconciled documents, what could not be found, and the session context.
type Evidence struct {
	Node         NodeID
	Title        string
	Instructions []string

	Query     Query
	Documents []RetrievedDocument
	Conflicts []Conflict
	Missing   []string // requested information with no matching documents

	History []Turn
	Memory  []MemoryRecord
}

// HasDocuments reports whether generation has anything to ground on.
func (e Evidence) HasDocuments() bool {
	return len(e.Documents) > 0
}

// ResponderState stores per-invocation state for the responder graph.
// Concurrency model:
//   - Registered as Graph Local State via compose.WithGenLocalState.
//   - Read and written only inside Eino state handlers or compose.ProcessState,
//     which serialize access; no extra locking is needed.
type ResponderState struct {
	Node     NodeID
	Evidence Evidence // set by the evidence pre-handler, read by the answer builder

	// Accumulated total LLM cost (USD) across model invocations for this answer
	TotalCostUSD float64
}
