package model

import "time"

// Document is one corpus record held by a knowledge partition.
type Document struct {
	ID         string            `json:"id"`
	Partition  string            `json:"partition"`
	Collection string            `json:"collection"`
	EntityKey  string            `json:"entity_key"`
	Owner      string            `json:"owner,omitempty"`
	Content    string            `json:"content"`
	Fields     map[string]string `json:"fields,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
}

// RetrievedDocument is a ranked search hit. It lives for one request only.
type RetrievedDocument struct {
	ID         string            `json:"id"`
	Score      float64           `json:"score"`
	Content    string            `json:"content"`
	Collection string            `json:"collection"`
	EntityKey  string            `json:"entity_key"`
	Fields     map[string]string `json:"fields,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
}

// Section is the attributable output of one source inside a merged Answer.
type Section struct {
	Source    NodeID   `json:"source"`
	Title     string   `json:"title"`
	Text      string   `json:"text"`
	Citations []string `json:"citations,omitempty"`
}

// Gap names an area a router could not serve.
type Gap struct {
	Node   NodeID `json:"node"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// Conflict records several records describing the same entity with differing values.
type Conflict struct {
	EntityKey string   `json:"entity_key"`
	Kept      string   `json:"kept"`
	Dropped   []string `json:"dropped"`
	Fields    []string `json:"fields"`
}

// Answer is produced by a responder and owned by the caller that requested it.
// Merged answers copy child data; children are never mutated.
type Answer struct {
	Text          string     `json:"text"`
	Sources       []NodeID   `json:"sources"`
	Citations     []string   `json:"citations"`
	Sections      []Section  `json:"sections,omitempty"`
	Gaps          []Gap      `json:"gaps,omitempty"`
	Conflicts     []Conflict `json:"conflicts,omitempty"`
	Clarification bool       `json:"clarification,omitempty"`
}

// Reply is what the tree hands back to the transport layer.
type Reply struct {
	Answer    Answer `json:"answer"`
	AgentName string `json:"agent_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}
