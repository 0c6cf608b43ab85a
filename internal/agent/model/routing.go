package model

import "time"

// NodeID identifies a node of the routing tree. For children of a router it is
// also the name of the matching RoutingCategory.
type NodeID = string

// Query is one user utterance. It is never modified after it is issued.
type Query struct {
	Text      string    `json:"text"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
}

// RoutingCategory is the static taxonomy entry describing one child of a router.
type RoutingCategory struct {
	Name           NodeID   `json:"name" yaml:"name"`
	Title          string   `json:"title" yaml:"title"`
	Description    string   `json:"description" yaml:"description"`
	ExemplarTopics []string `json:"exemplar_topics" yaml:"topics"`
}

// CategoryScore is a classifier's confidence that the query belongs to a category.
type CategoryScore struct {
	Name       NodeID  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// RoutingDecision is produced for every dispatch and is never persisted.
// Selected is ordered by descending confidence.
type RoutingDecision struct {
	Selected   []NodeID        `json:"selected"`
	Confidence float64         `json:"confidence"`
	Ambiguous  bool            `json:"ambiguous"`
	Scores     []CategoryScore `json:"scores,omitempty"`
}

// FanOut reports whether the decision dispatches to more than one child.
func (d RoutingDecision) FanOut() bool {
	return len(d.Selected) > 1
}

// AmbiguousDecision builds the terminal "no applicable child" decision.
func AmbiguousDecision(scores []CategoryScore) RoutingDecision {
	return RoutingDecision{Ambiguous: true, Scores: scores}
}
