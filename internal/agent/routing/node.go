// Package routing classifies queries and dispatches them through the
// three-level tree of routers and responders.
package routing

import (
	"context"

	"github.com/banking-router-poc/server/internal/agent/model"
)

// Request is what every node receives: the query plus the session context
// loaded for it. Nodes never modify it.
type Request struct {
	Query   model.Query
	History []model.Turn
	Memory  []model.MemoryRecord
}

// Node is a router or a responder.
type Node interface {
	ID() model.NodeID
	Handle(ctx context.Context, req Request) (model.Answer, error)
}

// Child pairs a node with the category its parent classifies against.
type Child struct {
	Category model.RoutingCategory
	Node     Node
}
