package routing

import (
	"fmt"
	"time"

	"github.com/banking-router-poc/server/internal/agent/graph"
	"github.com/banking-router-poc/server/internal/agent/metrics"
	"github.com/banking-router-poc/server/internal/agent/model"
	"github.com/banking-router-poc/server/internal/agent/taxonomy"
)

// Deps are the collaborators the tree is assembled from.
type Deps struct {
	Knowledge   model.KnowledgeStore
	Runner      graph.Runner
	Classifiers ClassifierFactory
	Sessions    func(partition string) model.SessionStore
	Memories    func(partition string) model.MemoryStore
	Queue       MemoryQueue
	Metrics     *metrics.Collector

	Routing           model.RoutingConfig
	KnowledgeConfig   model.KnowledgeConfig
	Conversation      model.ConversationConfig
	GenerationTimeout time.Duration
}

func (d Deps) validate() error {
	switch {
	case d.Knowledge == nil:
		return fmt.Errorf("build tree: knowledge store is nil")
	case d.Runner == nil:
		return fmt.Errorf("build tree: responder runner is nil")
	case d.Classifiers == nil:
		return fmt.Errorf("build tree: classifier factory is nil")
	case d.Sessions == nil || d.Memories == nil:
		return fmt.Errorf("build tree: session and memory stores are required")
	}
	return nil
}

// Build assembles the three-level tree described by the taxonomy. Domain
// routers are shared by the root and their own entry points.
func Build(tax *taxonomy.Taxonomy, deps Deps) (*Tree, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	opts := []RouterOption{
		WithChildTimeout(deps.Routing.ChildTimeout),
		WithRouterMetrics(deps.Metrics),
	}

	var (
		rootChildren []Child
		domains      []*Entry
	)
	for _, d := range tax.Domains {
		children := make([]Child, 0, len(d.Responders))
		for _, r := range d.Responders {
			leaf := NewResponderNode(ResponderSpec{
				Category:     r.Category(),
				Partition:    d.Partition,
				Instructions: r.Instructions,
				Collections:  r.Collections,
			}, deps.Knowledge, deps.Runner, deps.KnowledgeConfig, deps.GenerationTimeout)
			children = append(children, Child{Category: r.Category(), Node: leaf})
		}

		router, err := NewRouterNode(d.Name, d.Title, deps.Classifiers(d.Title), children, opts...)
		if err != nil {
			return nil, err
		}
		rootChildren = append(rootChildren, Child{Category: d.Category(), Node: router})
		domains = append(domains, &Entry{
			Name:      d.Name,
			AgentName: d.AgentName,
			Partition: d.Partition,
			Router:    router,
			Sessions:  deps.Sessions(d.Partition),
			Memory:    deps.Memories(d.Partition),
		})
	}

	rootRouter, err := NewRouterNode(tax.Root.Name, tax.Root.Title, deps.Classifiers(tax.Root.Title), rootChildren, opts...)
	if err != nil {
		return nil, err
	}
	root := &Entry{
		Name:      tax.Root.Name,
		AgentName: tax.Root.AgentName,
		Partition: tax.Root.Partition,
		Router:    rootRouter,
		Sessions:  deps.Sessions(tax.Root.Partition),
		Memory:    deps.Memories(tax.Root.Partition),
	}
	return NewTree(root, domains, deps.Conversation, deps.Queue), nil
}
