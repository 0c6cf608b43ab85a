package graph

import (
	"context"
	"errors"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	"github.com/banking-router-poc/server/internal/agent/graph/conversations"
	"github.com/banking-router-poc/server/internal/agent/graph/nodes"
	"github.com/banking-router-poc/server/internal/agent/graph/observers"
	"github.com/banking-router-poc/server/internal/agent/model"
	errx "github.com/banking-router-poc/server/internal/core/error"
	logx "github.com/banking-router-poc/server/pkg/logger"
)

const maxRunSteps = 10

// Runner executes the compiled responder graph for one piece of evidence.
type Runner interface {
	Invoke(ctx context.Context, ev model.Evidence) (model.Answer, error)
}

// GraphConfig holds all configuration needed to build the responder graph.
type GraphConfig struct {
	ChatModel    einomodel.BaseChatModel
	ModelName    string
	Conversation model.ConversationConfig
}

// GraphBuilder handles the construction of the responder graph
type GraphBuilder struct {
	config  *GraphConfig
	context *conversations.ContextBuilder
	graph   *compose.Graph[model.Evidence, model.Answer]
}

type graphRunner struct {
	runnable compose.Runnable[model.Evidence, model.Answer]
}

func (r *graphRunner) Invoke(ctx context.Context, ev model.Evidence) (model.Answer, error) {
	out, err := r.runnable.Invoke(ctx, ev, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		if errx.KindOf(err) == errx.KindInternal && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return model.Answer{}, errx.BackendTimeout(ev.Node+" generation", err)
		}
		return model.Answer{}, err
	}
	return out, nil
}

// BuildResponderGraph compiles the responder graph once; every responder
// shares it since title, instructions and documents travel in the evidence.
func BuildResponderGraph(ctx context.Context, cfg GraphConfig) (Runner, error) {
	runnable, err := BuildGraph(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	logx.Debug().Msg("Responder graph built successfully")
	return &graphRunner{runnable: runnable}, nil
}

// BuildGraph constructs and returns the compiled responder graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.Evidence, model.Answer], error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.ChatModel == nil {
		return nil, fmt.Errorf("chat model is not initialized")
	}

	builder := &GraphBuilder{
		config:  config,
		context: conversations.NewContextBuilder(config.Conversation),
		graph: compose.NewGraph[model.Evidence, model.Answer](
			compose.WithGenLocalState(func(ctx context.Context) *model.ResponderState {
				return &model.ResponderState{}
			}),
		),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}
	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	steps := []error{
		b.graph.AddLambdaNode(nodes.NodeEvidence,
			nodes.NewEvidenceNode(),
			compose.WithStatePreHandler(nodes.NewEvidencePreHandler()),
		),
		b.graph.AddLambdaNode(nodes.NodeMissingInfo, nodes.NewMissingInfoNode()),
		b.graph.AddLambdaNode(nodes.NodePromptAssembler, nodes.NewPromptAssemblerNode(b.context)),
		b.graph.AddChatModelNode(nodes.NodeGeneration,
			b.config.ChatModel,
			compose.WithStatePostHandler(nodes.NewGenerationPostHandler(b.config.ModelName)),
		),
		b.graph.AddLambdaNode(nodes.NodeAnswer, nodes.NewAnswerNode()),
	}
	if err := errors.Join(steps...); err != nil {
		logx.Error().Err(err).Msg("Error adding responder nodes")
		return fmt.Errorf("error adding responder nodes: %w", err)
	}
	return nil
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeEvidence},
		{nodes.NodePromptAssembler, nodes.NodeGeneration},
		{nodes.NodeGeneration, nodes.NodeAnswer},
		{nodes.NodeMissingInfo, nodes.NodeAnswer},
		{nodes.NodeAnswer, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			logx.Error().Err(err).Str("from", edge[0]).Str("to", edge[1]).Msg("Error adding edge")
			return fmt.Errorf("error adding edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	evidenceBranch := compose.NewGraphBranch(
		nodes.NewEvidenceCondition(),
		map[string]bool{
			nodes.NodeMissingInfo:     true,
			nodes.NodePromptAssembler: true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeEvidence, evidenceBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding evidence branch")
		return fmt.Errorf("error adding evidence branch: %w", err)
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.Evidence, model.Answer], error) {
	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(maxRunSteps))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
