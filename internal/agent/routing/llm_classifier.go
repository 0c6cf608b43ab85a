package routing

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"

	"github.com/banking-router-poc/server/internal/agent/graph/conversations"
	"github.com/banking-router-poc/server/internal/agent/graph/parsers"
	"github.com/banking-router-poc/server/internal/agent/graph/prompts"
	"github.com/banking-router-poc/server/internal/agent/model"
	logx "github.com/banking-router-poc/server/pkg/logger"
)

// LLMClassifier asks the generation backend to score each category.
type LLMClassifier struct {
	model   einomodel.BaseChatModel
	title   string
	policy  Policy
	context *conversations.ContextBuilder
}

func NewLLMClassifier(m einomodel.BaseChatModel, title string, policy Policy, conv model.ConversationConfig) *LLMClassifier {
	return &LLMClassifier{
		model:   m,
		title:   title,
		policy:  policy,
		context: conversations.NewContextBuilder(conv),
	}
}

// LLMClassifierFactory returns one LLMClassifier per router sharing the same model.
func LLMClassifierFactory(m einomodel.BaseChatModel, policy Policy, conv model.ConversationConfig) ClassifierFactory {
	return func(title string) Classifier {
		return NewLLMClassifier(m, title, policy, conv)
	}
}

func (c *LLMClassifier) Classify(ctx context.Context, req Request, categories []model.RoutingCategory) (model.RoutingDecision, error) {
	msgs, err := prompts.RenderClassifier(ctx, prompts.ClassifierInput{
		RouterTitle: c.title,
		Query:       req.Query.Text,
		History:     c.context.History(req.History),
		Memory:      c.context.Memory(req.Memory),
	}, categories)
	if err != nil {
		return model.RoutingDecision{}, err
	}

	out, err := c.model.Generate(ctx, msgs)
	if err != nil {
		return model.RoutingDecision{}, err
	}
	if out == nil {
		return model.RoutingDecision{}, fmt.Errorf("%s classifier returned no message", c.title)
	}

	names := make([]string, 0, len(categories))
	for _, cat := range categories {
		names = append(names, cat.Name)
	}
	scores, err := parsers.ParseRoutes(out.Content, names)
	if err != nil {
		return model.RoutingDecision{}, fmt.Errorf("parse routes: %w", err)
	}

	decision := c.policy.Decide(scores, categories)
	logx.Debug().
		Str("router", c.title).
		Int("scores", len(scores)).
		Strs("selected", decision.Selected).
		Bool("ambiguous", decision.Ambiguous).
		Msg("llm classification")
	return decision, nil
}
