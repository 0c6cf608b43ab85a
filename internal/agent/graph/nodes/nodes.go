package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/banking-router-poc/server/internal/agent/graph/conversations"
	"github.com/banking-router-poc/server/internal/agent/graph/prompts"
	"github.com/banking-router-poc/server/internal/agent/model"
	logx "github.com/banking-router-poc/server/pkg/logger"
)

// Node names of the responder graph.
const (
	NodeEvidence        = "Evidence"
	NodeMissingInfo     = "MissingInfo"
	NodePromptAssembler = "PromptAssembler"
	NodeGeneration      = "Generation"
	NodeAnswer          = "Answer"
)

// NewEvidencePreHandler stores the evidence in graph state so the answer
// builder can read it after generation.
func NewEvidencePreHandler() func(context.Context, model.Evidence, *model.ResponderState) (model.Evidence, error) {
	return func(ctx context.Context, in model.Evidence, s *model.ResponderState) (model.Evidence, error) {
		s.Node = in.Node
		s.Evidence = in
		s.TotalCostUSD = 0
		return in, nil
	}
}

func NewEvidenceNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.Evidence) (model.Evidence, error) {
		logx.Debug().
			Str("node", in.Node).
			Int("documents", len(in.Documents)).
			Int("conflicts", len(in.Conflicts)).
			Int("history_turns", len(in.History)).
			Msg("evidence collected")
		return in, nil
	})
}

// NewEvidenceCondition skips generation when there is nothing to ground on.
func NewEvidenceCondition() func(context.Context, model.Evidence) (string, error) {
	return func(ctx context.Context, in model.Evidence) (string, error) {
		if !in.HasDocuments() {
			logx.Debug().Str("node", in.Node).Strs("missing", in.Missing).Msg("no documents - answering with missing information")
			return NodeMissingInfo, nil
		}
		return NodePromptAssembler, nil
	}
}

// NewMissingInfoNode answers without calling the backend. The text names what
// was asked for and never carries field values.
func NewMissingInfoNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.Evidence) (*schema.Message, error) {
		return schema.AssistantMessage(MissingInfoText(in.Title, in.Missing), nil), nil
	})
}

// NewPromptAssemblerNode renders the grounded prompt with history and memory.
func NewPromptAssemblerNode(cb *conversations.ContextBuilder) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.Evidence) ([]*schema.Message, error) {
		conflicts := make([]string, 0, len(in.Conflicts))
		for _, c := range in.Conflicts {
			conflicts = append(conflicts, DescribeConflict(c))
		}
		msgs, err := prompts.RenderResponder(ctx, prompts.ResponderInput{
			Title:        in.Title,
			Instructions: in.Instructions,
			Documents:    in.Documents,
			Conflicts:    conflicts,
			History:      cb.History(in.History),
			Memory:       cb.Memory(in.Memory),
			Query:        in.Query.Text,
		})
		if err != nil {
			return nil, fmt.Errorf("assemble responder prompt: %w", err)
		}
		return msgs, nil
	})
}

// NewGenerationPostHandler accumulates the cost of the call into state.
func NewGenerationPostHandler(modelName string) func(context.Context, *schema.Message, *model.ResponderState) (*schema.Message, error) {
	pricing := model.ResolvePricing(modelName)
	return func(ctx context.Context, out *schema.Message, state *model.ResponderState) (*schema.Message, error) {
		if out != nil && out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
			_, _, total := model.ComputeCost(out.ResponseMeta.Usage, pricing)
			state.TotalCostUSD += total
			if out.Extra == nil {
				out.Extra = map[string]any{}
			}
			out.Extra["usage_cost_total_usd"] = state.TotalCostUSD
		}
		return out, nil
	}
}

// NewAnswerNode turns the model reply into an Answer citing the documents it used.
func NewAnswerNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, msg *schema.Message) (model.Answer, error) {
		var (
			ev   model.Evidence
			cost float64
		)
		if err := compose.ProcessState(ctx, func(_ context.Context, state *model.ResponderState) error {
			ev = state.Evidence
			cost = state.TotalCostUSD
			return nil
		}); err != nil {
			return model.Answer{}, fmt.Errorf("failed to access state: %w", err)
		}

		text := ""
		if msg != nil {
			text = strings.TrimSpace(msg.Content)
		}
		if text == "" {
			return model.Answer{}, fmt.Errorf("%s: empty generation", ev.Node)
		}

		// cite from the model's own text; the notes name kept ids
		citations := Citations(text, ev.Documents)
		var notes []string
		for _, c := range ev.Conflicts {
			notes = append(notes, ConflictNote(c))
		}
		if len(notes) > 0 {
			text += "\n\n" + strings.Join(notes, "\n")
		}

		answer := model.Answer{
			Text:      text,
			Sources:   []model.NodeID{ev.Node},
			Citations: citations,
			Conflicts: ev.Conflicts,
		}
		logx.Debug().
			Str("node", ev.Node).
			Int("citations", len(answer.Citations)).
			Float64("total_cost_usd", cost).
			Msg("answer ready")
		return answer, nil
	})
}
