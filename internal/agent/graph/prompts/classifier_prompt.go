package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/banking-router-poc/server/internal/agent/graph/parsers"
	"github.com/banking-router-poc/server/internal/agent/model"
)

//go:embed template/classifier_prompt.txt
var classifierSystemPrompt string

type categoryView struct {
	Name        string
	Title       string
	Description string
	Topics      string
}

// ClassifierInput is what the routing prompt needs besides the taxonomy.
type ClassifierInput struct {
	RouterTitle string
	Query       string
	History     string
	Memory      string
}

// RenderClassifier renders the routing prompt via the Eino prompt component so
// prompt callbacks fire.
func RenderClassifier(ctx context.Context, in ClassifierInput, categories []model.RoutingCategory) ([]*schema.Message, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("classifier prompt: no categories")
	}
	views := make([]categoryView, 0, len(categories))
	for _, c := range categories {
		views = append(views, categoryView{
			Name:        c.Name,
			Title:       c.Title,
			Description: c.Description,
			Topics:      strings.Join(c.ExemplarTopics, ", "),
		})
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(classifierSystemPrompt),
		schema.UserMessage(userTemplate),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"RouterTitle": in.RouterTitle,
		"Categories":  views,
		"TD":          parsers.TupleDelimiter,
		"RD":          parsers.RecordDelimiter,
		"CD":          parsers.CompletionDelimiter,
		"History":     in.History,
		"Memory":      in.Memory,
		"Query":       in.Query,
	})
	if err != nil {
		return nil, fmt.Errorf("classifier prompt render: %w", err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("classifier prompt render: empty result")
	}
	return msgs, nil
}
