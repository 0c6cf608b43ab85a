package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/banking-router-poc/server/internal/agent/model"
)

//go:embed template/responder_prompt.txt
var responderSystemPrompt string

// ResponderInput is the rendered form of a responder's evidence.
type ResponderInput struct {
	Title        string
	Instructions []string
	Documents    []model.RetrievedDocument
	Conflicts    []string
	History      string
	Memory       string
	Query        string
}

// RenderResponder renders the grounded answer prompt. History and memory go
// into the system message; the user message is the query alone.
func RenderResponder(ctx context.Context, in ResponderInput) ([]*schema.Message, error) {
	if len(in.Documents) == 0 {
		return nil, fmt.Errorf("responder prompt: no documents")
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(responderSystemPrompt),
		schema.UserMessage("{{.Query}}"),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"Title":           in.Title,
		"Instructions":    in.Instructions,
		"Documents":       in.Documents,
		"Conflicts":       in.Conflicts,
		"ExampleCitation": in.Documents[0].ID,
		"History":         in.History,
		"Memory":          in.Memory,
		"Query":           in.Query,
	})
	if err != nil {
		return nil, fmt.Errorf("responder prompt render: %w", err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("responder prompt render: empty result")
	}
	return msgs, nil
}
