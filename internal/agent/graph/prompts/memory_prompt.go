package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/banking-router-poc/server/internal/agent/graph/parsers"
)

//go:embed template/memory_prompt.txt
var memorySystemPrompt string

const exchangeTemplate = `UserMessage({{.UserText}})
AssistantMessage({{.AgentText}})`

// RenderMemory renders the fact extraction prompt for one completed exchange.
func RenderMemory(ctx context.Context, known []string, userText, agentText string) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(memorySystemPrompt),
		schema.UserMessage(exchangeTemplate),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"Known":     known,
		"TD":        parsers.TupleDelimiter,
		"RD":        parsers.RecordDelimiter,
		"CD":        parsers.CompletionDelimiter,
		"UserText":  userText,
		"AgentText": agentText,
	})
	if err != nil {
		return nil, fmt.Errorf("memory prompt render: %w", err)
	}
	return msgs, nil
}
