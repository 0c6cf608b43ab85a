// Package memory extracts durable customer facts from completed exchanges and
// writes them to the memory store in the background.
package memory

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"

	"github.com/banking-router-poc/server/internal/agent/graph/parsers"
	"github.com/banking-router-poc/server/internal/agent/graph/prompts"
)

// Extractor turns one exchange into new facts. known lists facts already stored.
type Extractor interface {
	Extract(ctx context.Context, known []string, userText, agentText string) ([]string, error)
}

// LLMExtractor asks the generation backend for facts in tuple format.
type LLMExtractor struct {
	model einomodel.BaseChatModel
}

func NewLLMExtractor(m einomodel.BaseChatModel) *LLMExtractor {
	return &LLMExtractor{model: m}
}

func (e *LLMExtractor) Extract(ctx context.Context, known []string, userText, agentText string) ([]string, error) {
	msgs, err := prompts.RenderMemory(ctx, known, userText, agentText)
	if err != nil {
		return nil, err
	}
	out, err := e.model.Generate(ctx, msgs)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("memory extraction returned no message")
	}
	facts, err := parsers.ParseFacts(out.Content)
	if err != nil {
		return nil, fmt.Errorf("parse facts: %w", err)
	}
	return newFacts(known, facts), nil
}

// newFacts drops facts that are already known, ignoring case and spacing.
func newFacts(known, facts []string) []string {
	seen := make(map[string]bool, len(known)+len(facts))
	for _, k := range known {
		seen[normalize(k)] = true
	}
	var out []string
	for _, f := range facts {
		n := normalize(f)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, f)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
