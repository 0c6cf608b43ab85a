package conversations

import (
	"strings"

	"github.com/banking-router-poc/server/internal/agent/model"
)

// ContextBuilder renders session history and memory into prompt text.
type ContextBuilder struct {
	maxTurns  int
	maxMemory int
}

func NewContextBuilder(config model.ConversationConfig) *ContextBuilder {
	return &ContextBuilder{
		// one exchange is a user turn plus an agent turn
		maxTurns:  config.HistoryTurns * 2,
		maxMemory: config.MemorySnapshotSize,
	}
}

// History renders the most recent turns, oldest first, or "" when there are none.
func (cb *ContextBuilder) History(turns []model.Turn) string {
	recent := trimTail(turns, cb.maxTurns)
	if len(recent) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("<conversation_context>\n")
	for _, t := range recent {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		switch t.Role {
		case model.RoleUser:
			b.WriteString("UserMessage(" + t.Text + ")\n")
		case model.RoleAgent:
			b.WriteString("AssistantMessage(" + t.Text + ")\n")
		}
	}
	b.WriteString("</conversation_context>")
	return b.String()
}

// Memory renders the most recent facts as a bullet list, or "" when there are none.
func (cb *ContextBuilder) Memory(records []model.MemoryRecord) string {
	recent := trimTail(records, cb.maxMemory)
	var b strings.Builder
	for _, r := range recent {
		if r.FactText == "" {
			continue
		}
		b.WriteString("- " + r.FactText + "\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Facts returns the texts of records, for prompts that list what is already known.
func Facts(records []model.MemoryRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.FactText)
	}
	return out
}

// trimTail returns a copy of the last max items. max <= 0 keeps everything.
func trimTail[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		result := make([]T, len(items))
		copy(result, items)
		return result
	}
	source := items[len(items)-max:]
	result := make([]T, len(source))
	copy(result, source)
	return result
}
