// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"strings"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// RespondFunc produces the fake model's reply for one call.
type RespondFunc func(ctx context.Context, input []*schema.Message) (*schema.Message, error)

// FakeChatModel is a scripted chat model that records its inputs.
type FakeChatModel struct {
	respond RespondFunc

	mu     sync.Mutex
	inputs [][]*schema.Message
}

func NewFakeChatModel(respond RespondFunc) *FakeChatModel {
	return &FakeChatModel{respond: respond}
}

// Reply returns a RespondFunc that always answers text with some token usage.
func Reply(text string) RespondFunc {
	return func(context.Context, []*schema.Message) (*schema.Message, error) {
		return Message(text), nil
	}
}

// Fail returns a RespondFunc that always fails with err.
func Fail(err error) RespondFunc {
	return func(context.Context, []*schema.Message) (*schema.Message, error) {
		return nil, err
	}
}

// Block returns a RespondFunc that waits for the context to end.
func Block() RespondFunc {
	return func(ctx context.Context, _ []*schema.Message) (*schema.Message, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// Message builds an assistant message carrying token usage.
func Message(text string) *schema.Message {
	msg := schema.AssistantMessage(text, nil)
	msg.ResponseMeta = &schema.ResponseMeta{
		FinishReason: "STOP",
		Usage: &schema.TokenUsage{
			PromptTokens:     100,
			CompletionTokens: 20,
			TotalTokens:      120,
		},
	}
	return msg
}

func (f *FakeChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()
	return f.respond(ctx, input)
}

func (f *FakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// Calls returns how many times the model was invoked.
func (f *FakeChatModel) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

// Inputs returns the messages of every call, oldest first.
func (f *FakeChatModel) Inputs() [][]*schema.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]*schema.Message, len(f.inputs))
	copy(out, f.inputs)
	return out
}

// Prompt joins the contents of all messages of call i.
func (f *FakeChatModel) Prompt(i int) string {
	inputs := f.Inputs()
	if i < 0 || i >= len(inputs) {
		return ""
	}
	var b strings.Builder
	for _, m := range inputs[i] {
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

var _ einomodel.BaseChatModel = (*FakeChatModel)(nil)
