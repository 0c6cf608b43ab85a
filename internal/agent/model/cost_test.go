package model

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
)

func TestResolvePricing(t *testing.T) {
	tests := []struct {
		model string
		want  Pricing
	}{
		{"gemini-2.5-flash", Pricing{InputPerM: 0.30, OutputPerM: 2.50}},
		{"models/Gemini-2.5-Flash-Lite", Pricing{InputPerM: 0.10, OutputPerM: 0.40}},
		{"gemini-2.5-flash-001", Pricing{InputPerM: 0.30, OutputPerM: 2.50}},
		{"gemini-2.5-flash-lite-preview", Pricing{InputPerM: 0.10, OutputPerM: 0.40}},
		{"unknown-model", Pricing{}},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolvePricing(tt.model))
		})
	}
}

func TestComputeCost(t *testing.T) {
	in, out, total := ComputeCost(&schema.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 500_000}, Pricing{InputPerM: 0.30, OutputPerM: 2.50})
	assert.InDelta(t, 0.30, in, 1e-9)
	assert.InDelta(t, 1.25, out, 1e-9)
	assert.InDelta(t, 1.55, total, 1e-9)

	in, out, total = ComputeCost(nil, Pricing{InputPerM: 1})
	assert.Zero(t, in+out+total)
}
