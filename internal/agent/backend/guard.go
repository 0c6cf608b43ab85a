// Package backend guards calls to the generation backend with a timeout, a
// circuit breaker and usage accounting.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sony/gobreaker"

	"github.com/banking-router-poc/server/internal/agent/metrics"
	"github.com/banking-router-poc/server/internal/agent/model"
	errx "github.com/banking-router-poc/server/internal/core/error"
	logx "github.com/banking-router-poc/server/pkg/logger"
)

// Guard wraps a chat model. Deadlines surface as BackendTimeout and an open
// circuit as BackendUnavailable; both are retryable.
type Guard struct {
	name      string
	modelName string
	inner     einomodel.BaseChatModel
	timeout   time.Duration
	pricing   model.Pricing
	cb        *gobreaker.CircuitBreaker
	metrics   *metrics.Collector
}

type GuardOption func(*Guard)

func WithMetrics(c *metrics.Collector) GuardOption {
	return func(g *Guard) { g.metrics = c }
}

// NewGuard wraps inner. name labels logs and metrics (classifier, responder,
// memory); modelName selects the pricing entry.
func NewGuard(name, modelName string, inner einomodel.BaseChatModel, cfg model.BackendConfig, opts ...GuardOption) *Guard {
	g := &Guard{
		name:      name,
		modelName: modelName,
		inner:     inner,
		timeout:   cfg.GenerationTimeout,
		pricing:   model.ResolvePricing(modelName),
	}
	for _, opt := range opts {
		opt(g)
	}

	minRequests := cfg.BreakerMinRequests
	if minRequests == 0 {
		minRequests = 5
	}
	ratio := cfg.BreakerFailureRatio
	if ratio <= 0 {
		ratio = 0.6
	}

	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logx.Warn().Str("backend", name).Str("from", from.String()).Str("to", to.String()).Msg("generation circuit breaker state changed")
		},
		// a caller that went away says nothing about backend health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return g
}

func (g *Guard) Name() string { return g.name }

func (g *Guard) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := g.cb.Execute(func() (any, error) {
		return g.inner.Generate(ctx, input, opts...)
	})
	took := time.Since(start)
	if err != nil {
		err = g.classify(ctx, err)
		g.metrics.ObserveGeneration(g.name, string(errx.KindOf(err)), took, 0)
		logx.Error().Err(err).Str("backend", g.name).Str("model", g.modelName).Dur("took", took).Msg("generation failed")
		return nil, err
	}

	msg, _ := out.(*schema.Message)
	if msg == nil {
		err := fmt.Errorf("%s returned no message", g.name)
		g.metrics.ObserveGeneration(g.name, string(errx.KindInternal), took, 0)
		return nil, err
	}
	g.logUsage(msg, took)
	return msg, nil
}

// Stream is guarded by the breaker only; the caller's context bounds the read.
func (g *Guard) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	out, err := g.cb.Execute(func() (any, error) {
		return g.inner.Stream(ctx, input, opts...)
	})
	if err != nil {
		return nil, g.classify(ctx, err)
	}
	return out.(*schema.StreamReader[*schema.Message]), nil
}

func (g *Guard) classify(ctx context.Context, err error) error {
	op := g.name + " generation"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return errx.BackendUnavailable(op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errx.BackendTimeout(op, err)
	}
	var appErr *errx.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (g *Guard) logUsage(msg *schema.Message, took time.Duration) {
	var usage *schema.TokenUsage
	if msg.ResponseMeta != nil {
		usage = msg.ResponseMeta.Usage
	}
	_, _, total := model.ComputeCost(usage, g.pricing)
	g.metrics.ObserveGeneration(g.name, "ok", took, total)

	ev := logx.Debug().Str("backend", g.name).Str("model", g.modelName).Dur("took", took)
	if usage != nil {
		ev = ev.Int("prompt_tokens", usage.PromptTokens).
			Int("completion_tokens", usage.CompletionTokens).
			Float64("cost_usd", total)
	}
	ev.Msg("generation completed")
}

var _ einomodel.BaseChatModel = (*Guard)(nil)
