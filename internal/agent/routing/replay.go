package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/banking-router-poc/server/internal/agent/model"
)

// DecisionLog holds routing decisions keyed by category set and normalised query.
type DecisionLog struct {
	mu        sync.RWMutex
	decisions map[string]model.RoutingDecision
}

func NewDecisionLog() *DecisionLog {
	return &DecisionLog{decisions: make(map[string]model.RoutingDecision)}
}

// decisionKey identifies a classification independently of router instance.
func decisionKey(query string, categories []model.RoutingCategory) string {
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, c.Name)
	}
	return strings.Join(names, ",") + "|" + normalizeText(query)
}

func (l *DecisionLog) put(key string, d model.RoutingDecision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decisions[key] = d
}

func (l *DecisionLog) get(key string) (model.RoutingDecision, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.decisions[key]
	return d, ok
}

func (l *DecisionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.decisions)
}

// Save writes the log as JSON.
func (l *DecisionLog) Save(w io.Writer) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(l.decisions); err != nil {
		return fmt.Errorf("encode decision log: %w", err)
	}
	return nil
}

// LoadDecisionLog reads a log written by Save.
func LoadDecisionLog(r io.Reader) (*DecisionLog, error) {
	l := NewDecisionLog()
	if err := json.NewDecoder(r).Decode(&l.decisions); err != nil {
		return nil, fmt.Errorf("decode decision log: %w", err)
	}
	if l.decisions == nil {
		l.decisions = make(map[string]model.RoutingDecision)
	}
	return l, nil
}

// Recorder passes classifications through to inner and records each decision.
type Recorder struct {
	inner Classifier
	log   *DecisionLog
}

func NewRecorder(inner Classifier, log *DecisionLog) *Recorder {
	return &Recorder{inner: inner, log: log}
}

func (r *Recorder) Classify(ctx context.Context, req Request, categories []model.RoutingCategory) (model.RoutingDecision, error) {
	d, err := r.inner.Classify(ctx, req, categories)
	if err != nil {
		return d, err
	}
	r.log.put(decisionKey(req.Query.Text, categories), d)
	return d, nil
}

// ReplayClassifier answers from a recorded log. Unknown queries go to the
// fallback, or are ambiguous without one.
type ReplayClassifier struct {
	log      *DecisionLog
	fallback Classifier
}

func NewReplayClassifier(log *DecisionLog, fallback Classifier) *ReplayClassifier {
	return &ReplayClassifier{log: log, fallback: fallback}
}

func (r *ReplayClassifier) Classify(ctx context.Context, req Request, categories []model.RoutingCategory) (model.RoutingDecision, error) {
	if d, ok := r.log.get(decisionKey(req.Query.Text, categories)); ok {
		return d, nil
	}
	if r.fallback != nil {
		return r.fallback.Classify(ctx, req, categories)
	}
	return model.AmbiguousDecision(nil), nil
}
