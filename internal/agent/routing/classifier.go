package routing

import (
	"context"
	"strings"
	"unicode"

	"github.com/banking-router-poc/server/internal/agent/model"
)

// Classifier decides which categories a request belongs to.
type Classifier interface {
	Classify(ctx context.Context, req Request, categories []model.RoutingCategory) (model.RoutingDecision, error)
}

// ClassifierFactory builds the classifier of one router. title names the
// router in prompts.
type ClassifierFactory func(title string) Classifier

// KeywordClassifier matches exemplar topics as whole phrases. It is
// deterministic and needs no backend.
type KeywordClassifier struct {
	policy Policy
}

func NewKeywordClassifier(policy Policy) *KeywordClassifier {
	return &KeywordClassifier{policy: policy}
}

// KeywordConfidence maps a number of matched topics to a confidence.
func KeywordConfidence(hits int) float64 {
	if hits <= 0 {
		return 0
	}
	return min(0.95, 0.5+0.1*float64(hits))
}

func (k *KeywordClassifier) Classify(ctx context.Context, req Request, categories []model.RoutingCategory) (model.RoutingDecision, error) {
	if err := ctx.Err(); err != nil {
		return model.RoutingDecision{}, err
	}
	text := padded(req.Query.Text)
	var scores []model.CategoryScore
	for _, c := range categories {
		if hits := len(MatchTopics(text, c.ExemplarTopics)); hits > 0 {
			scores = append(scores, model.CategoryScore{Name: c.Name, Confidence: KeywordConfidence(hits)})
		}
	}
	return k.policy.Decide(scores, categories), nil
}

// MatchTopics returns the distinct topics found as whole phrases in text.
// text must come from padded.
func MatchTopics(text string, topics []string) []string {
	var out []string
	seen := make(map[string]bool, len(topics))
	for _, t := range topics {
		p := padded(t)
		if strings.TrimSpace(p) == "" || seen[p] {
			continue
		}
		seen[p] = true
		if strings.Contains(text, p) {
			out = append(out, t)
		}
	}
	return out
}

// normalizeText lowercases s and collapses everything that is not a letter
// or digit into single spaces.
func normalizeText(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

func padded(s string) string {
	return " " + normalizeText(s) + " "
}
