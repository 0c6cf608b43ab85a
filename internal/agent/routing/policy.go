package routing

import (
	"slices"

	"github.com/banking-router-poc/server/internal/agent/model"
)

// scoreEpsilon absorbs float error when comparing confidences against the margin.
const scoreEpsilon = 1e-9

// Policy turns raw category scores into a routing decision.
type Policy struct {
	MinConfidence    float64
	ComparableMargin float64
	MaxFanout        int
}

func PolicyFrom(cfg model.RoutingConfig) Policy {
	return Policy{
		MinConfidence:    cfg.MinConfidence,
		ComparableMargin: cfg.ComparableMargin,
		MaxFanout:        cfg.MaxFanout,
	}
}

// Decide keeps the top candidate at or above MinConfidence plus every other
// candidate within ComparableMargin of it, up to MaxFanout. Selected children
// are ordered by descending confidence, ties in taxonomy order. Scores for
// unknown categories are ignored.
func (p Policy) Decide(scores []model.CategoryScore, categories []model.RoutingCategory) model.RoutingDecision {
	order := make(map[model.NodeID]int, len(categories))
	for i, c := range categories {
		order[c.Name] = i
	}

	best := make(map[model.NodeID]float64, len(scores))
	for _, s := range scores {
		if _, known := order[s.Name]; !known {
			continue
		}
		conf := min(max(s.Confidence, 0), 1)
		if prev, seen := best[s.Name]; !seen || conf > prev {
			best[s.Name] = conf
		}
	}

	candidates := make([]model.CategoryScore, 0, len(best))
	for name, conf := range best {
		if conf+scoreEpsilon < p.MinConfidence {
			continue
		}
		candidates = append(candidates, model.CategoryScore{Name: name, Confidence: conf})
	}
	if len(candidates) == 0 {
		return model.AmbiguousDecision(scores)
	}
	slices.SortFunc(candidates, func(a, b model.CategoryScore) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return order[a.Name] - order[b.Name]
	})

	limit := p.MaxFanout
	if limit < 1 {
		limit = 1
	}
	top := candidates[0].Confidence
	selected := []model.NodeID{candidates[0].Name}
	for _, c := range candidates[1:] {
		if len(selected) >= limit {
			break
		}
		if top-c.Confidence <= p.ComparableMargin+scoreEpsilon {
			selected = append(selected, c.Name)
		}
	}

	return model.RoutingDecision{
		Selected:   selected,
		Confidence: top,
		Scores:     scores,
	}
}
