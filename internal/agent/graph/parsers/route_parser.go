package parsers

import (
	"fmt"
	"strings"

	"github.com/banking-router-poc/server/internal/agent/model"
	logx "github.com/banking-router-poc/server/pkg/logger"
)

// ParseRoutes reads "(route<||>name<||>confidence)" tuples. Unknown names are
// dropped; a name listed twice keeps its highest confidence. Output order
// follows the known slice.
func ParseRoutes(content string, known []string) ([]model.CategoryScore, error) {
	res, err := ParseTuples(content)
	if err != nil {
		return nil, err
	}

	best := make(map[string]float64, len(known))
	lookup := make(map[string]string, len(known))
	for _, k := range known {
		lookup[strings.ToLower(k)] = k
	}

	for _, t := range res.OfType("route") {
		name, ok := lookup[strings.ToLower(t.Field(0))]
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("route: unknown category %q", safeSnippet(t.Field(0))))
			continue
		}
		conf, err := parseFloatInRange(t.Field(1), "route.confidence", 0, 1)
		if err != nil {
			res.Errors = append(res.Errors, "route: invalid confidence")
			continue
		}
		if prev, seen := best[name]; !seen || conf > prev {
			best[name] = conf
		}
	}

	if len(res.Errors) > 0 {
		logx.Debug().Strs("parsing_errors", res.Errors).Msg("route parser skipped records")
	}

	scores := make([]model.CategoryScore, 0, len(best))
	for _, k := range known {
		if conf, ok := best[k]; ok {
			scores = append(scores, model.CategoryScore{Name: k, Confidence: conf})
		}
	}
	return scores, nil
}
