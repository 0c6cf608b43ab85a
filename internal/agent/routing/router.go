package routing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banking-router-poc/server/internal/agent/metrics"
	"github.com/banking-router-poc/server/internal/agent/model"
	errx "github.com/banking-router-poc/server/internal/core/error"
	logx "github.com/banking-router-poc/server/pkg/logger"
)

const sectionSeparator = "\n\n---\n\n"

// RouterNode classifies a request against its children's categories,
// dispatches it to the selected children and merges their answers.
type RouterNode struct {
	id           model.NodeID
	title        string
	classifier   Classifier
	children     []Child
	byID         map[model.NodeID]Child
	childTimeout time.Duration
	metrics      *metrics.Collector
}

type RouterOption func(*RouterNode)

func WithChildTimeout(d time.Duration) RouterOption {
	return func(r *RouterNode) { r.childTimeout = d }
}

func WithRouterMetrics(c *metrics.Collector) RouterOption {
	return func(r *RouterNode) { r.metrics = c }
}

func NewRouterNode(id model.NodeID, title string, classifier Classifier, children []Child, opts ...RouterOption) (*RouterNode, error) {
	if classifier == nil {
		return nil, fmt.Errorf("router %s: classifier is nil", id)
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("router %s: no children", id)
	}
	r := &RouterNode{
		id:         id,
		title:      title,
		classifier: classifier,
		children:   children,
		byID:       make(map[model.NodeID]Child, len(children)),
	}
	for _, c := range children {
		if c.Node == nil || c.Category.Name != c.Node.ID() {
			return nil, fmt.Errorf("router %s: child %q does not match its category", id, c.Category.Name)
		}
		if _, dup := r.byID[c.Category.Name]; dup {
			return nil, fmt.Errorf("router %s: duplicate child %q", id, c.Category.Name)
		}
		r.byID[c.Category.Name] = c
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *RouterNode) ID() model.NodeID { return r.id }

// Categories lists the children's categories in taxonomy order.
func (r *RouterNode) Categories() []model.RoutingCategory {
	out := make([]model.RoutingCategory, 0, len(r.children))
	for _, c := range r.children {
		out = append(out, c.Category)
	}
	return out
}

func (r *RouterNode) Handle(ctx context.Context, req Request) (model.Answer, error) {
	decision, err := r.Classify(ctx, req)
	if err != nil {
		r.metrics.RoutingDecision(r.id, "error")
		return model.Answer{}, err
	}

	if decision.Ambiguous || len(decision.Selected) == 0 {
		r.metrics.RoutingDecision(r.id, "ambiguous")
		logx.Info().Err(errx.RoutingAmbiguous(r.id)).Str("router", r.id).Str("title", r.title).Msg("asking for clarification")
		return r.clarify(), nil
	}

	outcome := "single"
	if decision.FanOut() {
		outcome = "fanout"
	}
	r.metrics.RoutingDecision(r.id, outcome)
	logx.Debug().
		Str("router", r.id).
		Strs("selected", decision.Selected).
		Float64("confidence", decision.Confidence).
		Interface("scores", decision.Scores).
		Msg("routing decision")

	return r.Merge(r.Dispatch(ctx, req, decision))
}

// Classify runs the classifier over the children's categories and drops any
// selection that is not a child.
func (r *RouterNode) Classify(ctx context.Context, req Request) (model.RoutingDecision, error) {
	decision, err := r.classifier.Classify(ctx, req, r.Categories())
	if err != nil {
		return model.RoutingDecision{}, err
	}
	decision.Selected = slices.DeleteFunc(slices.Clone(decision.Selected), func(id model.NodeID) bool {
		_, ok := r.byID[id]
		return !ok
	})
	if len(decision.Selected) == 0 {
		decision.Ambiguous = true
	}
	return decision, nil
}

// ChildResult is the outcome of dispatching to one child.
type ChildResult struct {
	Node   model.NodeID
	Title  string
	Answer model.Answer
	Err    error
}

// Dispatch forwards the request unchanged to each selected child in decision
// order. Several children run concurrently; a failure never cancels siblings.
func (r *RouterNode) Dispatch(ctx context.Context, req Request, decision model.RoutingDecision) []ChildResult {
	results := make([]ChildResult, len(decision.Selected))
	if len(decision.Selected) == 1 {
		results[0] = r.invoke(ctx, r.byID[decision.Selected[0]], req)
		return results
	}

	// goroutines never return an error, so one child's failure leaves the
	// others running
	var g errgroup.Group
	for i, id := range decision.Selected {
		child := r.byID[id]
		g.Go(func() error {
			results[i] = r.invoke(ctx, child, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *RouterNode) invoke(ctx context.Context, child Child, req Request) (res ChildResult) {
	res = ChildResult{Node: child.Category.Name, Title: child.Category.Title}
	if r.childTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.childTimeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("child %s panicked: %v", child.Category.Name, p)
		}
		if res.Err != nil {
			r.metrics.ChildFailure(r.id, res.Node, string(errx.KindOf(res.Err)))
			logx.Warn().Err(res.Err).Str("router", r.id).Str("child", res.Node).Msg("child failed")
		}
	}()

	ans, err := child.Node.Handle(ctx, req)
	if err != nil {
		if errx.KindOf(err) == errx.KindInternal && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = errx.BackendTimeout(child.Category.Name, err)
		}
		res.Err = err
		return res
	}
	res.Answer = ans
	return res
}

// Merge combines child results. A lone successful child is returned unchanged;
// otherwise every answer becomes a titled section and failures become gaps.
func (r *RouterNode) Merge(results []ChildResult) (model.Answer, error) {
	if len(results) == 1 && results[0].Err == nil {
		return results[0].Answer, nil
	}

	var ok, failed []ChildResult
	for _, res := range results {
		if res.Err != nil {
			failed = append(failed, res)
		} else {
			ok = append(ok, res)
		}
	}

	gaps := make([]model.Gap, 0, len(failed))
	for _, f := range failed {
		gaps = append(gaps, model.Gap{Node: f.Node, Title: f.Title, Reason: string(errx.KindOf(f.Err))})
	}

	if len(ok) == 0 {
		for _, f := range failed {
			if errx.KindOf(f.Err) == errx.KindBackendTimeout {
				return model.Answer{}, f.Err
			}
		}
		return model.Answer{
			Text:    unavailableText(gaps),
			Sources: []model.NodeID{r.id},
			Gaps:    gaps,
		}, nil
	}

	if len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for _, f := range failed {
			names = append(names, f.Node)
		}
		logx.Warn().Err(errx.PartialFanout(r.id, names)).Str("router", r.id).Msg("answering from the remaining children")
	}

	// only clarifications: nothing was answered, so the merge is one too
	merged := model.Answer{Clarification: true}
	texts := make([]string, 0, len(ok))
	for _, res := range ok {
		a := res.Answer
		merged.Clarification = merged.Clarification && a.Clarification
		texts = append(texts, "## "+res.Title+"\n\n"+a.Text)
		merged.Sections = append(merged.Sections, model.Section{
			Source:    res.Node,
			Title:     res.Title,
			Text:      a.Text,
			Citations: slices.Clone(a.Citations),
		})
		merged.Sources = appendUnique(merged.Sources, a.Sources...)
		merged.Citations = appendUnique(merged.Citations, a.Citations...)
		merged.Gaps = append(merged.Gaps, a.Gaps...)
		merged.Conflicts = append(merged.Conflicts, a.Conflicts...)
	}
	merged.Gaps = append(merged.Gaps, gaps...)
	merged.Text = strings.Join(texts, sectionSeparator)
	if len(gaps) > 0 {
		merged.Text += sectionSeparator + gapNote(gaps)
	}
	if merged.Citations == nil {
		merged.Citations = []string{}
	}
	return merged, nil
}

// clarify lists the router's areas instead of guessing.
func (r *RouterNode) clarify() model.Answer {
	var b strings.Builder
	b.WriteString("I'm not sure which area your question is about. I can help with:\n")
	for _, c := range r.children {
		b.WriteString("- " + c.Category.Title)
		if c.Category.Description != "" {
			b.WriteString(": " + c.Category.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("Could you tell me which of these you mean?")
	return model.Answer{
		Text:          b.String(),
		Sources:       []model.NodeID{r.id},
		Citations:     []string{},
		Clarification: true,
	}
}

func gapTitles(gaps []model.Gap) string {
	titles := make([]string, 0, len(gaps))
	for _, g := range gaps {
		titles = append(titles, g.Title)
	}
	return strings.Join(titles, ", ")
}

func gapNote(gaps []model.Gap) string {
	return "Note: information for " + gapTitles(gaps) + " could not be retrieved right now. Please try again later."
}

func unavailableText(gaps []model.Gap) string {
	return "Information is currently unavailable for: " + gapTitles(gaps) + ". Please try again later."
}

// appendUnique appends items not already present, keeping first-seen order.
func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		if !slices.Contains(dst, it) {
			dst = append(dst, it)
		}
	}
	return dst
}
