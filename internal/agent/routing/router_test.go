package routing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banking-router-poc/server/internal/agent/model"
	errx "github.com/banking-router-poc/server/internal/core/error"
)

type stubNode struct {
	id     model.NodeID
	handle func(ctx context.Context, req Request) (model.Answer, error)
	calls  atomic.Int32
}

func (s *stubNode) ID() model.NodeID { return s.id }

func (s *stubNode) Handle(ctx context.Context, req Request) (model.Answer, error) {
	s.calls.Add(1)
	return s.handle(ctx, req)
}

func answering(id, text string, citations ...string) *stubNode {
	return &stubNode{id: id, handle: func(context.Context, Request) (model.Answer, error) {
		return model.Answer{Text: text, Sources: []model.NodeID{id}, Citations: citations}, nil
	}}
}

func failing(id string, err error) *stubNode {
	return &stubNode{id: id, handle: func(context.Context, Request) (model.Answer, error) {
		return model.Answer{}, err
	}}
}

// fixedClassifier always returns the same decision.
type fixedClassifier struct {
	decision model.RoutingDecision
	err      error
}

func (f fixedClassifier) Classify(context.Context, Request, []model.RoutingCategory) (model.RoutingDecision, error) {
	return f.decision, f.err
}

func selecting(ids ...model.NodeID) fixedClassifier {
	return fixedClassifier{decision: model.RoutingDecision{Selected: ids, Confidence: 0.8}}
}

func newRouter(t *testing.T, c Classifier, nodes ...*stubNode) *RouterNode {
	t.Helper()
	children := make([]Child, 0, len(nodes))
	for _, n := range nodes {
		children = append(children, Child{
			Category: model.RoutingCategory{Name: n.id, Title: titleOf(n.id), Description: n.id + " questions"},
			Node:     n,
		})
	}
	r, err := NewRouterNode("main", "Banking Assistant", c, children, WithChildTimeout(200*time.Millisecond))
	require.NoError(t, err)
	return r
}

func titleOf(id string) string {
	switch id {
	case "cards":
		return "Cards"
	case "loans":
		return "Loans"
	}
	return "Accounts"
}

func TestRouterNode_SingleChildIsUnchanged(t *testing.T) {
	accounts, cards := answering("accounts", "Balance is 100.", "accounts/ACC1001"), answering("cards", "unused")
	r := newRouter(t, selecting("accounts"), accounts, cards)

	ans, err := r.Handle(context.Background(), request("balance"))
	require.NoError(t, err)
	assert.Equal(t, model.Answer{Text: "Balance is 100.", Sources: []model.NodeID{"accounts"}, Citations: []string{"accounts/ACC1001"}}, ans)
	assert.Equal(t, int32(1), accounts.calls.Load())
	assert.Zero(t, cards.calls.Load())
}

func TestRouterNode_FanOutMergesSections(t *testing.T) {
	cards := answering("cards", "Statement due 20 May.", "card_statements/ST-4411-2505", "cards/CC-4411")
	loans := answering("loans", "EMI due 5 June.", "loans/LN-9001", "cards/CC-4411")
	r := newRouter(t, selecting("loans", "cards"), cards, loans)

	ans, err := r.Handle(context.Background(), request("statement and emi"))
	require.NoError(t, err)

	assert.Equal(t, "## Loans\n\nEMI due 5 June.\n\n---\n\n## Cards\n\nStatement due 20 May.", ans.Text)
	require.Len(t, ans.Sections, 2)
	assert.Equal(t, "loans", ans.Sections[0].Source)
	assert.Equal(t, "cards", ans.Sections[1].Source)
	assert.Equal(t, []model.NodeID{"loans", "cards"}, ans.Sources)
	assert.Equal(t, []string{"loans/LN-9001", "cards/CC-4411", "card_statements/ST-4411-2505"}, ans.Citations)
	assert.Empty(t, ans.Gaps)
}

func clarifying(id string) *stubNode {
	return &stubNode{id: id, handle: func(context.Context, Request) (model.Answer, error) {
		return model.Answer{Text: "Which " + id + " do you mean?", Sources: []model.NodeID{id}, Citations: []string{}, Clarification: true}, nil
	}}
}

func TestRouterNode_FanOutOfClarificationsIsClarification(t *testing.T) {
	r := newRouter(t, selecting("loans", "cards"), clarifying("cards"), clarifying("loans"))

	ans, err := r.Handle(context.Background(), request("that one"))
	require.NoError(t, err)
	require.Len(t, ans.Sections, 2)
	assert.True(t, ans.Clarification)
	assert.Contains(t, ans.Text, "Which loans do you mean?")
}

func TestRouterNode_FanOutWithAnAnswerIsNotClarification(t *testing.T) {
	r := newRouter(t, selecting("loans", "cards"), clarifying("cards"), answering("loans", "EMI due 5 June.", "loans/LN-9001"))

	ans, err := r.Handle(context.Background(), request("statement and emi"))
	require.NoError(t, err)
	assert.False(t, ans.Clarification)
	assert.Equal(t, []string{"loans/LN-9001"}, ans.Citations)
}

func TestRouterNode_PartialFailureKeepsOthers(t *testing.T) {
	cards := failing("cards", errx.RetrievalUnavailable("cards", errors.New("down")))
	loans := answering("loans", "EMI due 5 June.", "loans/LN-9001")
	r := newRouter(t, selecting("loans", "cards"), cards, loans)

	ans, err := r.Handle(context.Background(), request("statement and emi"))
	require.NoError(t, err)
	assert.Contains(t, ans.Text, "## Loans\n\nEMI due 5 June.")
	assert.Contains(t, ans.Text, "Note: information for Cards could not be retrieved")
	assert.Equal(t, []model.Gap{{Node: "cards", Title: "Cards", Reason: string(errx.KindRetrievalUnavailable)}}, ans.Gaps)
	assert.Equal(t, []string{"loans/LN-9001"}, ans.Citations)
}

func TestRouterNode_SlowSiblingIsNotCancelledByFailure(t *testing.T) {
	cards := failing("cards", errors.New("boom"))
	loans := &stubNode{id: "loans", handle: func(ctx context.Context, _ Request) (model.Answer, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return model.Answer{Text: "EMI due.", Sources: []model.NodeID{"loans"}}, nil
		case <-ctx.Done():
			return model.Answer{}, ctx.Err()
		}
	}}
	r := newRouter(t, selecting("cards", "loans"), cards, loans)

	ans, err := r.Handle(context.Background(), request("x"))
	require.NoError(t, err)
	require.Len(t, ans.Sections, 1)
	assert.Equal(t, "loans", ans.Sections[0].Source)
}

func TestRouterNode_AllFailWithTimeoutIsRetryable(t *testing.T) {
	cards := failing("cards", errx.BackendTimeout("cards generation", context.DeadlineExceeded))
	loans := failing("loans", errors.New("boom"))
	r := newRouter(t, selecting("cards", "loans"), cards, loans)

	_, err := r.Handle(context.Background(), request("x"))
	require.Error(t, err)
	assert.True(t, errx.IsRetryable(err))
	assert.Equal(t, errx.KindBackendTimeout, errx.KindOf(err))
}

func TestRouterNode_AllFailWithoutTimeoutIsUnavailable(t *testing.T) {
	cards := failing("cards", errx.RetrievalUnavailable("cards", nil))
	r := newRouter(t, selecting("cards"), cards, answering("loans", "unused"))

	ans, err := r.Handle(context.Background(), request("x"))
	require.NoError(t, err)
	assert.Equal(t, "Information is currently unavailable for: Cards. Please try again later.", ans.Text)
	assert.Equal(t, []model.NodeID{"main"}, ans.Sources)
	assert.Len(t, ans.Gaps, 1)
}

func TestRouterNode_ChildTimeout(t *testing.T) {
	slow := &stubNode{id: "cards", handle: func(ctx context.Context, _ Request) (model.Answer, error) {
		<-ctx.Done()
		return model.Answer{}, ctx.Err()
	}}
	r := newRouter(t, selecting("cards"), slow, answering("loans", "unused"))

	_, err := r.Handle(context.Background(), request("x"))
	require.Error(t, err)
	assert.Equal(t, errx.KindBackendTimeout, errx.KindOf(err))
}

func TestRouterNode_PanicIsRecovered(t *testing.T) {
	boom := &stubNode{id: "cards", handle: func(context.Context, Request) (model.Answer, error) {
		panic("nil map")
	}}
	r := newRouter(t, selecting("cards", "loans"), boom, answering("loans", "EMI due."))

	ans, err := r.Handle(context.Background(), request("x"))
	require.NoError(t, err)
	require.Len(t, ans.Gaps, 1)
	assert.Equal(t, "cards", ans.Gaps[0].Node)
	assert.Equal(t, string(errx.KindInternal), ans.Gaps[0].Reason)
}

func TestRouterNode_AmbiguousAsksForClarification(t *testing.T) {
	cards, loans := answering("cards", "unused"), answering("loans", "unused")
	r := newRouter(t, fixedClassifier{decision: model.AmbiguousDecision(nil)}, cards, loans)

	ans, err := r.Handle(context.Background(), request("hmm"))
	require.NoError(t, err)
	assert.True(t, ans.Clarification)
	assert.Contains(t, ans.Text, "- Cards: cards questions")
	assert.Contains(t, ans.Text, "- Loans: loans questions")
	assert.Equal(t, []model.NodeID{"main"}, ans.Sources)
	assert.Zero(t, cards.calls.Load()+loans.calls.Load())
}

func TestRouterNode_UnknownSelectionIsAmbiguous(t *testing.T) {
	r := newRouter(t, selecting("mortgages"), answering("cards", "unused"))
	ans, err := r.Handle(context.Background(), request("x"))
	require.NoError(t, err)
	assert.True(t, ans.Clarification)
}

func TestRouterNode_ClassifierError(t *testing.T) {
	want := errx.BackendUnavailable("classifier generation", nil)
	r := newRouter(t, fixedClassifier{err: want}, answering("cards", "unused"))
	_, err := r.Handle(context.Background(), request("x"))
	assert.ErrorIs(t, err, want)
}

func TestNewRouterNode_Validates(t *testing.T) {
	_, err := NewRouterNode("main", "Main", nil, nil)
	assert.Error(t, err)

	_, err = NewRouterNode("main", "Main", selecting("a"), []Child{{Category: model.RoutingCategory{Name: "a"}, Node: answering("b", "")}})
	assert.Error(t, err)
}
