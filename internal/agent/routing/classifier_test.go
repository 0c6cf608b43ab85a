package routing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banking-router-poc/server/internal/agent/model"
	"github.com/banking-router-poc/server/internal/agent/taxonomy"
	"github.com/banking-router-poc/server/internal/testutil"
)

func request(text string) Request {
	return Request{Query: model.Query{Text: text, UserID: "u1", SessionID: "s1"}}
}

func loadTaxonomy(t *testing.T) *taxonomy.Taxonomy {
	t.Helper()
	tax, err := taxonomy.Load("")
	require.NoError(t, err)
	return tax
}

func TestKeywordConfidence(t *testing.T) {
	assert.Zero(t, KeywordConfidence(0))
	assert.InDelta(t, 0.6, KeywordConfidence(1), 1e-9)
	assert.InDelta(t, 0.8, KeywordConfidence(3), 1e-9)
	assert.InDelta(t, 0.95, KeywordConfidence(9), 1e-9)
}

func TestMatchTopics_WholePhrases(t *testing.T) {
	text := padded("Is my card's PIN set? What about the EMI?")
	assert.Equal(t, []string{"emi"}, MatchTopics(text, []string{"emi", "pin code", "car", "emi"}))
	assert.Empty(t, MatchTopics(padded("my cards"), []string{"card"}))
}

func TestKeywordClassifier_Scenarios(t *testing.T) {
	tax := loadTaxonomy(t)
	kc := NewKeywordClassifier(testPolicy())
	ctx := context.Background()

	d, err := kc.Classify(ctx, request("What is my current account balance?"), tax.Categories())
	require.NoError(t, err)
	assert.Equal(t, []model.NodeID{"accounts"}, d.Selected)

	accounts, _ := tax.Domain("accounts")
	d, err = kc.Classify(ctx, request("What is my current account balance?"), accounts.Categories())
	require.NoError(t, err)
	assert.Equal(t, []model.NodeID{"balance_overdraft"}, d.Selected)

	d, err = kc.Classify(ctx, request("Show me my credit card statement and when is my next EMI due?"), tax.Categories())
	require.NoError(t, err)
	assert.Equal(t, []model.NodeID{"loans", "cards"}, d.Selected)

	d, err = kc.Classify(ctx, request("Tell me a joke"), tax.Categories())
	require.NoError(t, err)
	assert.True(t, d.Ambiguous)
}

func TestLLMClassifier(t *testing.T) {
	fake := testutil.NewFakeChatModel(testutil.Reply("(route<||>loans<||>0.8)##(route<||>cards<||>0.75)##(route<||>accounts<||>0.3)<|COMPLETE|>"))
	c := NewLLMClassifier(fake, "Banking Assistant", testPolicy(), model.ConversationConfig{HistoryTurns: 5, MemorySnapshotSize: 3})

	req := request("credit card statement and EMI")
	req.History = []model.Turn{{Role: model.RoleUser, Text: "hi"}, {Role: model.RoleAgent, Text: "hello"}}
	d, err := c.Classify(context.Background(), req, testCategories)
	require.NoError(t, err)
	assert.Equal(t, []model.NodeID{"loans", "cards"}, d.Selected)
	assert.Contains(t, fake.Prompt(0), "UserMessage(hi)")
	assert.Contains(t, fake.Prompt(0), "name: transactions")
}

func TestLLMClassifier_BackendError(t *testing.T) {
	fake := testutil.NewFakeChatModel(testutil.Fail(errors.New("unavailable")))
	c := NewLLMClassifier(fake, "Banking Assistant", testPolicy(), model.ConversationConfig{})
	_, err := c.Classify(context.Background(), request("balance"), testCategories)
	assert.Error(t, err)
}

func TestRecorderAndReplay(t *testing.T) {
	fake := testutil.NewFakeChatModel(testutil.Reply("(route<||>cards<||>0.9)<|COMPLETE|>"))
	live := NewLLMClassifier(fake, "Banking Assistant", testPolicy(), model.ConversationConfig{})

	log := NewDecisionLog()
	rec := NewRecorder(live, log)
	want, err := rec.Classify(context.Background(), request("What is my card limit?"), testCategories)
	require.NoError(t, err)
	require.Equal(t, 1, log.Len())

	var buf bytes.Buffer
	require.NoError(t, log.Save(&buf))
	loaded, err := LoadDecisionLog(&buf)
	require.NoError(t, err)

	replay := NewReplayClassifier(loaded, nil)
	got, err := replay.Classify(context.Background(), request("  what is my CARD limit "), testCategories)
	require.NoError(t, err)
	assert.Equal(t, want.Selected, got.Selected)
	assert.Equal(t, 1, fake.Calls(), "replay must not reach the backend")

	got, err = replay.Classify(context.Background(), request("something new"), testCategories)
	require.NoError(t, err)
	assert.True(t, got.Ambiguous)

	withFallback := NewReplayClassifier(loaded, NewKeywordClassifier(testPolicy()))
	got, err = withFallback.Classify(context.Background(), request("credit card"), []model.RoutingCategory{
		{Name: "cards", ExemplarTopics: []string{"credit card"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.NodeID{"cards"}, got.Selected)
}
