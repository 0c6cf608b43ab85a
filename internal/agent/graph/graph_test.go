package graph

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banking-router-poc/server/internal/agent/model"
	errx "github.com/banking-router-poc/server/internal/core/error"
	"github.com/banking-router-poc/server/internal/testutil"
)

func newRunner(t *testing.T, fake *testutil.FakeChatModel) Runner {
	t.Helper()
	r, err := BuildResponderGraph(context.Background(), GraphConfig{
		ChatModel:    fake,
		ModelName:    "gemini-2.5-flash",
		Conversation: model.ConversationConfig{HistoryTurns: 5, MemorySnapshotSize: 3},
	})
	require.NoError(t, err)
	return r
}

func balanceEvidence() model.Evidence {
	return model.Evidence{
		Node:         "balance_overdraft",
		Title:        "Balance & Overdraft",
		Instructions: []string{"Quote balances with currency."},
		Query:        model.Query{Text: "What is my current account balance?", UserID: "u1", SessionID: "s1"},
		Documents: []model.RetrievedDocument{
			{ID: "accounts/ACC1001", Score: 0.8, Content: `{"account_id":"ACC1001","current_balance":245830.55}`, Collection: "accounts", EntityKey: "ACC1001"},
			{ID: "accounts/ACC1002", Score: 0.7, Content: `{"account_id":"ACC1002","current_balance":81250}`, Collection: "accounts", EntityKey: "ACC1002"},
		},
		History: []model.Turn{
			{Role: model.RoleUser, Text: "hello"},
			{Role: model.RoleAgent, Text: "Hi, how can I help?"},
		},
		Memory: []model.MemoryRecord{{FactText: "Holds a savings account"}},
	}
}

func TestResponderGraph_GroundedAnswer(t *testing.T) {
	fake := testutil.NewFakeChatModel(testutil.Reply("Your savings balance is INR 245,830.55."))
	r := newRunner(t, fake)

	ans, err := r.Invoke(context.Background(), balanceEvidence())
	require.NoError(t, err)

	assert.Equal(t, "Your savings balance is INR 245,830.55.", ans.Text)
	assert.Equal(t, []model.NodeID{"balance_overdraft"}, ans.Sources)
	assert.Equal(t, []string{"accounts/ACC1001", "accounts/ACC1002"}, ans.Citations)

	require.Equal(t, 1, fake.Calls())
	prompt := fake.Prompt(0)
	assert.Contains(t, prompt, "[accounts/ACC1001]")
	assert.Contains(t, prompt, "UserMessage(hello)")
	assert.Contains(t, prompt, "- Holds a savings account")
	assert.Contains(t, prompt, "Quote balances with currency.")
}

func TestResponderGraph_CitesReferencedDocuments(t *testing.T) {
	fake := testutil.NewFakeChatModel(testutil.Reply("Current account [accounts/ACC1002] holds INR 81,250."))
	r := newRunner(t, fake)

	ans, err := r.Invoke(context.Background(), balanceEvidence())
	require.NoError(t, err)
	assert.Equal(t, []string{"accounts/ACC1002"}, ans.Citations)
}

func TestResponderGraph_NoDocumentsSkipsGeneration(t *testing.T) {
	fake := testutil.NewFakeChatModel(testutil.Reply("should not be used"))
	r := newRunner(t, fake)

	ev := balanceEvidence()
	ev.Documents = nil
	ev.Missing = []string{"balance", "ACC9999"}

	ans, err := r.Invoke(context.Background(), ev)
	require.NoError(t, err)
	assert.Zero(t, fake.Calls())
	assert.Contains(t, ans.Text, "balance, ACC9999")
	assert.Contains(t, ans.Text, "No matching Balance & Overdraft records")
	assert.Empty(t, ans.Citations)
	assert.Equal(t, []model.NodeID{"balance_overdraft"}, ans.Sources)
}

func TestResponderGraph_ConflictNote(t *testing.T) {
	fake := testutil.NewFakeChatModel(testutil.Reply("Your current account holds INR 81,250."))
	r := newRunner(t, fake)

	ev := balanceEvidence()
	ev.Conflicts = []model.Conflict{{
		EntityKey: "ACC1002",
		Kept:      "accounts/ACC1002",
		Dropped:   []string{"accounts/ACC1002#1"},
		Fields:    []string{"as_of", "current_balance"},
	}}

	ans, err := r.Invoke(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ans.Text, "Your current account holds INR 81,250."))
	assert.Contains(t, ans.Text, "Note: 2 records for ACC1002 disagree on as_of, current_balance")
	assert.Equal(t, ev.Conflicts, ans.Conflicts)
	assert.Contains(t, fake.Prompt(0), "# Conflicting records")
	assert.Equal(t, []string{"accounts/ACC1001", "accounts/ACC1002"}, ans.Citations,
		"the appended note does not count as a reference")
}

func TestResponderGraph_ConflictNoteKeepsExplicitCitations(t *testing.T) {
	fake := testutil.NewFakeChatModel(testutil.Reply("Savings [accounts/ACC1001] holds INR 245,830.55."))
	r := newRunner(t, fake)

	ev := balanceEvidence()
	ev.Conflicts = []model.Conflict{{
		EntityKey: "ACC1002",
		Kept:      "accounts/ACC1002",
		Dropped:   []string{"accounts/ACC1002#1"},
		Fields:    []string{"current_balance"},
	}}

	ans, err := r.Invoke(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, []string{"accounts/ACC1001"}, ans.Citations)
}

func TestResponderGraph_BackendErrorKeepsKind(t *testing.T) {
	fake := testutil.NewFakeChatModel(testutil.Fail(errx.BackendUnavailable("responder generation", nil)))
	r := newRunner(t, fake)

	_, err := r.Invoke(context.Background(), balanceEvidence())
	require.Error(t, err)
	assert.Equal(t, errx.KindBackendUnavailable, errx.KindOf(err))
}

func TestResponderGraph_DeadlineIsTimeout(t *testing.T) {
	fake := testutil.NewFakeChatModel(testutil.Block())
	r := newRunner(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.Invoke(ctx, balanceEvidence())
	require.Error(t, err)
	assert.True(t, errx.IsRetryable(err))
}

func TestResponderGraph_EmptyGenerationFails(t *testing.T) {
	fake := testutil.NewFakeChatModel(testutil.Reply("   "))
	r := newRunner(t, fake)

	_, err := r.Invoke(context.Background(), balanceEvidence())
	assert.Error(t, err)
}
