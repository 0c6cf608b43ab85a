package routing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banking-router-poc/server/internal/agent/memory"
	"github.com/banking-router-poc/server/internal/agent/model"
	errx "github.com/banking-router-poc/server/internal/core/error"
	logx "github.com/banking-router-poc/server/pkg/logger"
)

// DefaultUserID is used when a request names no user.
const DefaultUserID = "api_user"

// MemoryQueue accepts best-effort memory jobs without blocking.
type MemoryQueue interface {
	Enqueue(job memory.Job) bool
}

// Entry is one entry point of the tree: the root or a domain router, with the
// session and memory partition it serves.
type Entry struct {
	Name      string
	AgentName string
	Partition string
	Router    *RouterNode
	Sessions  model.SessionStore
	Memory    model.MemoryStore
}

// Tree owns the router hierarchy and threads session state through each request.
type Tree struct {
	root    *Entry
	domains map[string]*Entry
	conv    model.ConversationConfig
	queue   MemoryQueue
	now     func() time.Time
}

func NewTree(root *Entry, domains []*Entry, conv model.ConversationConfig, queue MemoryQueue) *Tree {
	t := &Tree{
		root:    root,
		domains: make(map[string]*Entry, len(domains)),
		conv:    conv,
		queue:   queue,
		now:     time.Now,
	}
	for _, d := range domains {
		t.domains[d.Name] = d
	}
	return t
}

// Handle answers a query through the root router.
func (t *Tree) Handle(ctx context.Context, q model.Query) (model.Reply, error) {
	return t.serve(ctx, t.root, q)
}

// HandleDomain answers a query through one domain router and its partition.
func (t *Tree) HandleDomain(ctx context.Context, domain string, q model.Query) (model.Reply, error) {
	e, err := t.entry(domain)
	if err != nil {
		return model.Reply{}, err
	}
	return t.serve(ctx, e, q)
}

// ResetSession deletes a session's history. An empty domain means the root.
func (t *Tree) ResetSession(ctx context.Context, domain, sessionID string) error {
	e, err := t.entry(domain)
	if err != nil {
		return err
	}
	if strings.TrimSpace(sessionID) == "" {
		return errx.InvalidInput(nil, "session_id is required")
	}
	return e.Sessions.Reset(ctx, sessionID)
}

// ClearMemory deletes every fact stored for a user. An empty domain means the root.
func (t *Tree) ClearMemory(ctx context.Context, domain, userID string) error {
	e, err := t.entry(domain)
	if err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return errx.InvalidInput(nil, "user_id is required")
	}
	return e.Memory.Clear(ctx, userID)
}

func (t *Tree) entry(domain string) (*Entry, error) {
	if domain == "" || domain == t.root.Name {
		return t.root, nil
	}
	e, ok := t.domains[domain]
	if !ok {
		return nil, errx.Wrap(errx.KindNotFound, nil, fmt.Sprintf("unknown domain %q", domain))
	}
	return e, nil
}

// SessionID returns the session id used when a request names none.
func SessionID(userID, partition string) string {
	return fmt.Sprintf("%s_%s_session", userID, partition)
}

func (t *Tree) serve(ctx context.Context, e *Entry, q model.Query) (model.Reply, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return model.Reply{}, errx.InvalidInput(nil, "message is required")
	}
	if q.UserID == "" {
		q.UserID = DefaultUserID
	}
	if q.SessionID == "" {
		q.SessionID = SessionID(q.UserID, e.Partition)
	}
	if q.IssuedAt.IsZero() {
		q.IssuedAt = t.now().UTC()
	}

	sess, err := e.Sessions.Load(ctx, q.SessionID, q.UserID)
	if err != nil {
		return model.Reply{}, err
	}
	sess.Turns, err = e.Sessions.GetHistory(ctx, q.SessionID, t.conv.HistoryTurns*2)
	if err != nil {
		return model.Reply{}, err
	}
	sess.Memory, err = e.Memory.Get(ctx, q.UserID)
	if err != nil {
		logx.Warn().Err(err).Str("user_id", q.UserID).Msg("memory unavailable, continuing without it")
		sess.Memory = nil
	}
	if n := t.conv.MemorySnapshotSize; n > 0 && len(sess.Memory) > n {
		sess.Memory = sess.Memory[len(sess.Memory)-n:]
	}

	log := logx.With().Str("entry", e.Name).Str("user_id", q.UserID).Str("session_id", q.SessionID).Logger()
	log.Debug().Int("history_turns", len(sess.Turns)).Int("memories", len(sess.Memory)).Msg("session loaded")

	answer, err := e.Router.Handle(ctx, Request{Query: q, History: sess.Turns, Memory: sess.Memory})
	if err != nil {
		log.Error().Err(err).Msg("routing failed")
		return model.Reply{}, err
	}

	err = e.Sessions.Append(ctx, q.SessionID,
		model.Turn{ID: uuid.NewString(), Role: model.RoleUser, Text: q.Text},
		model.Turn{ID: uuid.NewString(), Role: model.RoleAgent, Text: answer.Text, AgentName: e.AgentName},
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to append turns")
		return model.Reply{}, err
	}

	if t.queue != nil && !answer.Clarification {
		t.queue.Enqueue(memory.Job{
			UserID:    q.UserID,
			SessionID: q.SessionID,
			UserText:  q.Text,
			AgentText: answer.Text,
			Store:     e.Memory,
		})
	}

	log.Info().Strs("sources", answer.Sources).Int("citations", len(answer.Citations)).Msg("query answered")
	return model.Reply{
		Answer:    answer,
		AgentName: e.AgentName,
		UserID:    q.UserID,
		SessionID: q.SessionID,
	}, nil
}
