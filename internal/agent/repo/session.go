package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/banking-router-poc/server/internal/agent/model"
	errx "github.com/banking-router-poc/server/internal/core/error"
	logx "github.com/banking-router-poc/server/pkg/logger"
)

// RedisSessionStore keeps each session's turns in a Redis list. Sessions never
// expire; they are removed only through Reset.
type RedisSessionStore struct {
	rdb       redis.Cmdable
	partition string
	locks     *keyLock
	now       func() time.Time
}

func NewRedisSessionStore(rdb redis.Cmdable, partition string) *RedisSessionStore {
	return &RedisSessionStore{
		rdb:       rdb,
		partition: partition,
		locks:     newKeyLock(),
		now:       time.Now,
	}
}

func (r *RedisSessionStore) turnsKey(sessionID string) string {
	return fmt.Sprintf("session:%s:%s:turns", r.partition, sessionID)
}

func (r *RedisSessionStore) metaKey(sessionID string) string {
	return fmt.Sprintf("session:%s:%s:meta", r.partition, sessionID)
}

func (r *RedisSessionStore) Load(ctx context.Context, sessionID, userID string) (*model.ConversationSession, error) {
	key := r.metaKey(sessionID)
	now := r.now().UTC()

	var created *redis.BoolCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "user_id", userID)
		created = pipe.HSetNX(ctx, key, "created_at", now.Format(time.RFC3339Nano))
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to create session meta")
		return nil, errx.WrapRedis(err)
	}

	meta, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to load session meta")
		return nil, errx.WrapRedis(err)
	}

	sess := &model.ConversationSession{
		SessionID: sessionID,
		UserID:    meta["user_id"],
		Partition: r.partition,
		Created:   created.Val(),
	}
	if ts, err := time.Parse(time.RFC3339Nano, meta["created_at"]); err == nil {
		sess.CreatedAt = ts
	}
	if sess.UserID != userID {
		logx.Warn().
			Str("session_id", sessionID).
			Str("owner", sess.UserID).
			Str("user_id", userID).
			Msg("session requested by a different user than its creator")
	}
	if sess.Created {
		logx.Debug().Str("session_id", sessionID).Str("partition", r.partition).Msg("session created")
	}
	return sess, nil
}

func (r *RedisSessionStore) Append(ctx context.Context, sessionID string, turns ...model.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	key := r.turnsKey(sessionID)

	unlock := r.locks.Lock(key)
	defer unlock()

	last, err := r.lastTimestamp(ctx, key)
	if err != nil {
		return err
	}

	values := make([]any, 0, len(turns))
	for _, t := range turns {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.SessionID = sessionID
		ts := r.now().UTC()
		if !ts.After(last) {
			ts = last.Add(time.Microsecond)
		}
		t.Timestamp = ts
		last = ts

		b, err := json.Marshal(t)
		if err != nil {
			logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to marshal turn")
			return fmt.Errorf("marshal turn: %w", err)
		}
		values = append(values, b)
	}

	// one RPUSH keeps turns of the same exchange adjacent
	if err := r.rdb.RPush(ctx, key, values...).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to push turns to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

// lastTimestamp reads the newest stored turn so new stamps stay strictly increasing.
func (r *RedisSessionStore) lastTimestamp(ctx context.Context, key string) (time.Time, error) {
	raw, err := r.rdb.LIndex(ctx, key, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to read last turn")
		return time.Time{}, errx.WrapRedis(err)
	}
	var t model.Turn
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return time.Time{}, fmt.Errorf("unmarshal last turn: %w", err)
	}
	return t.Timestamp, nil
}

func (r *RedisSessionStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]model.Turn, error) {
	key := r.turnsKey(sessionID)

	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	rows, err := r.rdb.LRange(ctx, key, start, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []model.Turn{}, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load session history from redis")
		return nil, errx.WrapRedis(err)
	}

	turns := make([]model.Turn, 0, len(rows))
	for i, s := range rows {
		var t model.Turn
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			logx.Error().Err(err).Str("session_id", sessionID).Int("index", i).Msg("failed to unmarshal turn")
			return nil, fmt.Errorf("unmarshal turn at index %d: %w", i, err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (r *RedisSessionStore) Reset(ctx context.Context, sessionID string) error {
	turns, meta := r.turnsKey(sessionID), r.metaKey(sessionID)

	unlock := r.locks.Lock(turns)
	defer unlock()

	if err := r.rdb.Del(ctx, turns, meta).Err(); err != nil {
		logx.Error().Err(err).Str("key", turns).Msg("failed to delete session from redis")
		return errx.WrapRedis(err)
	}
	logx.Info().Str("session_id", sessionID).Str("partition", r.partition).Msg("session reset")
	return nil
}

// Count returns the number of stored turns.
func (r *RedisSessionStore) Count(ctx context.Context, sessionID string) (int, error) {
	key := r.turnsKey(sessionID)
	n, err := r.rdb.LLen(ctx, key).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to get turn count from redis")
		return 0, errx.WrapRedis(err)
	}
	return int(n), nil
}

var _ model.SessionStore = (*RedisSessionStore)(nil)
