package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/banking-router-poc/server/internal/agent/model"
	errx "github.com/banking-router-poc/server/internal/core/error"
	logx "github.com/banking-router-poc/server/pkg/logger"
)

const defaultMaxFacts = 50

// RedisMemoryStore keeps each user's facts in a Redis list, one partition per domain.
type RedisMemoryStore struct {
	rdb       redis.Cmdable
	partition string
	maxFacts  int
	locks     *keyLock
	now       func() time.Time
}

func NewRedisMemoryStore(rdb redis.Cmdable, partition string, maxFacts int) *RedisMemoryStore {
	if maxFacts <= 0 {
		maxFacts = defaultMaxFacts
	}
	return &RedisMemoryStore{
		rdb:       rdb,
		partition: partition,
		maxFacts:  maxFacts,
		locks:     newKeyLock(),
		now:       time.Now,
	}
}

func (r *RedisMemoryStore) factsKey(userID string) string {
	return fmt.Sprintf("memory:%s:%s:facts", r.partition, userID)
}

func (r *RedisMemoryStore) Get(ctx context.Context, userID string) ([]model.MemoryRecord, error) {
	key := r.factsKey(userID)
	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []model.MemoryRecord{}, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load memories from redis")
		return nil, errx.WrapRedis(err)
	}

	records := make([]model.MemoryRecord, 0, len(rows))
	for i, s := range rows {
		var rec model.MemoryRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			// one corrupt entry must not hide the rest of the user's memory
			logx.Warn().Err(err).Str("user_id", userID).Int("index", i).Msg("skipping undecodable memory record")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Append stores facts not already known for the user and returns the new records.
func (r *RedisMemoryStore) Append(ctx context.Context, userID string, facts []string) ([]model.MemoryRecord, error) {
	if len(facts) == 0 {
		return nil, nil
	}
	key := r.factsKey(userID)

	unlock := r.locks.Lock(key)
	defer unlock()

	existing, err := r.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(existing)+len(facts))
	for _, rec := range existing {
		seen[normalizeFact(rec.FactText)] = struct{}{}
	}

	now := r.now().UTC()
	added := make([]model.MemoryRecord, 0, len(facts))
	values := make([]any, 0, len(facts))
	for _, fact := range facts {
		fact = strings.TrimSpace(fact)
		norm := normalizeFact(fact)
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}

		rec := model.MemoryRecord{
			ID:        uuid.NewString(),
			UserID:    userID,
			FactText:  fact,
			CreatedAt: now,
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal memory record: %w", err)
		}
		added = append(added, rec)
		values = append(values, b)
	}
	if len(values) == 0 {
		return added, nil
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, -int64(r.maxFacts), -1)
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to append memories to redis")
		return nil, errx.WrapRedis(err)
	}

	logx.Debug().Str("user_id", userID).Str("partition", r.partition).Int("added", len(added)).Msg("memories appended")
	return added, nil
}

func (r *RedisMemoryStore) Clear(ctx context.Context, userID string) error {
	key := r.factsKey(userID)

	unlock := r.locks.Lock(key)
	defer unlock()

	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to clear memories in redis")
		return errx.WrapRedis(err)
	}
	logx.Info().Str("user_id", userID).Str("partition", r.partition).Msg("memories cleared")
	return nil
}

func normalizeFact(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

var _ model.MemoryStore = (*RedisMemoryStore)(nil)
