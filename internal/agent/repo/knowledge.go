package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/banking-router-poc/server/internal/agent/model"
	errx "github.com/banking-router-poc/server/internal/core/error"
	logx "github.com/banking-router-poc/server/pkg/logger"
)

// RedisKnowledgeRepository persists the documents of every knowledge partition so
// restarts can skip re-ingesting an unchanged corpus.
type RedisKnowledgeRepository struct {
	rdb redis.Cmdable
}

func NewRedisKnowledgeRepository(rdb redis.Cmdable) *RedisKnowledgeRepository {
	return &RedisKnowledgeRepository{rdb: rdb}
}

func (r *RedisKnowledgeRepository) documentsKey(partition string) string {
	return fmt.Sprintf("knowledge:%s:documents", partition)
}

func (r *RedisKnowledgeRepository) metaKey(partition string) string {
	return fmt.Sprintf("knowledge:%s:meta", partition)
}

// Meta returns nil when the partition has never been built.
func (r *RedisKnowledgeRepository) Meta(ctx context.Context, partition string) (*model.PartitionMeta, error) {
	key := r.metaKey(partition)
	m, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to load knowledge meta")
		return nil, errx.WrapRedis(err)
	}
	if len(m) == 0 {
		return nil, nil
	}

	meta := &model.PartitionMeta{Partition: partition, Checksum: m["checksum"]}
	if n, err := strconv.Atoi(m["count"]); err == nil {
		meta.Count = n
	}
	if ts, err := time.Parse(time.RFC3339Nano, m["built_at"]); err == nil {
		meta.BuiltAt = ts
	}
	return meta, nil
}

// Replace swaps the partition's documents and meta in a single MULTI/EXEC.
func (r *RedisKnowledgeRepository) Replace(ctx context.Context, meta model.PartitionMeta, docs []model.Document) error {
	docsKey, metaKey := r.documentsKey(meta.Partition), r.metaKey(meta.Partition)

	values := make([]any, 0, len(docs))
	for _, d := range docs {
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("marshal document %s: %w", d.ID, err)
		}
		values = append(values, b)
	}

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, docsKey, metaKey)
		if len(values) > 0 {
			pipe.RPush(ctx, docsKey, values...)
		}
		pipe.HSet(ctx, metaKey,
			"checksum", meta.Checksum,
			"count", len(docs),
			"built_at", meta.BuiltAt.UTC().Format(time.RFC3339Nano),
		)
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("partition", meta.Partition).Msg("failed to replace knowledge partition")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisKnowledgeRepository) Documents(ctx context.Context, partition string) ([]model.Document, error) {
	key := r.documentsKey(partition)
	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to load knowledge documents")
		return nil, errx.WrapRedis(err)
	}

	docs := make([]model.Document, 0, len(rows))
	for i, s := range rows {
		var d model.Document
		if err := json.Unmarshal([]byte(s), &d); err != nil {
			return nil, fmt.Errorf("unmarshal document at index %d: %w", i, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

var _ model.KnowledgeRepository = (*RedisKnowledgeRepository)(nil)
