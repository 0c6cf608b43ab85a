package knowledge

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/banking-router-poc/server/internal/agent/model"
	errx "github.com/banking-router-poc/server/internal/core/error"
	logx "github.com/banking-router-poc/server/pkg/logger"
)

// Partition names the corpus files that feed one knowledge partition.
type Partition struct {
	Name  string
	Files []string
}

// Store serves full-text search over per-domain partitions. Documents are
// persisted through the repository and indexed in an in-memory SQLite FTS5
// table per partition.
type Store struct {
	cfg        model.KnowledgeConfig
	repo       model.KnowledgeRepository
	partitions []Partition

	mu      sync.RWMutex
	indexes map[string]*Index

	now func() time.Time
}

func NewStore(cfg model.KnowledgeConfig, repo model.KnowledgeRepository, partitions []Partition) *Store {
	return &Store{
		cfg:        cfg,
		repo:       repo,
		partitions: partitions,
		indexes:    make(map[string]*Index),
		now:        time.Now,
	}
}

// Rebuild (re)builds every partition. The service must not accept queries
// before it returns without error.
func (s *Store) Rebuild(ctx context.Context) error {
	for _, p := range s.partitions {
		if err := s.RebuildPartition(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RebuildPartition reuses the persisted documents when the corpus checksum is
// unchanged and re-ingests them otherwise, then swaps in a fresh index.
func (s *Store) RebuildPartition(ctx context.Context, p Partition) error {
	start := s.now()
	corpus, err := ReadCorpus(s.cfg.Dir, p.Name, p.Files)
	if err != nil {
		return err
	}
	checksum := corpus.Checksum()

	meta, err := s.repo.Meta(ctx, p.Name)
	if err != nil {
		return fmt.Errorf("load knowledge meta for %s: %w", p.Name, err)
	}

	var docs []model.Document
	reused := false
	if !s.cfg.Rebuild && meta != nil && meta.Checksum == checksum {
		docs, err = s.repo.Documents(ctx, p.Name)
		if err != nil {
			return fmt.Errorf("load knowledge documents for %s: %w", p.Name, err)
		}
		reused = len(docs) == meta.Count
	}

	if !reused {
		docs, err = corpus.Documents()
		if err != nil {
			return err
		}
		if err := s.repo.Replace(ctx, model.PartitionMeta{
			Partition: p.Name,
			Checksum:  checksum,
			Count:     len(docs),
			BuiltAt:   s.now().UTC(),
		}, docs); err != nil {
			return fmt.Errorf("persist knowledge partition %s: %w", p.Name, err)
		}
	}

	idx, err := NewIndex(ctx, docs)
	if err != nil {
		return fmt.Errorf("index knowledge partition %s: %w", p.Name, err)
	}
	s.mu.Lock()
	old := s.indexes[p.Name]
	s.indexes[p.Name] = idx
	s.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			logx.Warn().Err(err).Str("partition", p.Name).Msg("failed to close replaced index")
		}
	}

	logx.Info().
		Str("partition", p.Name).
		Int("documents", idx.Len()).
		Bool("reused", reused).
		Dur("took", s.now().Sub(start)).
		Msg("knowledge partition ready")
	return nil
}

// Search ranks the partition's documents against the request. A partition
// that was never built is reported as unavailable rather than empty.
func (s *Store) Search(ctx context.Context, partition string, req model.SearchRequest) ([]model.RetrievedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, errx.BackendTimeout("knowledge search", err)
	}

	s.mu.RLock()
	idx, ok := s.indexes[partition]
	s.mu.RUnlock()
	if !ok {
		return nil, errx.RetrievalUnavailable(partition, fmt.Errorf("partition %q is not built", partition))
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	owner := req.Owner
	if !s.cfg.ScopeToUser {
		owner = ""
	}

	hits, err := idx.Search(ctx, req.Text, topK, filter{collections: req.Collections, owner: owner})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errx.BackendTimeout("knowledge search", ctxErr)
		}
		return nil, errx.RetrievalUnavailable(partition, err)
	}
	return hits, nil
}

// Partitions lists the names of the built partitions.
func (s *Store) Partitions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.indexes))
	for name := range s.indexes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close releases every partition index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for name, idx := range s.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close index %s: %w", name, err))
		}
		delete(s.indexes, name)
	}
	return errors.Join(errs...)
}

var _ model.KnowledgeStore = (*Store)(nil)
