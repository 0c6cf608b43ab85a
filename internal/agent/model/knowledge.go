package model

import (
	"context"
	"time"
)

// SearchRequest is one similarity query against a knowledge partition.
type SearchRequest struct {
	Text        string
	TopK        int
	Collections []string // empty means every collection
	Owner       string   // when set, documents owned by someone else are excluded
}

// KnowledgeStore answers similarity queries over domain documents.
type KnowledgeStore interface {
	Search(ctx context.Context, partition string, req SearchRequest) ([]RetrievedDocument, error)
}

// PartitionMeta describes the persisted state of a knowledge partition.
type PartitionMeta struct {
	Partition string
	Checksum  string
	Count     int
	BuiltAt   time.Time
}

// KnowledgeRepository persists the documents of each partition.
type KnowledgeRepository interface {
	Meta(ctx context.Context, partition string) (*PartitionMeta, error)
	Replace(ctx context.Context, meta PartitionMeta, docs []Document) error
	Documents(ctx context.Context, partition string) ([]Document, error)
}
