package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	_ "modernc.org/sqlite"

	"github.com/banking-router-poc/server/internal/agent/model"
)

const indexSchema = `
	CREATE VIRTUAL TABLE docs_fts USING fts5(
		body,
		collection UNINDEXED,
		owner UNINDEXED,
		tokenize = 'porter unicode61'
	);
`

// FTS5 has no stopword list; these are dropped from queries before MATCH.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"can": {}, "do": {}, "does": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"how": {}, "i": {}, "in": {}, "is": {}, "it": {}, "me": {}, "my": {}, "of": {},
	"on": {}, "or": {}, "our": {}, "please": {}, "show": {}, "tell": {}, "that": {},
	"the": {}, "this": {}, "to": {}, "was": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "who": {}, "why": {}, "will": {}, "with": {}, "you": {}, "your": {},
	"give": {}, "get": {}, "about": {}, "all": {}, "any": {}, "there": {}, "we": {},
}

// Index is a full-text index over one partition, held in a private
// in-memory SQLite database. Row i+1 of the FTS5 table is docs[i].
type Index struct {
	db   *sql.DB
	docs []model.Document
}

// filter restricts a search to collections and to one owner's documents.
// Documents without an owner are always eligible.
type filter struct {
	collections []string
	owner       string
}

func NewIndex(ctx context.Context, docs []model.Document) (*Index, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.ExecContext(ctx, indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("index: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO docs_fts (rowid, body, collection, owner) VALUES (?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		db.Close()
		return nil, fmt.Errorf("index: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, d := range docs {
		if _, err := stmt.ExecContext(ctx, i+1, searchableText(d), d.Collection, d.Owner); err != nil {
			_ = tx.Rollback()
			db.Close()
			return nil, fmt.Errorf("index document %s: %w", d.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: commit: %w", err)
	}
	return &Index{db: db, docs: docs}, nil
}

func (idx *Index) Len() int { return len(idx.docs) }

func (idx *Index) Close() error { return idx.db.Close() }

// Search ranks matching documents by FTS5 bm25 and returns at most topK of
// them, best first, with scores normalised to [0, 1).
func (idx *Index) Search(ctx context.Context, text string, topK int, f filter) ([]model.RetrievedDocument, error) {
	match := matchQuery(text)
	if match == "" || topK <= 0 {
		return nil, nil
	}

	sqlStr := `SELECT rowid, bm25(docs_fts) FROM docs_fts WHERE docs_fts MATCH ?`
	args := []any{match}
	if len(f.collections) > 0 {
		sqlStr += " AND collection IN (?" + strings.Repeat(", ?", len(f.collections)-1) + ")"
		for _, c := range f.collections {
			args = append(args, c)
		}
	}
	if f.owner != "" {
		sqlStr += " AND (owner = '' OR owner = ?)"
		args = append(args, f.owner)
	}
	sqlStr += " ORDER BY bm25(docs_fts), rowid LIMIT ?"
	args = append(args, topK)

	rows, err := idx.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.RetrievedDocument
	for rows.Next() {
		var (
			rowid int
			rank  float64
		)
		if err := rows.Scan(&rowid, &rank); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		if rowid < 1 || rowid > len(idx.docs) {
			continue
		}
		d := idx.docs[rowid-1]
		out = append(out, model.RetrievedDocument{
			ID:         d.ID,
			Score:      normalizeScore(rank),
			Content:    d.Content,
			Collection: d.Collection,
			EntityKey:  d.EntityKey,
			Fields:     d.Fields,
			UpdatedAt:  d.UpdatedAt,
		})
	}
	return out, rows.Err()
}

// normalizeScore maps an FTS5 bm25 rank, where more negative is better, onto
// [0, 1) so it can be compared with KNOWLEDGE_MIN_SCORE.
func normalizeScore(rank float64) float64 {
	raw := -rank
	if raw <= 0 {
		return 0
	}
	return raw / (1 + raw)
}

// matchQuery turns free text into an FTS5 OR query of quoted terms. Quoting
// keeps user input from being read as query syntax.
func matchQuery(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}
