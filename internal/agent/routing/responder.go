package routing

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/banking-router-poc/server/internal/agent/graph"
	"github.com/banking-router-poc/server/internal/agent/model"
	errx "github.com/banking-router-poc/server/internal/core/error"
	logx "github.com/banking-router-poc/server/pkg/logger"
)

var (
	identifierPattern = regexp.MustCompile(`\b[A-Za-z]{2,}[-_]?\d{2,}\b`)
	quotedPattern     = regexp.MustCompile(`["“]([^"”]{2,80})["”]`)
)

// ResponderSpec describes one leaf of the tree.
type ResponderSpec struct {
	Category     model.RoutingCategory
	Partition    string
	Instructions []string
	Collections  []string
}

// ResponderNode answers a routed request from its knowledge partition.
type ResponderNode struct {
	spec       ResponderSpec
	store      model.KnowledgeStore
	runner     graph.Runner
	knowledge  model.KnowledgeConfig
	genTimeout time.Duration
}

func NewResponderNode(spec ResponderSpec, store model.KnowledgeStore, runner graph.Runner, knowledge model.KnowledgeConfig, genTimeout time.Duration) *ResponderNode {
	return &ResponderNode{
		spec:       spec,
		store:      store,
		runner:     runner,
		knowledge:  knowledge,
		genTimeout: genTimeout,
	}
}

func (n *ResponderNode) ID() model.NodeID { return n.spec.Category.Name }

func (n *ResponderNode) Handle(ctx context.Context, req Request) (model.Answer, error) {
	terms := SearchTerms(req.Query.Text, n.spec.Category.ExemplarTopics)

	docs, err := n.retrieve(ctx, req.Query, terms.All)
	if err != nil {
		return model.Answer{}, err
	}
	docs, conflicts := Reconcile(docs)

	ev := model.Evidence{
		Node:         n.ID(),
		Title:        n.spec.Category.Title,
		Instructions: n.spec.Instructions,
		Query:        req.Query,
		Documents:    docs,
		Conflicts:    conflicts,
		Missing:      terms.Requested,
		History:      req.History,
		Memory:       req.Memory,
	}

	genCtx := ctx
	if n.genTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, n.genTimeout)
		defer cancel()
	}
	ans, err := n.runner.Invoke(genCtx, ev)
	if err != nil {
		if errx.KindOf(err) == errx.KindInternal && errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			return model.Answer{}, errx.BackendTimeout(n.ID()+" generation", err)
		}
		return model.Answer{}, err
	}
	return ans, nil
}

// retrieve issues one search per term, keeps each document's best score and
// applies the score threshold and top-k.
func (n *ResponderNode) retrieve(ctx context.Context, q model.Query, terms []string) ([]model.RetrievedDocument, error) {
	type ranked struct {
		doc   model.RetrievedDocument
		order int
	}
	byID := make(map[string]*ranked)
	seq := 0

	for _, term := range terms {
		hits, err := n.search(ctx, q, term)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if prev, ok := byID[h.ID]; ok {
				if h.Score > prev.doc.Score {
					prev.doc.Score = h.Score
				}
				continue
			}
			byID[h.ID] = &ranked{doc: h, order: seq}
			seq++
		}
	}

	all := make([]*ranked, 0, len(byID))
	for _, r := range byID {
		if r.doc.Score+scoreEpsilon < n.knowledge.MinScore {
			continue
		}
		all = append(all, r)
	}
	slices.SortFunc(all, func(a, b *ranked) int {
		switch {
		case a.doc.Score > b.doc.Score:
			return -1
		case a.doc.Score < b.doc.Score:
			return 1
		}
		return a.order - b.order
	})
	if k := n.knowledge.TopK; k > 0 && len(all) > k {
		all = all[:k]
	}

	docs := make([]model.RetrievedDocument, 0, len(all))
	for _, r := range all {
		docs = append(docs, r.doc)
	}
	logx.Debug().
		Str("node", n.ID()).
		Str("partition", n.spec.Partition).
		Int("terms", len(terms)).
		Int("documents", len(docs)).
		Msg("retrieval finished")
	return docs, nil
}

func (n *ResponderNode) search(ctx context.Context, q model.Query, term string) ([]model.RetrievedDocument, error) {
	if n.knowledge.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.knowledge.SearchTimeout)
		defer cancel()
	}
	hits, err := n.store.Search(ctx, n.spec.Partition, model.SearchRequest{
		Text:        term,
		TopK:        n.knowledge.TopK,
		Collections: n.spec.Collections,
		Owner:       q.UserID,
	})
	if err == nil {
		return hits, nil
	}
	switch errx.KindOf(err) {
	case errx.KindRetrievalUnavailable, errx.KindBackendTimeout:
		return nil, err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, errx.BackendTimeout("knowledge search", err)
	}
	return nil, errx.RetrievalUnavailable(n.spec.Partition, err)
}

// Terms are the searches derived from one query. Requested lists what the
// user explicitly asked about, for the missing-information answer.
type Terms struct {
	All       []string
	Requested []string
}

// SearchTerms derives the full text, identifiers, quoted names and mentioned
// topics from a query, without duplicates.
func SearchTerms(text string, topics []string) Terms {
	var t Terms
	seen := map[string]bool{}
	add := func(term string, requested bool) {
		term = strings.TrimSpace(term)
		key := strings.ToLower(term)
		if term == "" || seen[key] {
			return
		}
		seen[key] = true
		t.All = append(t.All, term)
		if requested {
			t.Requested = append(t.Requested, term)
		}
	}

	add(text, false)
	for _, id := range identifierPattern.FindAllString(text, -1) {
		add(id, true)
	}
	for _, m := range quotedPattern.FindAllStringSubmatch(text, -1) {
		add(m[1], true)
	}
	for _, topic := range MatchTopics(padded(text), topics) {
		add(topic, true)
	}
	return t
}

// Reconcile keeps one document per entity. The kept one has the highest
// score, then the most recent update, then the earliest retrieval. Dropped
// records whose shared fields differ from the kept one produce a Conflict.
func Reconcile(docs []model.RetrievedDocument) ([]model.RetrievedDocument, []model.Conflict) {
	groups := make(map[string][]int)
	var keys []string
	for i, d := range docs {
		key := d.ID
		if d.EntityKey != "" {
			key = d.Collection + "/" + d.EntityKey
		}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], i)
	}

	keep := make(map[int]bool, len(keys))
	var conflicts []model.Conflict
	for _, key := range keys {
		idx := groups[key]
		best := idx[0]
		for _, i := range idx[1:] {
			if preferred(docs[i], docs[best]) {
				best = i
			}
		}
		keep[best] = true
		if len(idx) == 1 {
			continue
		}

		var dropped []string
		fieldSet := map[string]bool{}
		for _, i := range idx {
			if i == best {
				continue
			}
			dropped = append(dropped, docs[i].ID)
			for _, f := range differingFields(docs[best].Fields, docs[i].Fields) {
				fieldSet[f] = true
			}
		}
		if len(fieldSet) == 0 {
			continue
		}
		fields := make([]string, 0, len(fieldSet))
		for f := range fieldSet {
			fields = append(fields, f)
		}
		slices.Sort(fields)
		conflicts = append(conflicts, model.Conflict{
			EntityKey: docs[best].EntityKey,
			Kept:      docs[best].ID,
			Dropped:   dropped,
			Fields:    fields,
		})
	}

	out := make([]model.RetrievedDocument, 0, len(keep))
	for i, d := range docs {
		if keep[i] {
			out = append(out, d)
		}
	}
	return out, conflicts
}

// preferred reports whether a beats b. Retrieval order breaks remaining ties,
// and callers pass a after b, so ties keep b.
func preferred(a, b model.RetrievedDocument) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

func differingFields(a, b map[string]string) []string {
	var out []string
	for k, va := range a {
		if vb, ok := b[k]; ok && va != vb {
			out = append(out, k)
		}
	}
	return out
}
