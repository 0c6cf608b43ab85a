package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/banking-router-poc/server/internal/agent/model"
)

var (
	ownerKeys     = []string{"customer_id", "user_id"}
	timestampKeys = []string{"updated_at", "as_of", "last_updated", "timestamp"}
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Corpus is the raw content of one partition's source files.
type Corpus struct {
	Partition string
	Files     []string
	raw       [][]byte
}

// ReadCorpus reads the given files relative to dir.
func ReadCorpus(dir, partition string, files []string) (*Corpus, error) {
	c := &Corpus{Partition: partition, Files: files}
	for _, f := range files {
		b, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return nil, fmt.Errorf("read corpus file %s: %w", f, err)
		}
		c.raw = append(c.raw, b)
	}
	return c, nil
}

// Checksum fingerprints the partition name, file names and file contents.
func (c *Corpus) Checksum() string {
	h := sha256.New()
	h.Write([]byte(c.Partition))
	for i, f := range c.Files {
		h.Write([]byte{0})
		h.Write([]byte(f))
		h.Write([]byte{0})
		h.Write(c.raw[i])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Documents parses every file into documents. A file is either an object whose
// keys are collection names or a bare array named after the file.
func (c *Corpus) Documents() ([]model.Document, error) {
	var docs []model.Document
	seen := make(map[string]int)

	for i, f := range c.Files {
		var root any
		if err := json.Unmarshal(c.raw[i], &root); err != nil {
			return nil, fmt.Errorf("parse corpus file %s: %w", f, err)
		}

		switch v := root.(type) {
		case map[string]any:
			names := make([]string, 0, len(v))
			for name := range v {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				for _, rec := range records(v[name]) {
					docs = append(docs, c.document(name, rec, len(docs), seen))
				}
			}
		case []any:
			name := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
			for _, rec := range records(v) {
				docs = append(docs, c.document(name, rec, len(docs), seen))
			}
		default:
			return nil, fmt.Errorf("corpus file %s: unsupported top-level JSON type %T", f, root)
		}
	}
	return docs, nil
}

func records(v any) []map[string]any {
	switch vv := v.(type) {
	case []any:
		out := make([]map[string]any, 0, len(vv))
		for _, item := range vv {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		return []map[string]any{vv}
	}
	return nil
}

func (c *Corpus) document(collection string, rec map[string]any, pos int, seen map[string]int) model.Document {
	entity := entityKey(collection, rec)
	if entity == "" {
		entity = strconv.Itoa(pos)
	}

	id := collection + "/" + entity
	if n := seen[id]; n > 0 {
		seen[id] = n + 1
		id = fmt.Sprintf("%s#%d", id, n)
	} else {
		seen[id] = 1
	}

	content, _ := json.Marshal(rec)
	doc := model.Document{
		ID:         id,
		Partition:  c.Partition,
		Collection: collection,
		EntityKey:  entity,
		Content:    string(content),
		Fields:     scalarFields(rec),
	}
	for _, k := range ownerKeys {
		if s := scalarString(rec[k]); s != "" {
			doc.Owner = s
			break
		}
	}
	for _, k := range timestampKeys {
		if ts, ok := parseTimestamp(scalarString(rec[k])); ok {
			doc.UpdatedAt = ts
			break
		}
	}
	return doc
}

// entityKey picks the record's stable id: "id", then "<singular>_id" (also
// tried with only the last word of the collection), then the first other
// "*_id" key in sorted order. Owner keys are the last resort.
func entityKey(collection string, rec map[string]any) string {
	one := singular(collection)
	candidates := []string{"id", one + "_id"}
	if i := strings.LastIndex(one, "_"); i >= 0 {
		candidates = append(candidates, one[i+1:]+"_id")
	}

	var others, owners []string
	for k := range rec {
		if !strings.HasSuffix(k, "_id") {
			continue
		}
		if slices.Contains(ownerKeys, k) {
			owners = append(owners, k)
		} else {
			others = append(others, k)
		}
	}
	sort.Strings(others)
	sort.Strings(owners)
	candidates = append(candidates, others...)
	candidates = append(candidates, owners...)

	for _, k := range candidates {
		if s := scalarString(rec[k]); s != "" {
			return s
		}
	}
	return ""
}

func singular(s string) string {
	switch {
	case strings.HasSuffix(s, "ies") && len(s) > 3:
		return s[:len(s)-3] + "y"
	case strings.HasSuffix(s, "ses"):
		return s[:len(s)-2]
	case strings.HasSuffix(s, "s") && !strings.HasSuffix(s, "ss"):
		return s[:len(s)-1]
	}
	return s
}

func scalarFields(rec map[string]any) map[string]string {
	fields := make(map[string]string, len(rec))
	for k, v := range rec {
		if s := scalarString(v); s != "" {
			fields[k] = s
		}
	}
	return fields
}

func scalarString(v any) string {
	switch vv := v.(type) {
	case string:
		return strings.TrimSpace(vv)
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(vv)
	}
	return ""
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// searchableText flattens a document for indexing: collection, keys and values.
func searchableText(doc model.Document) string {
	var b strings.Builder
	b.WriteString(strings.ReplaceAll(doc.Collection, "_", " "))
	var rec any
	if err := json.Unmarshal([]byte(doc.Content), &rec); err == nil {
		flatten(&b, rec)
	} else {
		b.WriteByte(' ')
		b.WriteString(doc.Content)
	}
	return b.String()
}

func flatten(b *strings.Builder, v any) {
	switch vv := v.(type) {
	case map[string]any:
		for k, child := range vv {
			b.WriteByte(' ')
			b.WriteString(strings.ReplaceAll(k, "_", " "))
			flatten(b, child)
		}
	case []any:
		for _, child := range vv {
			flatten(b, child)
		}
	default:
		if s := scalarString(vv); s != "" {
			b.WriteByte(' ')
			b.WriteString(s)
		}
	}
}
