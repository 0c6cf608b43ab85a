package nodes

import (
	"fmt"
	"strings"

	"github.com/banking-router-poc/server/internal/agent/model"
)

// MissingInfoText states which requested information has no records. With
// nothing specific requested it names the responder's area instead.
func MissingInfoText(title string, missing []string) string {
	if len(missing) == 0 {
		return fmt.Sprintf("I could not find any %s information for your request. No matching records are available.", title)
	}
	return fmt.Sprintf("I could not find the requested information: %s. No matching %s records are available.",
		strings.Join(missing, ", "), title)
}

// DescribeConflict renders a conflict for the prompt.
func DescribeConflict(c model.Conflict) string {
	return fmt.Sprintf("%s: kept [%s], differing [%s] on %s",
		c.EntityKey, c.Kept, strings.Join(c.Dropped, "], ["), strings.Join(c.Fields, ", "))
}

// ConflictNote is appended to the answer so a reconciliation is never silent.
func ConflictNote(c model.Conflict) string {
	return fmt.Sprintf("Note: %d records for %s disagree on %s; the answer uses %s.",
		len(c.Dropped)+1, c.EntityKey, strings.Join(c.Fields, ", "), c.Kept)
}

// Citations returns the ids of documents referenced in text, in document
// order. When the text references none, every document is cited.
func Citations(text string, docs []model.RetrievedDocument) []string {
	var referenced []string
	for _, d := range docs {
		if strings.Contains(text, d.ID) {
			referenced = append(referenced, d.ID)
		}
	}
	if len(referenced) > 0 {
		return referenced
	}
	all := make([]string, 0, len(docs))
	for _, d := range docs {
		all = append(all, d.ID)
	}
	return all
}
