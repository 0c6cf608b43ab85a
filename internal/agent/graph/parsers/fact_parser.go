package parsers

import (
	"strings"
)

const maxFactLen = 500

// ParseFacts reads "(fact<||>text)" tuples and returns the non-empty texts in order.
func ParseFacts(content string) ([]string, error) {
	res, err := ParseTuples(content)
	if err != nil {
		return nil, err
	}
	var facts []string
	for _, t := range res.OfType("fact") {
		text := strings.Join(strings.Fields(t.Field(0)), " ")
		if text == "" || len(text) > maxFactLen {
			continue
		}
		facts = append(facts, text)
	}
	return facts, nil
}
