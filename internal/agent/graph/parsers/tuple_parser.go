package parsers

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	errx "github.com/banking-router-poc/server/internal/core/error"
	logx "github.com/banking-router-poc/server/pkg/logger"
)

// Model output is a list of records "(type<||>field<||>...)" separated by
// RecordDelimiter and terminated by CompletionDelimiter.
const (
	RecordDelimiter     = "##"
	TupleDelimiter      = "<||>"
	CompletionDelimiter = "<|COMPLETE|>"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 128 * 1024 // 128KB
	maxRecords    = 500        // maximum number of records to process
	maxTupleLen   = 8 * 1024   // 8KB per tuple
	maxParts      = 5
	maxErrSnippet = 200 // limit error snippet size
)

// Tuple is one parsed record. Parts[0] is the record type.
type Tuple struct {
	Type  string
	Parts []string
}

// Field returns the i-th field after the type, trimmed, or "".
func (t Tuple) Field(i int) string {
	if i+1 >= len(t.Parts) {
		return ""
	}
	return strings.TrimSpace(t.Parts[i+1])
}

// Result holds the well-formed tuples and a note for every record that was skipped.
type Result struct {
	Tuples    []Tuple
	Errors    []string
	Truncated bool
}

func parseRawTuple(s string) (*Tuple, error) {
	if s == "" {
		return nil, fmt.Errorf("empty tuple")
	}
	if len(s) > maxTupleLen {
		return nil, fmt.Errorf("tuple too large")
	}

	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return nil, fmt.Errorf("invalid tuple parens")
	}
	inner := s[1 : len(s)-1]
	parts := strings.SplitN(inner, TupleDelimiter, maxParts)
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid tuple parts")
	}
	if !utf8.ValidString(inner) {
		return nil, fmt.Errorf("invalid utf8")
	}
	return &Tuple{Type: strings.ToLower(strings.TrimSpace(parts[0])), Parts: parts}, nil
}

// ParseTuples splits model output into tuples. Malformed records are skipped
// and reported in Result.Errors; only a panic produces an error.
func ParseTuples(content string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "tuple_parser").Msgf("panic recovered: %v", r)
			err = errx.Wrap(errx.KindInternal, fmt.Errorf("tuple parser panic: %v", r), errx.SystemErrorMessage)
			res = Result{}
		}
	}()

	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", "tuple_parser").
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content truncated due to size limit")
		content = content[:maxContentLen]
		res.Truncated = true
	}
	// honor completion delimiter if present
	if idx := strings.Index(content, CompletionDelimiter); idx >= 0 {
		content = content[:idx]
	}
	content = stripCodeFence(content)

	processed := 0
	for _, rec := range strings.Split(content, RecordDelimiter) {
		if processed >= maxRecords {
			logx.Warn().Str("component", "tuple_parser").Int("max_records", maxRecords).Msg("record processing capped")
			break
		}
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		processed++

		t, terr := parseRawTuple(rec)
		if terr != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("bad_record: %s", safeSnippet(rec)))
			continue
		}
		res.Tuples = append(res.Tuples, *t)
	}
	return res, nil
}

// OfType returns the tuples with the given type.
func (r Result) OfType(typ string) []Tuple {
	var out []Tuple
	for _, t := range r.Tuples {
		if t.Type == typ {
			out = append(out, t)
		}
	}
	return out
}

func parseFloatInRange(s, name string, min, max float64) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse: %w", name, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s invalid number", name)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%s out of range", name)
	}
	return v, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
