// Package citation implements the citation protocol shared by the search and
// grounding tools: the block format of search results, the citation-token
// grammar, numeric narrowing of tokens into chunk identifiers, and the
// construction of the backend filter expression from validated identifiers.
//
// Tokens come from the model and are untrusted. Only values that passed
// Select ever reach Filter.
package citation

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Delimiter terminates every block of a formatted search result.
const Delimiter = "-----"

// ErrInvalidIdentifier is returned when a token cannot be narrowed
// into a chunk identifier.
var ErrInvalidIdentifier = errors.New("invalid chunk identifier")

var (
	tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_=-]+$`)
	fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	blockPattern = regexp.MustCompile(`(?m)^\[([^\]\r\n]*)\]: `)
)

// DropReason describes why a token was excluded.
type DropReason string

const (
	// DropMalformed marks tokens failing the citation-token grammar.
	DropMalformed DropReason = "malformed"
	// DropNonNumeric marks well-formed tokens that are not decimal identifiers.
	DropNonNumeric DropReason = "non_numeric"
)

// IsWellFormed reports whether the token matches ^[A-Za-z0-9_=-]+$.
func IsWellFormed(token string) bool {
	return tokenPattern.MatchString(token)
}

// IsNumeric reports whether the token consists of ASCII decimal digits only.
func IsNumeric(token string) bool {
	if token == "" {
		return false
	}
	for i := 0; i < len(token); i++ {
		if token[i] < '0' || token[i] > '9' {
			return false
		}
	}
	return true
}

// Selection is the outcome of validating a CitationRequest.
type Selection struct {
	// IDs are the surviving identifiers in request order, duplicates kept.
	IDs []int64
	// Dropped counts excluded tokens per reason.
	Dropped map[DropReason]int
}

// Select validates tokens and narrows them into chunk identifiers.
// Malformed and non-numeric tokens are excluded silently; the returned
// error is reserved for conversion failures of tokens that passed both
// checks, e.g. identifiers overflowing int64.
func Select(tokens []string) (*Selection, error) {
	sel := &Selection{
		IDs:     make([]int64, 0, len(tokens)),
		Dropped: map[DropReason]int{},
	}
	for _, token := range tokens {
		if !IsWellFormed(token) {
			sel.Dropped[DropMalformed]++
			continue
		}
		if !IsNumeric(token) {
			sel.Dropped[DropNonNumeric]++
			continue
		}
		id, err := ParseIdentifier(token)
		if err != nil {
			return nil, err
		}
		sel.IDs = append(sel.IDs, id)
	}
	return sel, nil
}

// ParseIdentifier converts a decimal token into a chunk identifier.
func ParseIdentifier(token string) (int64, error) {
	if !IsNumeric(token) {
		return 0, errors.Wrapf(ErrInvalidIdentifier, "%q is not a decimal number", token)
	}
	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidIdentifier, "%q is out of range", token)
	}
	return id, nil
}

// Filter builds the backend filter expression
// `<field> eq <id1> or <field> eq <id2> ...`.
// The field name is checked against the identifier grammar of the
// filter language, the identifiers are integers and need no quoting.
func Filter(field string, ids []int64) (string, error) {
	if !fieldPattern.MatchString(field) {
		return "", errors.Errorf("invalid identifier field name: %q", field)
	}
	if len(ids) == 0 {
		return "", errors.New("no identifiers to filter on")
	}

	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteString(" or ")
		}
		b.WriteString(field)
		b.WriteString(" eq ")
		b.WriteString(strconv.FormatInt(id, 10))
	}
	return b.String(), nil
}

// FormatID renders an identifier the way it is cited.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// WriteBlock appends one `[<id>]: <content>` block terminated
// by the delimiter line.
func WriteBlock(b *strings.Builder, id, content string) {
	b.WriteByte('[')
	b.WriteString(id)
	b.WriteString("]: ")
	b.WriteString(content)
	b.WriteByte('\n')
	b.WriteString(Delimiter)
	b.WriteByte('\n')
}

// Extract returns the bracketed prefixes of the blocks in a formatted
// search result, in order of appearance.
func Extract(text string) []string {
	matches := blockPattern.FindAllStringSubmatch(text, -1)
	res := make([]string, 0, len(matches))
	for _, m := range matches {
		res = append(res, m[1])
	}
	return res
}
