// Package topic loads comparative questions (topics) and prepares their text for retrieval.
package topic

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// Query is a comparative question about two objects.
type Query struct {
	ID      string    `json:"id"`
	Text    string    `json:"text"`
	Objects [2]string `json:"objects"`
}

// Set maps query IDs to queries.
type Set map[string]Query

// IDs returns the query IDs in ascending order.
func (s Set) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type xmlTopics struct {
	Topics []xmlTopic `xml:"topic"`
}

type xmlTopic struct {
	Number  string `xml:"number"`
	Title   string `xml:"title"`
	Objects string `xml:"objects"`
}

// ParseXML reads a shared-task topics file:
//
//	<topics><topic><number>1</number><title>...</title><objects>a, b</objects></topic></topics>
//
// Every topic needs a number and a title. Objects are optional; when present they must
// name exactly two comma separated objects.
func ParseXML(r io.Reader, source string) (Set, error) {
	var doc xmlTopics
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeParse, "decoding topics "+source, err)
	}

	set := make(Set, len(doc.Topics))
	for i, t := range doc.Topics {
		pos := i + 1
		id := strings.TrimSpace(t.Number)
		if id == "" {
			return nil, topicError(source, pos, "missing number")
		}
		title := strings.TrimSpace(t.Title)
		if title == "" {
			return nil, topicError(source, pos, "missing title")
		}
		if _, dup := set[id]; dup {
			return nil, topicError(source, pos, fmt.Sprintf("duplicate topic %s", id))
		}

		q := Query{ID: id, Text: title}
		if objs := strings.TrimSpace(t.Objects); objs != "" {
			parts := strings.Split(objs, ",")
			if len(parts) != 2 {
				return nil, topicError(source, pos, fmt.Sprintf("expected 2 objects, got %d", len(parts)))
			}
			q.Objects = [2]string{strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])}
		}
		set[id] = q
	}

	return set, nil
}

// LoadXML parses the topics file at path.
func LoadXML(path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening topics: %w", err)
	}
	defer f.Close()

	return ParseXML(f, path)
}

// topicError reports the position of the topic element rather than a file line,
// since encoding/xml does not track lines per element.
func topicError(source string, pos int, msg string) error {
	return apperrors.New(apperrors.CodeParse, fmt.Sprintf("%s: topic #%d: %s", source, pos, msg)).
		WithDetail("source", source).
		WithDetail("topic", fmt.Sprintf("%d", pos))
}

// Clean normalizes query text for lexical retrieval: NFKC normalization, punctuation
// replaced by spaces, and runs of whitespace collapsed.
func Clean(text string) string {
	text = norm.NFKC.String(text)

	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) {
			if !space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		b.WriteRune(r)
		space = false
	}

	return strings.TrimRight(b.String(), " ")
}
