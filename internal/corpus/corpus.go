// Package corpus loads the passage collection that candidate runs point into.
package corpus

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// Passage is one retrievable unit of the corpus.
type Passage struct {
	ID   string `json:"id"`
	Text string `json:"contents"`
	URL  string `json:"chatNoirUrl,omitempty"`

	// Offset is the byte offset of the passage's line in the source file.
	Offset int64 `json:"-"`
}

// Corpus is an immutable in-memory passage lookup.
type Corpus struct {
	passages map[string]Passage
}

// Get returns the passage with the given ID.
func (c *Corpus) Get(id string) (Passage, bool) {
	p, ok := c.passages[id]
	return p, ok
}

// Len returns the number of loaded passages.
func (c *Corpus) Len() int {
	return len(c.passages)
}

// Filter selects which passage IDs to keep while loading. A nil Filter keeps all.
type Filter func(id string) bool

// ReadJSONL reads one JSON object per line. Blank lines are skipped; any other
// malformed line fails the whole load.
func ReadJSONL(r io.Reader, source string, keep Filter) (*Corpus, error) {
	c := &Corpus{passages: make(map[string]Passage)}

	br := bufio.NewReaderSize(r, 1<<20)
	var offset int64
	lineNo := 0

	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			start := offset
			offset += int64(len(line))

			trimmed := bytes.TrimSpace(line)
			if len(trimmed) > 0 {
				var p Passage
				if jerr := json.Unmarshal(trimmed, &p); jerr != nil {
					return nil, apperrors.ParseError(source, lineNo, jerr.Error())
				}
				if p.ID == "" {
					return nil, apperrors.ParseError(source, lineNo, "missing id")
				}
				if keep == nil || keep(p.ID) {
					if _, dup := c.passages[p.ID]; dup {
						return nil, apperrors.ParseError(source, lineNo, fmt.Sprintf("duplicate passage %s", p.ID))
					}
					p.Offset = start
					c.passages[p.ID] = p
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading corpus %s: %w", source, err)
		}
	}

	return c, nil
}

// LoadJSONL reads the corpus file at path.
func LoadJSONL(path string, keep Filter) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus: %w", err)
	}
	defer f.Close()

	return ReadJSONL(f, path, keep)
}

// New builds a corpus from passages already in memory.
func New(passages ...Passage) *Corpus {
	c := &Corpus{passages: make(map[string]Passage, len(passages))}
	for _, p := range passages {
		c.passages[p.ID] = p
	}
	return c
}
