package judgment

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// Qrel is one line of a TREC qrels file.
type Qrel struct {
	QueryID string
	DocID   string
	Grade   int
}

// ReadQrels parses the four column qrels format:
//
//	qid iteration docid grade
//
// Any malformed line fails the whole load; nothing is skipped silently.
func ReadQrels(r io.Reader, source string) ([]Qrel, error) {
	var out []Qrel
	seen := make(map[[2]string]int)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, apperrors.ParseError(source, lineNo, fmt.Sprintf("expected 4 fields, got %d", len(fields)))
		}

		grade, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, apperrors.ParseError(source, lineNo, fmt.Sprintf("invalid grade %q", fields[3]))
		}

		key := [2]string{fields[0], fields[2]}
		if first, dup := seen[key]; dup {
			return nil, apperrors.ParseError(source, lineNo,
				fmt.Sprintf("duplicate judgment for query %s, document %s (first on line %d)", key[0], key[1], first))
		}
		seen[key] = lineNo

		out = append(out, Qrel{QueryID: fields[0], DocID: fields[2], Grade: grade})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading qrels %s: %w", source, err)
	}

	return out, nil
}

// LoadQrels reads the qrels file at path.
func LoadQrels(path string) ([]Qrel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening qrels: %w", err)
	}
	defer f.Close()

	return ReadQrels(f, path)
}

// Load builds a store from a relevance qrels file and an optional quality qrels file.
func Load(relevancePath, qualityPath string) (*Store, error) {
	relevance, err := LoadQrels(relevancePath)
	if err != nil {
		return nil, err
	}

	var quality []Qrel
	if qualityPath != "" {
		if quality, err = LoadQrels(qualityPath); err != nil {
			return nil, err
		}
	}

	return FromQrels(relevance, quality)
}
