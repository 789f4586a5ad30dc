package qdrant

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/goccy/go-json"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// QueryVector holds the encoded query for both retrievers. Either side may be
// empty when only one method is run.
type QueryVector struct {
	QueryID       string    `json:"query_id"`
	Dense         []float32 `json:"dense,omitempty"`
	SparseIndices []uint32  `json:"sparse_indices,omitempty"`
	SparseValues  []float32 `json:"sparse_values,omitempty"`
}

// HasDense reports whether a dense vector is present.
func (q QueryVector) HasDense() bool {
	return len(q.Dense) > 0
}

// HasSparse reports whether a sparse vector is present.
func (q QueryVector) HasSparse() bool {
	return len(q.SparseIndices) > 0
}

func (q QueryVector) validate() error {
	if q.QueryID == "" {
		return fmt.Errorf("missing query_id")
	}
	if len(q.SparseIndices) != len(q.SparseValues) {
		return fmt.Errorf("query %s: %d sparse indices but %d values", q.QueryID, len(q.SparseIndices), len(q.SparseValues))
	}
	for _, v := range q.Dense {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("query %s: non-finite dense component", q.QueryID)
		}
	}
	return nil
}

// ReadQueryVectors reads one QueryVector per JSON line, sorted by query ID.
// Blank lines are skipped.
func ReadQueryVectors(r io.Reader, source string) ([]QueryVector, error) {
	var out []QueryVector
	seen := make(map[string]int)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var q QueryVector
		if err := json.Unmarshal(line, &q); err != nil {
			return nil, apperrors.ParseError(source, lineNo, err.Error())
		}
		if err := q.validate(); err != nil {
			return nil, apperrors.ParseError(source, lineNo, err.Error())
		}
		if first, dup := seen[q.QueryID]; dup {
			return nil, apperrors.ParseError(source, lineNo, fmt.Sprintf("duplicate query %s (first on line %d)", q.QueryID, first))
		}
		seen[q.QueryID] = lineNo
		out = append(out, q)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading query vectors %s: %w", source, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].QueryID < out[j].QueryID })
	return out, nil
}

// LoadQueryVectors reads the query vector file at path.
func LoadQueryVectors(path string) ([]QueryVector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening query vectors: %w", err)
	}
	defer f.Close()

	return ReadQueryVectors(f, path)
}
