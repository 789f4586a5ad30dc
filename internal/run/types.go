// Package run models per-method candidate lists and reads/writes TREC run files.
package run

import (
	"fmt"
	"math"
	"sort"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// CandidateResult is one retrieved document for a query, produced by an external retriever.
type CandidateResult struct {
	QueryID string  `json:"query_id"`
	DocID   string  `json:"doc_id"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"` // 1-based
}

// CandidateList is the ranked output of one retrieval method for one query.
type CandidateList struct {
	QueryID string            `json:"query_id"`
	Method  string            `json:"method"`
	Results []CandidateResult `json:"results"`
}

// NewList builds a list from unordered results, rejecting duplicate documents.
// Results are ordered by score descending (document ID ascending on ties) and re-ranked.
func NewList(queryID, method string, results []CandidateResult) (CandidateList, error) {
	seen := make(map[string]struct{}, len(results))
	out := make([]CandidateResult, len(results))
	for i, r := range results {
		if r.DocID == "" {
			return CandidateList{}, apperrors.ValidationError(fmt.Sprintf("query %s, method %s: empty document id", queryID, method))
		}
		if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
			return CandidateList{}, apperrors.ValidationError(fmt.Sprintf("query %s, method %s: non-finite score for %s", queryID, method, r.DocID))
		}
		if _, dup := seen[r.DocID]; dup {
			return CandidateList{}, apperrors.ValidationError(fmt.Sprintf("query %s, method %s: duplicate document %s", queryID, method, r.DocID))
		}
		seen[r.DocID] = struct{}{}
		r.QueryID = queryID
		out[i] = r
	}

	l := CandidateList{QueryID: queryID, Method: method, Results: out}
	l.Normalize()
	return l, nil
}

// Normalize orders results by score descending, document ID ascending on ties,
// and assigns ranks 1..n.
func (l *CandidateList) Normalize() {
	sort.SliceStable(l.Results, func(i, j int) bool {
		a, b := l.Results[i], l.Results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.DocID < b.DocID
	})
	for i := range l.Results {
		l.Results[i].Rank = i + 1
	}
}

// Validate checks the list invariants: unique documents, ranks 1..n, scores
// non-increasing, and ties ordered by document ID.
func (l CandidateList) Validate() error {
	seen := make(map[string]struct{}, len(l.Results))
	for i, r := range l.Results {
		if _, dup := seen[r.DocID]; dup {
			return apperrors.ValidationError(fmt.Sprintf("query %s, method %s: duplicate document %s", l.QueryID, l.Method, r.DocID))
		}
		seen[r.DocID] = struct{}{}

		if r.Rank != i+1 {
			return apperrors.ValidationError(fmt.Sprintf("query %s, method %s: rank %d at position %d", l.QueryID, l.Method, r.Rank, i+1))
		}
		if i == 0 {
			continue
		}
		prev := l.Results[i-1]
		if r.Score > prev.Score || (r.Score == prev.Score && r.DocID < prev.DocID) {
			return apperrors.ValidationError(fmt.Sprintf("query %s, method %s: %s out of order", l.QueryID, l.Method, r.DocID))
		}
	}
	return nil
}

// Truncate keeps at most depth results. A non-positive depth keeps everything.
func (l *CandidateList) Truncate(depth int) {
	if depth > 0 && len(l.Results) > depth {
		l.Results = l.Results[:depth]
	}
}

// Run holds the candidate lists of a single retrieval method, keyed by query ID.
type Run struct {
	Method string
	Lists  map[string]CandidateList
}

// NewRun creates an empty run for method.
func NewRun(method string) *Run {
	return &Run{Method: method, Lists: make(map[string]CandidateList)}
}

// QueryIDs returns the query IDs present in the run, ascending.
func (r *Run) QueryIDs() []string {
	ids := make([]string, 0, len(r.Lists))
	for id := range r.Lists {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns the list for queryID, or an empty list when the method retrieved nothing.
func (r *Run) List(queryID string) CandidateList {
	if l, ok := r.Lists[queryID]; ok {
		return l
	}
	return CandidateList{QueryID: queryID, Method: r.Method}
}

// DocIDs returns every distinct document ID in the run.
func (r *Run) DocIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, l := range r.Lists {
		for _, c := range l.Results {
			ids[c.DocID] = struct{}{}
		}
	}
	return ids
}
