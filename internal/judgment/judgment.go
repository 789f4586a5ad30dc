// Package judgment holds graded relevance and quality labels for query/document pairs.
package judgment

import (
	"fmt"
	"sort"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// Grade selects which label of a judgment a metric is computed on.
type Grade string

const (
	GradeRelevance Grade = "relevance"
	GradeQuality   Grade = "quality"
)

// Valid reports whether g is a known grade.
func (g Grade) Valid() bool {
	return g == GradeRelevance || g == GradeQuality
}

// RelevanceJudgment is a human label for one query/document pair.
type RelevanceJudgment struct {
	QueryID   string `json:"query_id"`
	DocID     string `json:"doc_id"`
	Relevance int    `json:"relevance"`
	Quality   int    `json:"quality"`
}

// Store is an immutable set of judgments. Safe for concurrent reads.
type Store struct {
	grades map[Grade]map[string]map[string]int // grade -> query -> doc -> label
}

func newStore() *Store {
	return &Store{grades: map[Grade]map[string]map[string]int{
		GradeRelevance: {},
		GradeQuality:   {},
	}}
}

func (s *Store) put(g Grade, queryID, docID string, label int) bool {
	byQuery := s.grades[g]
	docs := byQuery[queryID]
	if docs == nil {
		docs = make(map[string]int)
		byQuery[queryID] = docs
	}
	if _, dup := docs[docID]; dup {
		return false
	}
	docs[docID] = label
	return true
}

// NewStore builds a store where every judgment carries both grades.
// A repeated query/document pair is rejected.
func NewStore(judgments []RelevanceJudgment) (*Store, error) {
	s := newStore()
	for _, j := range judgments {
		if j.QueryID == "" || j.DocID == "" {
			return nil, apperrors.ValidationError("judgment requires query_id and doc_id")
		}
		if !s.put(GradeRelevance, j.QueryID, j.DocID, j.Relevance) {
			return nil, apperrors.ValidationError(fmt.Sprintf("duplicate judgment for query %s, document %s", j.QueryID, j.DocID))
		}
		s.put(GradeQuality, j.QueryID, j.DocID, j.Quality)
	}
	return s, nil
}

// FromQrels builds a store from separately judged relevance and quality files.
// Either slice may be empty. A pair judged in only one file is unjudged for the other grade.
func FromQrels(relevance, quality []Qrel) (*Store, error) {
	s := newStore()
	for g, qrels := range map[Grade][]Qrel{GradeRelevance: relevance, GradeQuality: quality} {
		for _, q := range qrels {
			if !s.put(g, q.QueryID, q.DocID, q.Grade) {
				return nil, apperrors.ValidationError(fmt.Sprintf("duplicate %s judgment for query %s, document %s", g, q.QueryID, q.DocID))
			}
		}
	}
	return s, nil
}

// Has reports whether queryID has at least one judgment for grade g.
func (s *Store) Has(g Grade, queryID string) bool {
	return len(s.grades[g][queryID]) > 0
}

// Label returns the grade of docID for queryID. Unjudged documents report false.
func (s *Store) Label(g Grade, queryID, docID string) (int, bool) {
	v, ok := s.grades[g][queryID][docID]
	return v, ok
}

// Labels returns the grades of docIDs in order; unjudged documents get 0.
func (s *Store) Labels(g Grade, queryID string, docIDs []string) []int {
	docs := s.grades[g][queryID]
	out := make([]int, len(docIDs))
	for i, id := range docIDs {
		out[i] = docs[id]
	}
	return out
}

// Grades returns every judged grade of queryID, highest first.
func (s *Store) Grades(g Grade, queryID string) []int {
	docs := s.grades[g][queryID]
	out := make([]int, 0, len(docs))
	for _, v := range docs {
		out = append(out, v)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// Queries returns the IDs of all queries judged under any grade, ascending.
func (s *Store) Queries() []string {
	seen := make(map[string]struct{})
	for _, byQuery := range s.grades {
		for q := range byQuery {
			seen[q] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for q := range seen {
		ids = append(ids, q)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of distinct judged query/document pairs.
func (s *Store) Len() int {
	return len(s.Judgments())
}

// Judgments returns a merged view ordered by query then document.
// A grade missing for a pair is reported as 0.
func (s *Store) Judgments() []RelevanceJudgment {
	merged := make(map[[2]string]*RelevanceJudgment)
	for g, byQuery := range s.grades {
		for q, docs := range byQuery {
			for d, v := range docs {
				key := [2]string{q, d}
				j := merged[key]
				if j == nil {
					j = &RelevanceJudgment{QueryID: q, DocID: d}
					merged[key] = j
				}
				if g == GradeRelevance {
					j.Relevance = v
				} else {
					j.Quality = v
				}
			}
		}
	}

	out := make([]RelevanceJudgment, 0, len(merged))
	for _, j := range merged {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].QueryID != out[k].QueryID {
			return out[i].QueryID < out[k].QueryID
		}
		return out[i].DocID < out[k].DocID
	})
	return out
}
