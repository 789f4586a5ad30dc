package fusion

import (
	"fmt"
	"math"
	"sort"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/run"
)

// Source records how one method ranked and scored a fused document.
type Source struct {
	Rank  int     `json:"rank"`  // 1-based
	Score float64 `json:"score"` // original, before normalization
}

// Entry is one document of a fused ranking.
type Entry struct {
	DocID   string            `json:"doc_id"`
	Score   float64           `json:"score"`
	Sources map[string]Source `json:"sources,omitempty"`
}

// Ranking is the fused top-K for one query, ordered by score descending.
type Ranking struct {
	QueryID string  `json:"query_id"`
	Config  string  `json:"config"`
	Entries []Entry `json:"entries"`
}

// DocIDs returns the ranked document IDs.
func (r Ranking) DocIDs() []string {
	ids := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		ids[i] = e.DocID
	}
	return ids
}

// List converts the ranking into a candidate list tagged with the config name.
func (r Ranking) List() run.CandidateList {
	results := make([]run.CandidateResult, len(r.Entries))
	for i, e := range r.Entries {
		results[i] = run.CandidateResult{QueryID: r.QueryID, DocID: e.DocID, Score: e.Score, Rank: i + 1}
	}
	return run.CandidateList{QueryID: r.QueryID, Method: r.Config, Results: results}
}

// Fuse merges the candidate lists of one query under cfg.
//
// Lists for methods without weight are ignored. A query for which no method
// retrieved anything yields an empty ranking. Equal fused scores are ordered by
// the rank in the highest-weighted method (documents it did not retrieve last),
// then by document ID.
func Fuse(cfg Config, queryID string, lists []run.CandidateList) (Ranking, error) {
	if err := cfg.Validate(); err != nil {
		return Ranking{}, err
	}
	cfg = cfg.withDefaults()
	methods := cfg.Methods()

	byMethod := make(map[string]run.CandidateList, len(methods))
	for _, l := range lists {
		if l.QueryID != queryID {
			return Ranking{}, apperrors.ValidationError(fmt.Sprintf("list for query %s passed to fusion of query %s", l.QueryID, queryID))
		}
		if cfg.Weights[l.Method] <= 0 {
			continue
		}
		if _, dup := byMethod[l.Method]; dup {
			return Ranking{}, apperrors.ValidationError(fmt.Sprintf("query %s: more than one list for method %s", queryID, l.Method))
		}
		if err := l.Validate(); err != nil {
			return Ranking{}, err
		}
		byMethod[l.Method] = l
	}

	fused := make(map[string]*Entry)
	for _, m := range methods {
		l, ok := byMethod[m]
		if !ok {
			continue
		}
		scale := newScaler(cfg.Normalization, l.Results)
		w := cfg.Weights[m]

		for i, c := range l.Results {
			e := fused[c.DocID]
			if e == nil {
				e = &Entry{DocID: c.DocID, Sources: make(map[string]Source, len(methods))}
				fused[c.DocID] = e
			}
			e.Sources[m] = Source{Rank: i + 1, Score: c.Score}

			if cfg.Strategy == StrategyRRF {
				e.Score += w / float64(cfg.RRFK+i+1)
			} else {
				e.Score += w * scale(c.Score)
			}
		}
	}

	entries := make([]Entry, 0, len(fused))
	for _, e := range fused {
		if cfg.Strategy == StrategyIntersection && len(e.Sources) != len(methods) {
			continue
		}
		entries = append(entries, *e)
	}

	primary := ""
	if len(methods) > 0 {
		primary = methods[0]
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ra, rb := primaryRank(a, primary), primaryRank(b, primary)
		if ra != rb {
			return ra < rb
		}
		return a.DocID < b.DocID
	})

	if len(entries) > cfg.TopK {
		entries = entries[:cfg.TopK]
	}

	return Ranking{QueryID: queryID, Config: cfg.Name, Entries: entries}, nil
}

// FuseRuns fuses every query present in any run. Rankings are returned in
// ascending query ID order.
func FuseRuns(cfg Config, runs []*run.Run) ([]Ranking, error) {
	queries := make(map[string]struct{})
	for _, r := range runs {
		for id := range r.Lists {
			queries[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(queries))
	for id := range queries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Ranking, 0, len(ids))
	for _, id := range ids {
		lists := make([]run.CandidateList, 0, len(runs))
		for _, r := range runs {
			if l, ok := r.Lists[id]; ok {
				lists = append(lists, l)
			}
		}
		ranking, err := Fuse(cfg, id, lists)
		if err != nil {
			return nil, err
		}
		out = append(out, ranking)
	}
	return out, nil
}

func primaryRank(e Entry, method string) int {
	if s, ok := e.Sources[method]; ok {
		return s.Rank
	}
	return math.MaxInt
}

// newScaler returns the per-query score transform of one method's list.
// Min-max maps into [0,1]; a list whose scores are all equal maps to 1.
func newScaler(n Normalization, results []run.CandidateResult) func(float64) float64 {
	if n == NormalizeNone || len(results) == 0 {
		return func(s float64) float64 { return s }
	}

	lo, hi := results[0].Score, results[0].Score
	for _, c := range results[1:] {
		lo = math.Min(lo, c.Score)
		hi = math.Max(hi, c.Score)
	}
	if hi == lo {
		return func(float64) float64 { return 1 }
	}
	span := hi - lo
	return func(s float64) float64 { return (s - lo) / span }
}
