package fusion

import (
	"math"
	"math/rand"
	"reflect"
	"strconv"
	"testing"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/run"
)

func list(t *testing.T, query, method string, docs ...any) run.CandidateList {
	t.Helper()
	var results []run.CandidateResult
	for i := 0; i < len(docs); i += 2 {
		results = append(results, run.CandidateResult{DocID: docs[i].(string), Score: docs[i+1].(float64)})
	}
	l, err := run.NewList(query, method, results)
	if err != nil {
		t.Fatalf("NewList: %v", err)
	}
	return l
}

func cfg(strategy Strategy, weights map[string]float64, topK int) Config {
	return Config{Name: "test", Strategy: strategy, Weights: weights, TopK: topK}
}

func TestFuse_WeightedMinMax(t *testing.T) {
	sparse := list(t, "q1", "sparse", "a", 12.0, "b", 9.0, "c", 6.0)
	dense := list(t, "q1", "dense", "a", 0.9, "b", 0.5, "c", 0.1)

	r, err := Fuse(cfg(StrategyWeighted, map[string]float64{"sparse": 0.5, "dense": 0.5}, 3), "q1", []run.CandidateList{sparse, dense})
	if err != nil {
		t.Fatalf("Fuse() error = %v", err)
	}

	wantIDs := []string{"a", "b", "c"}
	if got := r.DocIDs(); !reflect.DeepEqual(got, wantIDs) {
		t.Fatalf("DocIDs() = %v, want %v", got, wantIDs)
	}

	// a is the max of both lists, c the min of both.
	wantScores := []float64{1.0, 0.5, 0.0}
	for i, e := range r.Entries {
		if math.Abs(e.Score-wantScores[i]) > 1e-12 {
			t.Errorf("%s score = %v, want %v", e.DocID, e.Score, wantScores[i])
		}
	}

	if src := r.Entries[0].Sources["sparse"]; src.Rank != 1 || src.Score != 12.0 {
		t.Errorf("sparse source of a = %+v", src)
	}
	if r.QueryID != "q1" || r.Config != "test" {
		t.Errorf("ranking header = %q/%q", r.QueryID, r.Config)
	}
}

func TestFuse_MissingDocContributesZero(t *testing.T) {
	sparse := list(t, "q", "sparse", "a", 3.0, "b", 1.0)
	dense := list(t, "q", "dense", "c", 0.8, "a", 0.2)

	r, err := Fuse(cfg(StrategyWeighted, map[string]float64{"sparse": 0.7, "dense": 0.3}, 10), "q", []run.CandidateList{sparse, dense})
	if err != nil {
		t.Fatalf("Fuse() error = %v", err)
	}

	// a: 0.7*1 + 0.3*0 = 0.7; c: 0.3*1 = 0.3; b: 0.7*0 = 0.
	want := []string{"a", "c", "b"}
	if got := r.DocIDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("DocIDs() = %v, want %v", got, want)
	}
	if _, ok := r.Entries[1].Sources["sparse"]; ok {
		t.Error("c was not retrieved by sparse")
	}
}

func TestFuse_TieBreakHighestWeightedMethod(t *testing.T) {
	sparse := list(t, "q", "sparse", "x", 1.0, "y", 0.0)
	dense := list(t, "q", "dense", "y", 1.0, "x", 0.0)

	// Equal weights: dense wins the method tie by name, so its order decides.
	r, err := Fuse(cfg(StrategyWeighted, map[string]float64{"sparse": 0.5, "dense": 0.5}, 10), "q", []run.CandidateList{sparse, dense})
	if err != nil {
		t.Fatalf("Fuse() error = %v", err)
	}
	if got := r.DocIDs(); !reflect.DeepEqual(got, []string{"y", "x"}) {
		t.Errorf("equal weights: DocIDs() = %v, want [y x]", got)
	}

	// Normalization none with raw scores chosen to tie: sparse is heavier.
	sparse = list(t, "q", "sparse", "x", 2.0, "y", 1.0)
	dense = list(t, "q", "dense", "y", 3.0, "x", 1.0)
	c := cfg(StrategyWeighted, map[string]float64{"sparse": 2, "dense": 1}, 10)
	c.Normalization = NormalizeNone
	r, err = Fuse(c, "q", []run.CandidateList{sparse, dense})
	if err != nil {
		t.Fatalf("Fuse() error = %v", err)
	}
	// x: 2*2+1*1 = 5, y: 2*1+1*3 = 5; sparse ranks x first.
	if got := r.DocIDs(); !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Errorf("weighted tie: DocIDs() = %v, want [x y]", got)
	}
}

func TestFuse_ResidualTieByDocID(t *testing.T) {
	dense := list(t, "q", "dense", "d1", 5.0)
	sparse := list(t, "q", "sparse", "q", 3.0, "p", 3.0)

	r, err := Fuse(cfg(StrategyWeighted, map[string]float64{"dense": 2, "sparse": 1}, 10), "q", []run.CandidateList{sparse, dense})
	if err != nil {
		t.Fatalf("Fuse() error = %v", err)
	}
	// Constant sparse scores normalize to 1; p and q are absent from dense.
	if got := r.DocIDs(); !reflect.DeepEqual(got, []string{"d1", "p", "q"}) {
		t.Errorf("DocIDs() = %v, want [d1 p q]", got)
	}
	if r.Entries[1].Score != 1 {
		t.Errorf("constant list should normalize to 1, got %v", r.Entries[1].Score)
	}
}

func TestFuse_EdgeCases(t *testing.T) {
	weights := map[string]float64{"sparse": 0.5, "dense": 0.5}

	t.Run("no candidates", func(t *testing.T) {
		r, err := Fuse(cfg(StrategyWeighted, weights, 5), "q", nil)
		if err != nil {
			t.Fatalf("Fuse() error = %v", err)
		}
		if len(r.Entries) != 0 || r.QueryID != "q" {
			t.Errorf("expected empty ranking for q, got %+v", r)
		}
	})

	t.Run("empty lists", func(t *testing.T) {
		r, err := Fuse(cfg(StrategyWeighted, weights, 5), "q", []run.CandidateList{{QueryID: "q", Method: "sparse"}})
		if err != nil || len(r.Entries) != 0 {
			t.Errorf("Fuse() = %+v, %v", r, err)
		}
	})

	t.Run("truncates to top k", func(t *testing.T) {
		sparse := list(t, "q", "sparse", "a", 4.0, "b", 3.0, "c", 2.0, "d", 1.0)
		r, err := Fuse(cfg(StrategyWeighted, weights, 2), "q", []run.CandidateList{sparse})
		if err != nil {
			t.Fatalf("Fuse() error = %v", err)
		}
		if got := r.DocIDs(); !reflect.DeepEqual(got, []string{"a", "b"}) {
			t.Errorf("DocIDs() = %v", got)
		}
	})

	t.Run("unweighted method ignored", func(t *testing.T) {
		sparse := list(t, "q", "sparse", "a", 1.0)
		other := list(t, "q", "splade", "z", 100.0)
		r, err := Fuse(cfg(StrategyWeighted, map[string]float64{"sparse": 1, "splade": 0}, 5), "q", []run.CandidateList{sparse, other})
		if err != nil {
			t.Fatalf("Fuse() error = %v", err)
		}
		if got := r.DocIDs(); !reflect.DeepEqual(got, []string{"a"}) {
			t.Errorf("DocIDs() = %v, want [a]", got)
		}
	})

	t.Run("query mismatch", func(t *testing.T) {
		_, err := Fuse(cfg(StrategyWeighted, weights, 5), "q", []run.CandidateList{list(t, "other", "sparse", "a", 1.0)})
		if !apperrors.IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("duplicate method", func(t *testing.T) {
		a := list(t, "q", "sparse", "a", 1.0)
		_, err := Fuse(cfg(StrategyWeighted, weights, 5), "q", []run.CandidateList{a, a})
		if !apperrors.IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("unordered list", func(t *testing.T) {
		bad := run.CandidateList{QueryID: "q", Method: "sparse", Results: []run.CandidateResult{
			{DocID: "a", Score: 1, Rank: 1}, {DocID: "b", Score: 2, Rank: 2},
		}}
		if _, err := Fuse(cfg(StrategyWeighted, weights, 5), "q", []run.CandidateList{bad}); err == nil {
			t.Error("expected error for list violating order")
		}
	})
}

func TestFuse_RRF(t *testing.T) {
	sparse := list(t, "q", "sparse", "doc1", 10.0, "doc2", 8.0, "doc3", 6.0)
	dense := list(t, "q", "dense", "doc2", 0.95, "doc1", 0.90, "doc4", 0.85)

	c := cfg(StrategyRRF, map[string]float64{"sparse": 0.7, "dense": 0.3}, 10)
	r, err := Fuse(c, "q", []run.CandidateList{sparse, dense})
	if err != nil {
		t.Fatalf("Fuse() error = %v", err)
	}

	if len(r.Entries) != 4 {
		t.Fatalf("expected 4 results, got %d", len(r.Entries))
	}

	want := 0.7/61 + 0.3/62
	if r.Entries[0].DocID != "doc1" || math.Abs(r.Entries[0].Score-want) > 1e-12 {
		t.Errorf("first = %s (%v), want doc1 (%v)", r.Entries[0].DocID, r.Entries[0].Score, want)
	}
	if last := r.Entries[3]; last.DocID != "doc4" {
		t.Errorf("last = %s, want doc4", last.DocID)
	}
}

func TestFuse_Intersection(t *testing.T) {
	sparse := list(t, "q", "sparse", "a", 3.0, "b", 2.0, "c", 1.0)
	dense := list(t, "q", "dense", "c", 0.9, "a", 0.1, "z", 0.05)

	c := cfg(StrategyIntersection, map[string]float64{"sparse": 0.4, "dense": 0.6}, 10)
	c.Normalization = NormalizeNone
	r, err := Fuse(c, "q", []run.CandidateList{sparse, dense})
	if err != nil {
		t.Fatalf("Fuse() error = %v", err)
	}

	// a: 0.4*3 + 0.6*0.1 = 1.26; c: 0.4*1 + 0.6*0.9 = 0.94.
	if got := r.DocIDs(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Fatalf("DocIDs() = %v, want [a c]", got)
	}
	if math.Abs(r.Entries[0].Score-1.26) > 1e-12 {
		t.Errorf("a score = %v, want 1.26", r.Entries[0].Score)
	}

	// A weighted method with no list leaves nothing in common.
	r, err = Fuse(c, "q", []run.CandidateList{sparse})
	if err != nil || len(r.Entries) != 0 {
		t.Errorf("single list intersection = %+v, %v", r, err)
	}
}

func TestFuse_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	weights := map[string]float64{"sparse": 0.3, "dense": 0.5, "splade": 0.2}

	for iter := 0; iter < 200; iter++ {
		var lists []run.CandidateList
		distinct := make(map[string]struct{})
		for _, m := range []string{"sparse", "dense", "splade"} {
			var results []run.CandidateResult
			seen := make(map[string]bool)
			for n := rng.Intn(15); n > 0; n-- {
				id := "d" + strconv.Itoa(rng.Intn(25))
				if seen[id] {
					continue
				}
				seen[id] = true
				distinct[id] = struct{}{}
				results = append(results, run.CandidateResult{DocID: id, Score: float64(rng.Intn(5)) * rng.Float64() * 10})
			}
			l, err := run.NewList("q", m, results)
			if err != nil {
				t.Fatalf("NewList: %v", err)
			}
			lists = append(lists, l)
		}

		for _, strategy := range []Strategy{StrategyWeighted, StrategyRRF, StrategyIntersection} {
			topK := 1 + rng.Intn(12)
			c := cfg(strategy, weights, topK)
			r, err := Fuse(c, "q", lists)
			if err != nil {
				t.Fatalf("Fuse(%s) error = %v", strategy, err)
			}

			if len(r.Entries) > topK || len(r.Entries) > len(distinct) {
				t.Fatalf("%s: %d entries, k=%d, distinct=%d", strategy, len(r.Entries), topK, len(distinct))
			}
			for i := 1; i < len(r.Entries); i++ {
				if r.Entries[i].Score > r.Entries[i-1].Score {
					t.Fatalf("%s: scores increase at %d", strategy, i)
				}
			}
			if strategy == StrategyWeighted {
				for _, e := range r.Entries {
					if e.Score < 0 || e.Score > 1+1e-12 {
						t.Fatalf("weighted score %v outside [0,1]", e.Score)
					}
				}
			}

			// Input order does not matter.
			shuffled := append([]run.CandidateList(nil), lists...)
			rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			again, err := Fuse(c, "q", shuffled)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(r, again) {
				t.Fatalf("%s: result depends on list order", strategy)
			}
		}
	}
}

func TestFuseRuns(t *testing.T) {
	sparse := run.NewRun("sparse")
	sparse.Lists["2"] = list(t, "2", "sparse", "a", 1.0)
	sparse.Lists["1"] = list(t, "1", "sparse", "b", 1.0)
	dense := run.NewRun("dense")
	dense.Lists["3"] = list(t, "3", "dense", "c", 1.0)

	rankings, err := FuseRuns(DefaultConfig(), []*run.Run{sparse, dense})
	if err != nil {
		t.Fatalf("FuseRuns() error = %v", err)
	}
	if len(rankings) != 3 {
		t.Fatalf("got %d rankings, want 3", len(rankings))
	}
	for i, want := range []string{"1", "2", "3"} {
		if rankings[i].QueryID != want {
			t.Errorf("rankings[%d] = %s, want %s", i, rankings[i].QueryID, want)
		}
	}

	l := rankings[0].List()
	if l.Method != "fused" || l.Results[0].Rank != 1 || l.Validate() != nil {
		t.Errorf("List() = %+v", l)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"empty strategy defaults", func(c *Config) { c.Strategy = "" }, false},
		{"zero weight allowed", func(c *Config) { c.Weights["dense"] = 0 }, false},
		{"all zero", func(c *Config) { c.Weights = map[string]float64{"a": 0, "b": 0} }, true},
		{"no weights", func(c *Config) { c.Weights = nil }, true},
		{"negative", func(c *Config) { c.Weights["dense"] = -0.1 }, true},
		{"nan", func(c *Config) { c.Weights["dense"] = math.NaN() }, true},
		{"top k zero", func(c *Config) { c.TopK = 0 }, true},
		{"unknown strategy", func(c *Config) { c.Strategy = "borda" }, true},
		{"unknown normalization", func(c *Config) { c.Normalization = "zscore" }, true},
		{"missing name", func(c *Config) { c.Name = "" }, true},
		{"name with space", func(c *Config) { c.Name = "a b" }, true},
		{"negative rrf k", func(c *Config) { c.RRFK = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !apperrors.IsConfig(err) {
				t.Errorf("expected CONFIG_ERROR, got %v", err)
			}
		})
	}
}

func TestFuse_InvalidConfigFailsFast(t *testing.T) {
	c := cfg(StrategyWeighted, map[string]float64{"sparse": 0}, 5)
	if _, err := Fuse(c, "q", nil); !apperrors.IsConfig(err) {
		t.Errorf("expected CONFIG_ERROR, got %v", err)
	}
}

func TestConfigMethodsAndFingerprint(t *testing.T) {
	c := cfg(StrategyWeighted, map[string]float64{"sparse": 0.5, "dense": 0.5, "bm25": 0.8, "off": 0}, 5)
	if got := c.Methods(); !reflect.DeepEqual(got, []string{"bm25", "dense", "sparse"}) {
		t.Errorf("Methods() = %v", got)
	}

	a := DefaultConfig()
	b := DefaultConfig()
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("equal configs must share a fingerprint")
	}
	b.Weights["dense"] = 0.6
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("changed weight must change the fingerprint")
	}

	// Defaults are part of the effective config.
	implicit := DefaultConfig()
	implicit.Strategy, implicit.Normalization = "", ""
	if implicit.Fingerprint() != a.Fingerprint() {
		t.Error("implicit defaults should fingerprint like explicit ones")
	}
}
