package qdrant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

func point(docID string, num uint64, score float32) *qdrant.ScoredPoint {
	p := &qdrant.ScoredPoint{Id: qdrant.NewIDNum(num), Score: score}
	if docID != "" {
		p.Payload = map[string]*qdrant.Value{PayloadDocID: qdrant.NewValueString(docID)}
	}
	return p
}

func TestBuildQuery(t *testing.T) {
	s := SearchSettings{Collection: "passages", DenseVector: "dense", SparseVector: "bm25", Limit: 50}
	qv := QueryVector{
		QueryID:       "1",
		Dense:         []float32{0.1, 0.2},
		SparseIndices: []uint32{3, 9},
		SparseValues:  []float32{1.5, 0.5},
	}

	dense, err := buildQuery(s, MethodDense, qv)
	if err != nil {
		t.Fatal(err)
	}
	if dense.GetCollectionName() != "passages" || dense.GetUsing() != "dense" || dense.GetLimit() != 50 {
		t.Errorf("dense query = %+v", dense)
	}

	sparse, err := buildQuery(s, MethodSparse, qv)
	if err != nil {
		t.Fatal(err)
	}
	if sparse.GetUsing() != "bm25" {
		t.Errorf("sparse using = %s", sparse.GetUsing())
	}

	if q, err := buildQuery(s, MethodDense, QueryVector{QueryID: "2"}); err != nil || q != nil {
		t.Errorf("query without dense vector = %v, %v", q, err)
	}

	if _, err := buildQuery(s, "colbert", qv); !apperrors.IsValidation(err) {
		t.Errorf("unknown method error = %v", err)
	}
}

func TestPointsToList(t *testing.T) {
	points := []*qdrant.ScoredPoint{
		point("b", 1, 0.9),
		point("a", 2, 0.9),
		point("c", 3, 0.4),
		point("c", 4, 0.7), // second chunk of c scores higher
		point("", 42, 0.1),
	}

	list, err := pointsToList("q1", MethodDense, points)
	if err != nil {
		t.Fatalf("pointsToList() error = %v", err)
	}

	want := []string{"a", "b", "c", "42"}
	if len(list.Results) != len(want) {
		t.Fatalf("got %d results, want %d", len(list.Results), len(want))
	}
	for i, id := range want {
		r := list.Results[i]
		if r.DocID != id || r.Rank != i+1 || r.QueryID != "q1" {
			t.Errorf("result %d = %+v, want doc %s rank %d", i, r, id, i+1)
		}
	}
	if got := list.Results[2].Score; got < 0.69 || got > 0.71 {
		t.Errorf("c score = %v, want best chunk score", got)
	}
	if list.Method != MethodDense {
		t.Errorf("method = %s", list.Method)
	}
}

func TestPointDocID_UUID(t *testing.T) {
	p := &qdrant.ScoredPoint{Id: qdrant.NewID("5c56c793-69f3-4fbf-87e6-c4bf54c28c26")}
	if got := pointDocID(p); got != "5c56c793-69f3-4fbf-87e6-c4bf54c28c26" {
		t.Errorf("pointDocID() = %s", got)
	}
}

type fakeSearcher struct {
	mu      sync.Mutex
	calls   int
	points  map[string][]*qdrant.ScoredPoint
	failFor string
}

func (f *fakeSearcher) query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	dense := req.GetQuery().GetNearest().GetDense().GetData()
	key := "sparse"
	if len(dense) > 0 {
		key = "dense"
	}
	if key == f.failFor {
		return nil, errors.New("connection refused")
	}
	return f.points[key], nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	calls  int
	errors int
}

func (r *fakeRecorder) RecordRetrieval(_ string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if err != nil {
		r.errors++
	}
}

func TestRetriever_Retrieve(t *testing.T) {
	fs := &fakeSearcher{points: map[string][]*qdrant.ScoredPoint{
		"dense": {point("d1", 1, 0.8), point("d2", 2, 0.6)},
	}}
	rec := &fakeRecorder{}
	r := newRetriever(fs, SearchSettings{Collection: "passages", DenseVector: "dense"}, nil, rec)

	vectors := []QueryVector{
		{QueryID: "1", Dense: []float32{1, 0}},
		{QueryID: "2", Dense: []float32{0, 1}},
		{QueryID: "3"}, // no dense vector: empty list, no call
	}

	out, err := r.Retrieve(context.Background(), MethodDense, vectors, 2)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	if out.Method != MethodDense || len(out.Lists) != 3 {
		t.Fatalf("run = %+v", out)
	}
	if got := out.List("1").Results; len(got) != 2 || got[0].DocID != "d1" {
		t.Errorf("query 1 results = %+v", got)
	}
	if got := out.List("3").Results; len(got) != 0 {
		t.Errorf("query 3 results = %+v", got)
	}
	if fs.calls != 2 || rec.calls != 2 {
		t.Errorf("calls = %d, recorded = %d, want 2", fs.calls, rec.calls)
	}
}

func TestRetriever_SearchError(t *testing.T) {
	fs := &fakeSearcher{failFor: "sparse"}
	rec := &fakeRecorder{}
	r := newRetriever(fs, SearchSettings{}, nil, rec)

	_, err := r.Retrieve(context.Background(), MethodSparse, []QueryVector{
		{QueryID: "7", SparseIndices: []uint32{1}, SparseValues: []float32{1}},
	}, 1)
	if err == nil || !strings.Contains(err.Error(), "query 7") {
		t.Errorf("Retrieve() error = %v", err)
	}
	if rec.errors != 1 {
		t.Errorf("recorded errors = %d", rec.errors)
	}
}

func TestReadQueryVectors(t *testing.T) {
	input := `{"query_id":"2","dense":[0.5,0.5]}

{"query_id":"1","sparse_indices":[4,7],"sparse_values":[1.0,2.0]}
`
	vectors, err := ReadQueryVectors(strings.NewReader(input), "vectors.jsonl")
	if err != nil {
		t.Fatalf("ReadQueryVectors() error = %v", err)
	}
	if len(vectors) != 2 || vectors[0].QueryID != "1" || vectors[1].QueryID != "2" {
		t.Fatalf("vectors = %+v", vectors)
	}
	if !vectors[0].HasSparse() || vectors[0].HasDense() || !vectors[1].HasDense() {
		t.Errorf("vector kinds wrong: %+v", vectors)
	}
}

func TestReadQueryVectors_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  string
	}{
		{"malformed", "{\"query_id\":\"1\"}\n{oops\n", "2"},
		{"missing id", `{"dense":[1]}`, "1"},
		{"length mismatch", `{"query_id":"1","sparse_indices":[1,2],"sparse_values":[1]}`, "1"},
		{"duplicate", "{\"query_id\":\"1\"}\n{\"query_id\":\"1\"}\n", "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadQueryVectors(strings.NewReader(tt.input), "v.jsonl")
			var appErr *apperrors.AppError
			if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeParse {
				t.Fatalf("error = %v, want PARSE_ERROR", err)
			}
			if appErr.Details["line"] != tt.line {
				t.Errorf("line = %s, want %s", appErr.Details["line"], tt.line)
			}
		})
	}
}
