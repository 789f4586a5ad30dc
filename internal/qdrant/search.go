package qdrant

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/errgroup"

	"github.com/ricesearch/rice-eval/internal/config"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/run"
)

// Retrieval methods served by a Retriever.
const (
	MethodSparse = "sparse"
	MethodDense  = "dense"
)

// PayloadDocID is the payload field holding the passage ID. Points without it
// fall back to the point ID.
const PayloadDocID = "doc_id"

// Recorder observes each search call.
type Recorder interface {
	RecordRetrieval(method string, d time.Duration, err error)
}

// SearchSettings selects the collection and named vectors to query.
type SearchSettings struct {
	Collection   string
	DenseVector  string
	SparseVector string
	Limit        uint64
}

// SettingsFrom extracts search settings from the application's Qdrant section.
func SettingsFrom(cfg config.QdrantConfig) SearchSettings {
	return SearchSettings{
		Collection:   cfg.Collection,
		DenseVector:  cfg.DenseVector,
		SparseVector: cfg.SparseVector,
		Limit:        uint64(cfg.TopK),
	}
}

// searcher is the part of Client a Retriever needs.
type searcher interface {
	query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// Retriever turns query vectors into candidate runs.
type Retriever struct {
	client   searcher
	settings SearchSettings
	log      *logger.Logger
	rec      Recorder
}

// NewRetriever creates a retriever over client. rec may be nil.
func NewRetriever(client *Client, settings SearchSettings, log *logger.Logger, rec Recorder) *Retriever {
	return newRetriever(client, settings, log, rec)
}

func newRetriever(client searcher, settings SearchSettings, log *logger.Logger, rec Recorder) *Retriever {
	if log == nil {
		log = logger.Discard()
	}
	if settings.Limit == 0 {
		settings.Limit = 100
	}
	return &Retriever{client: client, settings: settings, log: log, rec: rec}
}

// Search retrieves the candidate list of one query for method.
func (r *Retriever) Search(ctx context.Context, method string, qv QueryVector) (run.CandidateList, error) {
	req, err := buildQuery(r.settings, method, qv)
	if err != nil {
		return run.CandidateList{}, err
	}
	if req == nil {
		return run.CandidateList{QueryID: qv.QueryID, Method: method}, nil
	}

	start := time.Now()
	points, err := r.client.query(ctx, req)
	if r.rec != nil {
		r.rec.RecordRetrieval(method, time.Since(start), err)
	}
	if err != nil {
		return run.CandidateList{}, fmt.Errorf("%s search for query %s: %w", method, qv.QueryID, err)
	}

	return pointsToList(qv.QueryID, method, points)
}

// Retrieve runs method for every query vector with at most workers concurrent
// searches and collects the lists into a run.
func (r *Retriever) Retrieve(ctx context.Context, method string, vectors []QueryVector, workers int) (*run.Run, error) {
	if workers <= 0 {
		workers = 1
	}

	out := run.NewRun(method)
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, qv := range vectors {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			list, err := r.Search(ctx, method, qv)
			if err != nil {
				return err
			}
			mu.Lock()
			out.Lists[qv.QueryID] = list
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.log.Info("retrieval complete", "method", method, "queries", len(out.Lists))
	return out, nil
}

// buildQuery builds the Qdrant request for one query. It returns nil when the
// query has no vector for method.
func buildQuery(s SearchSettings, method string, qv QueryVector) (*qdrant.QueryPoints, error) {
	req := &qdrant.QueryPoints{
		CollectionName: s.Collection,
		Limit:          qdrant.PtrOf(s.Limit),
		WithPayload:    qdrant.NewWithPayloadInclude(PayloadDocID),
	}

	switch method {
	case MethodDense:
		if !qv.HasDense() {
			return nil, nil
		}
		req.Query = qdrant.NewQueryDense(qv.Dense)
		req.Using = qdrant.PtrOf(s.DenseVector)
	case MethodSparse:
		if !qv.HasSparse() {
			return nil, nil
		}
		req.Query = qdrant.NewQuerySparse(qv.SparseIndices, qv.SparseValues)
		req.Using = qdrant.PtrOf(s.SparseVector)
	default:
		return nil, apperrors.ValidationError(fmt.Sprintf("unknown retrieval method %q", method))
	}

	return req, nil
}

// pointsToList converts scored points into a normalized candidate list. When
// several points map to the same passage only the best-scoring one is kept.
func pointsToList(queryID, method string, points []*qdrant.ScoredPoint) (run.CandidateList, error) {
	results := make([]run.CandidateResult, 0, len(points))
	seen := make(map[string]int, len(points))

	for _, p := range points {
		docID := pointDocID(p)
		if docID == "" {
			continue
		}
		score := float64(p.GetScore())
		if i, ok := seen[docID]; ok {
			if score > results[i].Score {
				results[i].Score = score
			}
			continue
		}
		seen[docID] = len(results)
		results = append(results, run.CandidateResult{QueryID: queryID, DocID: docID, Score: score})
	}

	return run.NewList(queryID, method, results)
}

// pointDocID returns the passage ID of p.
func pointDocID(p *qdrant.ScoredPoint) string {
	if v, ok := p.GetPayload()[PayloadDocID]; ok {
		if s := v.GetStringValue(); s != "" {
			return s
		}
	}

	switch id := p.GetId().GetPointIdOptions().(type) {
	case *qdrant.PointId_Uuid:
		return id.Uuid
	case *qdrant.PointId_Num:
		return strconv.FormatUint(id.Num, 10)
	}
	return ""
}
