// Package evaluation computes ranking metrics for fused rankings against relevance judgments.
package evaluation

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ricesearch/rice-eval/internal/fusion"
	"github.com/ricesearch/rice-eval/internal/judgment"
)

// Evaluator scores rankings against one judgment store.
type Evaluator struct {
	store *judgment.Store
	opts  Options
}

// NewEvaluator creates an evaluator. Options are validated up front.
func NewEvaluator(store *judgment.Store, opts Options) (*Evaluator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{store: store, opts: opts}, nil
}

// Options returns the evaluator's options.
func (e *Evaluator) Options() Options {
	return e.opts
}

// EvaluateRanking computes every configured metric for one ranking.
// A query without judgments yields unscored entries rather than an error.
func (e *Evaluator) EvaluateRanking(r fusion.Ranking) []MetricResult {
	names := e.opts.Names()
	out := make([]MetricResult, 0, len(names))

	if !e.store.Has(e.opts.Grade, r.QueryID) {
		for _, name := range names {
			out = append(out, MetricResult{QueryID: r.QueryID, Metric: name})
		}
		return out
	}

	grades := e.store.Labels(e.opts.Grade, r.QueryID, r.DocIDs())
	judged := e.store.Grades(e.opts.Grade, r.QueryID)
	totalRelevant := CountAtLeast(judged, e.opts.Threshold)
	g, th := e.opts.Grade, e.opts.Threshold

	add := func(name string, v float64) {
		out = append(out, MetricResult{QueryID: r.QueryID, Metric: name, Value: v, Scored: true})
	}

	for _, k := range e.opts.Ks {
		add(MetricName(MetricNDCG, k, g), NDCG(grades, judged, k))
		add(MetricName(MetricPrecision, k, g), Precision(grades, k, th))
		add(MetricName(MetricRecall, k, g), Recall(grades, k, th, totalRelevant))
	}
	add(MetricName(MetricMRR, 0, g), ReciprocalRank(grades, th))
	add(MetricName(MetricAP, 0, g), AveragePrecision(grades, th, totalRelevant))

	return out
}

// EvaluateAll evaluates rankings on up to workers goroutines. Results keep the
// input order of rankings. Cancellation is checked between queries.
func (e *Evaluator) EvaluateAll(ctx context.Context, rankings []fusion.Ranking, workers int) ([]MetricResult, error) {
	perQuery := make([][]MetricResult, len(rankings))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := range rankings {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			perQuery[i] = e.EvaluateRanking(rankings[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []MetricResult
	for _, rs := range perQuery {
		out = append(out, rs...)
	}
	return out, nil
}
