// Package pipeline runs fusion, evaluation and reporting for a set of fusion
// configurations over shared candidate runs and judgments.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/evaluation"
	"github.com/ricesearch/rice-eval/internal/fusion"
	"github.com/ricesearch/rice-eval/internal/judgment"
	"github.com/ricesearch/rice-eval/internal/metrics"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/report"
	"github.com/ricesearch/rice-eval/internal/run"
)

// Source identifies events published by the pipeline.
const Source = "rice-eval"

// Deps are the services a Pipeline reports to. Every field is optional.
type Deps struct {
	Log     *logger.Logger
	Bus     bus.Bus
	Metrics *metrics.Metrics
	Reports report.Store
	Now     func() time.Time
}

// Result is the outcome of evaluating one fusion configuration.
type Result struct {
	RunID    string                    `json:"run_id"`
	Config   fusion.Config             `json:"config"`
	Rankings []fusion.Ranking          `json:"-"`
	Results  []evaluation.MetricResult `json:"-"`
	Summary  *report.Summary           `json:"summary"`
}

// Pipeline holds everything one evaluation needs: configuration, judgments,
// candidate runs and the services results are reported to. Judgments and runs
// can be replaced while evaluations are in flight; an evaluation works on the
// snapshot it started with.
type Pipeline struct {
	cfg  *config.Config
	opts evaluation.Options
	deps Deps

	judgments atomic.Pointer[judgment.Store]

	mu     sync.RWMutex
	runs   map[string]*run.Run
	topics []string
}

// OptionsFrom converts the eval section of the configuration into evaluator options.
func OptionsFrom(cfg config.EvalConfig) evaluation.Options {
	return evaluation.Options{
		Ks:        append([]int(nil), cfg.Ks...),
		Grade:     judgment.Grade(cfg.Grade),
		Threshold: cfg.Threshold,
	}
}

// New creates a pipeline. A nil store starts with no judgments, so every
// query is unscored until judgments are set.
func New(cfg *config.Config, store *judgment.Store, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	opts := OptionsFrom(cfg.Eval)
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if deps.Log == nil {
		deps.Log = logger.Discard()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if store == nil {
		store, _ = judgment.NewStore(nil)
	}

	p := &Pipeline{
		cfg:  cfg,
		opts: opts,
		deps: deps,
		runs: make(map[string]*run.Run),
	}
	p.judgments.Store(store)
	return p, nil
}

// Config returns the pipeline's configuration.
func (p *Pipeline) Config() *config.Config {
	return p.cfg
}

// Options returns the default evaluator options.
func (p *Pipeline) Options() evaluation.Options {
	return p.opts
}

// Judgments returns the current judgment store.
func (p *Pipeline) Judgments() *judgment.Store {
	return p.judgments.Load()
}

// SetJudgments atomically replaces the judgment store.
func (p *Pipeline) SetJudgments(s *judgment.Store) {
	p.judgments.Store(s)
	p.deps.Log.Info("judgments replaced", "queries", len(s.Queries()), "judgments", s.Len())
}

// AddRun registers r, replacing any run of the same method.
func (p *Pipeline) AddRun(r *run.Run) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs[r.Method] = r
}

// Runs returns the registered runs ordered by method.
func (p *Pipeline) Runs() []*run.Run {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.runsLocked()
}

// SetTopics sets the query IDs that must be evaluated even when no method
// retrieved anything for them.
func (p *Pipeline) SetTopics(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append([]string(nil), ids...)
}

// QueryIDs returns the union of topic IDs, queries present in any run and
// judged queries, ascending. Judged queries without candidates are included
// so they count against the mean instead of silently dropping out.
func (p *Pipeline) QueryIDs() []string {
	return p.snapshot().queryIDs
}

func (p *Pipeline) runsLocked() []*run.Run {
	out := make([]*run.Run, 0, len(p.runs))
	for _, r := range p.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out
}

// snapshot is the state one evaluation works on. The query set is derived
// from the same judgment store that scores it.
type snapshot struct {
	runs      []*run.Run
	queryIDs  []string
	judgments *judgment.Store
}

func (p *Pipeline) snapshot() snapshot {
	store := p.Judgments()

	p.mu.RLock()
	defer p.mu.RUnlock()
	runs := p.runsLocked()
	return snapshot{runs: runs, queryIDs: queryUnion(p.topics, runs, store), judgments: store}
}

func queryUnion(topics []string, runs []*run.Run, store *judgment.Store) []string {
	seen := make(map[string]struct{})
	for _, id := range topics {
		seen[id] = struct{}{}
	}
	for _, r := range runs {
		for id := range r.Lists {
			seen[id] = struct{}{}
		}
	}
	for _, id := range store.Queries() {
		seen[id] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Pipeline) workers() int {
	if p.cfg.Eval.Workers > 0 {
		return p.cfg.Eval.Workers
	}
	return 1
}

// Fuse fuses every query under fc. Rankings are ordered by query ID.
func (p *Pipeline) Fuse(ctx context.Context, fc fusion.Config) ([]fusion.Ranking, error) {
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	snap := p.snapshot()
	return FuseQueries(ctx, fc, snap.runs, snap.queryIDs, p.workers())
}

// FuseQueries fuses queryIDs over runs with at most workers queries in flight.
// Each worker writes only its own slot, so the output order is the order of queryIDs.
func FuseQueries(ctx context.Context, fc fusion.Config, runs []*run.Run, queryIDs []string, workers int) ([]fusion.Ranking, error) {
	rankings := make([]fusion.Ranking, len(queryIDs))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, qid := range queryIDs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			lists := make([]run.CandidateList, 0, len(runs))
			for _, r := range runs {
				lists = append(lists, r.List(qid))
			}
			ranking, err := fusion.Fuse(fc, qid, lists)
			if err != nil {
				return fmt.Errorf("fusing query %s: %w", qid, err)
			}
			rankings[i] = ranking
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rankings, nil
}

// Evaluate fuses, scores and summarizes one configuration with the default
// options, then publishes the report.
func (p *Pipeline) Evaluate(ctx context.Context, fc fusion.Config) (*Result, error) {
	return p.EvaluateWith(ctx, fc, p.opts)
}

// EvaluateWith is Evaluate with explicit evaluator options.
func (p *Pipeline) EvaluateWith(ctx context.Context, fc fusion.Config, opts evaluation.Options) (*Result, error) {
	res, err := p.evaluate(ctx, fc, opts, p.snapshot())
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordRun(fc.Name, err)
	}
	return res, err
}

func (p *Pipeline) evaluate(ctx context.Context, fc fusion.Config, opts evaluation.Options, snap snapshot) (*Result, error) {
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	evaluator, err := evaluation.NewEvaluator(snap.judgments, opts)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := p.deps.Log.WithConfig(fc.Name).WithRun(runID)

	start := time.Now()
	rankings, err := FuseQueries(ctx, fc, snap.runs, snap.queryIDs, p.workers())
	if err != nil {
		return nil, err
	}
	fuseTime := time.Since(start)

	start = time.Now()
	results, err := evaluator.EvaluateAll(ctx, rankings, p.workers())
	if err != nil {
		return nil, err
	}
	evalTime := time.Since(start)

	summary, err := report.Summarize(fc.Name, results)
	if err != nil {
		return nil, err
	}
	summary.ID = runID
	summary.Fingerprint = fc.Fingerprint()
	summary.CreatedAt = p.deps.Now().UTC()

	res := &Result{RunID: runID, Config: fc, Rankings: rankings, Results: results, Summary: summary}

	scored, unscored := queryCounts(summary)
	if unscored > 0 && len(summary.Metrics) > 0 {
		for _, q := range summary.Metrics[0].Queries {
			if !q.Scored {
				log.WithQuery(q.QueryID).Debug("query has no judgments")
			}
		}
	}
	log.Info("configuration evaluated",
		"queries", len(rankings),
		"scored", scored,
		"unscored", unscored,
		"fuse_ms", fuseTime.Milliseconds(),
		"eval_ms", evalTime.Milliseconds(),
	)

	if m := p.deps.Metrics; m != nil {
		m.ObserveFusion(fc.Name, fuseTime)
		m.ObserveEvaluation(fc.Name, evalTime)
		m.RecordQueries(fc.Name, scored, unscored)
		for _, ms := range summary.Metrics {
			m.SetMetricMean(fc.Name, ms.Metric, ms.Mean)
		}
	}

	// Saved before publishing so report ingestion finds the summary already stored.
	var saveErr error
	if p.deps.Reports != nil {
		if err := p.deps.Reports.Save(ctx, summary); err != nil {
			saveErr = apperrors.StorageError("saving report", err)
		}
	}

	p.publish(ctx, log, bus.TopicRankingsFused, runID, newRankingsFused(runID, fc.Name, rankings))
	p.publish(ctx, log, bus.TopicReportCompleted, runID, newReportCompleted(summary))

	if saveErr != nil {
		return res, saveErr
	}
	return res, nil
}

// EvaluateAll evaluates each configuration in turn. Every configuration is
// validated before any query is processed.
func (p *Pipeline) EvaluateAll(ctx context.Context, configs []fusion.Config) ([]*Result, error) {
	seen := make(map[string]struct{}, len(configs))
	for _, fc := range configs {
		if err := fc.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[fc.Name]; dup {
			return nil, apperrors.ConfigError(fmt.Sprintf("duplicate fusion config %q", fc.Name))
		}
		seen[fc.Name] = struct{}{}
	}

	out := make([]*Result, 0, len(configs))
	for _, fc := range configs {
		res, err := p.Evaluate(ctx, fc)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", fc.Name, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// Compare lines up the summaries of results on one metric.
func Compare(results []*Result, metric string) []report.ComparisonRow {
	summaries := make([]*report.Summary, len(results))
	for i, r := range results {
		summaries[i] = r.Summary
	}
	return report.Compare(summaries, metric)
}

// queryCounts reads the scored/unscored query counts from any metric; every
// metric of a summary covers the same queries.
func queryCounts(s *report.Summary) (int, int) {
	if len(s.Metrics) == 0 {
		return 0, 0
	}
	return s.Metrics[0].Scored, s.Metrics[0].Unscored
}

func (p *Pipeline) publish(ctx context.Context, log *logger.Logger, topic, runID string, payload any) {
	if p.deps.Bus == nil {
		return
	}
	event, err := bus.NewEvent(topic, Source, runID, payload)
	if err == nil {
		err = p.deps.Bus.Publish(ctx, topic, event)
	}
	if err != nil {
		log.WithError(err).Warn("event publish failed", "topic", topic)
	}
}
