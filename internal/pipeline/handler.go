package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/ricesearch/rice-eval/internal/evaluation"
	"github.com/ricesearch/rice-eval/internal/fusion"
	"github.com/ricesearch/rice-eval/internal/judgment"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/report"
	"github.com/ricesearch/rice-eval/internal/run"
)

// Handler serves the pipeline over HTTP.
type Handler struct {
	p       *Pipeline
	maxBody int64
	version string
}

// NewHandler creates a handler for p. maxBody caps request bodies in bytes.
func NewHandler(p *Pipeline, maxBody int64, version string) *Handler {
	if maxBody <= 0 {
		maxBody = 64 << 20
	}
	return &Handler{p: p, maxBody: maxBody, version: version}
}

// RegisterRoutes mounts the health check and the API on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealth)
	h.RegisterAPI(r)
}

// RegisterAPI mounts the /v1 endpoints on r.
func (h *Handler) RegisterAPI(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/judgments", h.HandleJudgments)
		r.Post("/runs/{method}", h.HandleRun)
		r.Post("/fuse", h.HandleFuse)
		r.Post("/evaluate", h.HandleEvaluate)
		r.Get("/reports", h.HandleReportConfigs)
		r.Get("/reports/{config}", h.HandleReport)
	})
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status    string   `json:"status"`
	Version   string   `json:"version,omitempty"`
	Judged    int      `json:"judged_queries"`
	Runs      []string `json:"runs"`
	Configs   []string `json:"configs"`
	Timestamp string   `json:"timestamp"`
}

// JudgmentsRequest replaces the judgment store. Either Judgments (both grades
// per pair) or Relevance/Quality qrels text may be given.
type JudgmentsRequest struct {
	Judgments []judgment.RelevanceJudgment `json:"judgments,omitempty"`
	Relevance string                       `json:"relevance_qrels,omitempty"`
	Quality   string                       `json:"quality_qrels,omitempty"`
}

// FuseRequest fuses the posted lists of one query. Config defaults to the
// configured fusion config named ConfigName, or fusion.DefaultConfig.
type FuseRequest struct {
	QueryID    string              `json:"query_id"`
	ConfigName string              `json:"config_name,omitempty"`
	Config     *fusion.Config      `json:"config,omitempty"`
	Lists      []run.CandidateList `json:"lists"`
}

// EvaluateRequest evaluates configured and inline fusion configs over the
// registered runs. With neither given, every configured config is evaluated.
type EvaluateRequest struct {
	Configs []string            `json:"configs,omitempty"`
	Inline  []fusion.Config     `json:"inline,omitempty"`
	Options *evaluation.Options `json:"options,omitempty"`
	Metric  string              `json:"metric,omitempty"`
}

// EvaluateResponse carries one report per config and their comparison.
type EvaluateResponse struct {
	Reports    []*report.Summary      `json:"reports"`
	Metric     string                 `json:"metric"`
	Comparison []report.ComparisonRow `json:"comparison"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeBody decodes a size-limited JSON body into v.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, h.maxBody)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.New(apperrors.CodeInvalidRequest, fmt.Sprintf("request body exceeds %d bytes", h.maxBody))
		}
		return apperrors.InvalidRequestError("reading request body")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.InvalidRequestError("invalid request body: " + err.Error())
	}
	return nil
}

// HandleHealth handles GET /healthz.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	runs := h.p.Runs()
	methods := make([]string, len(runs))
	for i, rn := range runs {
		methods[i] = rn.Method
	}
	configs := make([]string, 0, len(h.p.cfg.Fusion.Configs))
	for _, fc := range h.p.cfg.Fusion.Configs {
		configs = append(configs, fc.Name)
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Judged:    len(h.p.Judgments().Queries()),
		Runs:      methods,
		Configs:   configs,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleJudgments handles POST /v1/judgments. The new store replaces the old
// one only when it loads completely.
func (h *Handler) HandleJudgments(w http.ResponseWriter, r *http.Request) {
	var req JudgmentsRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		apperrors.WriteError(w, err)
		return
	}

	store, err := req.store()
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	h.p.SetJudgments(store)
	writeJSON(w, http.StatusOK, map[string]int{
		"queries":   len(store.Queries()),
		"judgments": store.Len(),
	})
}

func (req JudgmentsRequest) store() (*judgment.Store, error) {
	hasQrels := req.Relevance != "" || req.Quality != ""
	switch {
	case len(req.Judgments) > 0 && hasQrels:
		return nil, apperrors.InvalidRequestError("give either judgments or qrels, not both")
	case len(req.Judgments) > 0:
		return judgment.NewStore(req.Judgments)
	case hasQrels:
		rel, err := judgment.ReadQrels(strings.NewReader(req.Relevance), "relevance_qrels")
		if err != nil {
			return nil, err
		}
		qual, err := judgment.ReadQrels(strings.NewReader(req.Quality), "quality_qrels")
		if err != nil {
			return nil, err
		}
		return judgment.FromQrels(rel, qual)
	}
	return nil, apperrors.InvalidRequestError("no judgments given")
}

// HandleRun handles POST /v1/runs/{method}. The body is a TREC run file.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	method := chi.URLParam(r, "method")
	if method == "" {
		apperrors.WriteError(w, apperrors.InvalidRequestError("method is required"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		apperrors.WriteError(w, apperrors.InvalidRequestError("reading request body"))
		return
	}

	rn, err := run.ReadTREC(bytes.NewReader(body), "request body", run.ReadOptions{
		Method: method,
		Depth:  h.p.cfg.Eval.RunDepth,
	})
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	h.p.AddRun(rn)
	writeJSON(w, http.StatusOK, map[string]any{
		"method":  rn.Method,
		"queries": len(rn.Lists),
	})
}

// HandleFuse handles POST /v1/fuse.
func (h *Handler) HandleFuse(w http.ResponseWriter, r *http.Request) {
	var req FuseRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		apperrors.WriteError(w, err)
		return
	}

	cfg := fusion.DefaultConfig()
	switch {
	case req.Config != nil:
		cfg = *req.Config
	case req.ConfigName != "":
		named, ok := h.p.cfg.FusionConfig(req.ConfigName)
		if !ok {
			apperrors.WriteError(w, apperrors.NotFoundError("fusion config "+req.ConfigName))
			return
		}
		cfg = named
	}

	queryID := req.QueryID
	if queryID == "" && len(req.Lists) > 0 {
		queryID = req.Lists[0].QueryID
	}
	if queryID == "" {
		apperrors.WriteError(w, apperrors.InvalidRequestError("query_id is required"))
		return
	}

	// Posted lists need not be sorted or ranked.
	for i, l := range req.Lists {
		if l.QueryID == "" {
			l.QueryID = queryID
		}
		list, err := run.NewList(l.QueryID, l.Method, l.Results)
		if err != nil {
			apperrors.WriteError(w, err)
			return
		}
		req.Lists[i] = list
	}

	ranking, err := fusion.Fuse(cfg, queryID, req.Lists)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ranking)
}

// HandleEvaluate handles POST /v1/evaluate.
func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		apperrors.WriteError(w, err)
		return
	}

	configs, err := h.selectConfigs(req)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	opts := h.p.Options()
	if req.Options != nil {
		opts = *req.Options
	}
	if err := opts.Validate(); err != nil {
		apperrors.WriteError(w, err)
		return
	}

	results := make([]*Result, 0, len(configs))
	for _, fc := range configs {
		if err := fc.Validate(); err != nil {
			apperrors.WriteError(w, err)
			return
		}
	}
	for _, fc := range configs {
		res, err := h.p.EvaluateWith(r.Context(), fc, opts)
		if err != nil {
			apperrors.WriteError(w, err)
			return
		}
		results = append(results, res)
	}

	metric := req.Metric
	if metric == "" {
		metric = evaluation.MetricName(evaluation.MetricNDCG, opts.Ks[len(opts.Ks)-1], opts.Grade)
	}

	resp := EvaluateResponse{Metric: metric, Comparison: Compare(results, metric)}
	for _, res := range results {
		resp.Reports = append(resp.Reports, res.Summary)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) selectConfigs(req EvaluateRequest) ([]fusion.Config, error) {
	if len(req.Configs) == 0 && len(req.Inline) == 0 {
		return h.p.cfg.Fusion.Configs, nil
	}

	out := make([]fusion.Config, 0, len(req.Configs)+len(req.Inline))
	seen := make(map[string]struct{})
	add := func(fc fusion.Config) error {
		if _, dup := seen[fc.Name]; dup {
			return apperrors.InvalidRequestError(fmt.Sprintf("config %q requested twice", fc.Name))
		}
		seen[fc.Name] = struct{}{}
		out = append(out, fc)
		return nil
	}

	for _, name := range req.Configs {
		fc, ok := h.p.cfg.FusionConfig(name)
		if !ok {
			return nil, apperrors.NotFoundError("fusion config " + name)
		}
		if err := add(fc); err != nil {
			return nil, err
		}
	}
	for _, fc := range req.Inline {
		if fc.TopK == 0 {
			fc.TopK = h.p.cfg.Eval.TopK
		}
		if err := add(fc); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// HandleReportConfigs handles GET /v1/reports.
func (h *Handler) HandleReportConfigs(w http.ResponseWriter, r *http.Request) {
	store := h.p.deps.Reports
	if store == nil {
		apperrors.WriteError(w, apperrors.ServiceUnavailableError("report store"))
		return
	}

	configs, err := store.Configs(r.Context())
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"configs": configs})
}

// HandleReport handles GET /v1/reports/{config}. With ?since=<RFC3339> it
// returns the history since then instead of the latest report.
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	store := h.p.deps.Reports
	if store == nil {
		apperrors.WriteError(w, apperrors.ServiceUnavailableError("report store"))
		return
	}

	name := chi.URLParam(r, "config")
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			apperrors.WriteError(w, apperrors.InvalidRequestError("since must be RFC3339"))
			return
		}
		history, err := store.History(r.Context(), name, t)
		if err != nil {
			apperrors.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"config": name, "reports": history})
		return
	}

	latest, err := store.Latest(r.Context(), name)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}
