package pipeline

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ricesearch/rice-eval/internal/fusion"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/report"
)

func newTestRouter(t *testing.T) (*chi.Mux, *Pipeline) {
	t.Helper()
	p := newFixture(t, Deps{Reports: report.NewMemoryStore(0)})
	r := chi.NewRouter()
	NewHandler(p, 1<<20, "test").RegisterRoutes(r)
	return r, p
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.ErrorResponse {
	t.Helper()
	var resp apperrors.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

func TestHandleHealth(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := do(r, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.Judged != 2 || len(resp.Runs) != 2 || resp.Runs[0] != "dense" {
		t.Errorf("health = %+v", resp)
	}
}

func TestHandleJudgments(t *testing.T) {
	r, p := newTestRouter(t)

	rec := do(r, "POST", "/v1/judgments", `{"judgments":[{"query_id":"x","doc_id":"a","relevance":1,"quality":0}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	if got := p.Judgments().Queries(); len(got) != 1 || got[0] != "x" {
		t.Errorf("store not replaced: %v", got)
	}

	rec = do(r, "POST", "/v1/judgments", `{"relevance_qrels":"y 0 a 2\ny 0 b 1\n"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("qrels status = %d body = %s", rec.Code, rec.Body)
	}
	if label, ok := p.Judgments().Label("relevance", "y", "a"); !ok || label != 2 {
		t.Errorf("label = %d, %v", label, ok)
	}
}

func TestHandleJudgments_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"judgments":`, apperrors.CodeInvalidRequest},
		{"empty", `{}`, apperrors.CodeInvalidRequest},
		{"duplicate", `{"judgments":[{"query_id":"x","doc_id":"a"},{"query_id":"x","doc_id":"a"}]}`, apperrors.CodeValidation},
		{"bad qrels", `{"relevance_qrels":"y 0 a high\n"}`, apperrors.CodeParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, p := newTestRouter(t)
			before := p.Judgments()

			rec := do(r, "POST", "/v1/judgments", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			if resp := decodeError(t, rec); resp.Code != tt.code {
				t.Errorf("code = %s, want %s", resp.Code, tt.code)
			}
			if p.Judgments() != before {
				t.Error("failed load replaced the store")
			}
		})
	}
}

func TestHandleRun(t *testing.T) {
	r, p := newTestRouter(t)

	rec := do(r, "POST", "/v1/runs/colbert", "q1 Q0 d5 1 9.5 anything\nq1 Q0 d6 2 8.0 anything\n")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	if len(p.Runs()) != 3 {
		t.Errorf("runs = %d, want 3", len(p.Runs()))
	}

	rec = do(r, "POST", "/v1/runs/colbert", "q1 Q0 d5\n")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed run status = %d", rec.Code)
	}
}

func TestHandleFuse(t *testing.T) {
	r, _ := newTestRouter(t)

	body := `{
		"query_id": "q1",
		"config": {"name": "adhoc", "weights": {"sparse": 0.5, "dense": 0.5}, "top_k": 2},
		"lists": [
			{"method": "sparse", "results": [{"doc_id": "d3", "score": 1}, {"doc_id": "d1", "score": 3}, {"doc_id": "d2", "score": 2}]},
			{"method": "dense", "results": [{"doc_id": "d1", "score": 0.9}, {"doc_id": "d2", "score": 0.8}, {"doc_id": "d3", "score": 0.1}]}
		]
	}`

	rec := do(r, "POST", "/v1/fuse", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}

	var ranking fusion.Ranking
	if err := json.NewDecoder(rec.Body).Decode(&ranking); err != nil {
		t.Fatal(err)
	}
	if ranking.Config != "adhoc" || len(ranking.Entries) != 2 || ranking.Entries[0].DocID != "d1" || ranking.Entries[1].DocID != "d2" {
		t.Errorf("ranking = %+v", ranking)
	}
}

func TestHandleFuse_Errors(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"no query", `{"lists":[]}`, http.StatusBadRequest, apperrors.CodeInvalidRequest},
		{"unknown config", `{"query_id":"q","config_name":"nope"}`, http.StatusNotFound, apperrors.CodeNotFound},
		{"zero weights", `{"query_id":"q","config":{"name":"z","weights":{"sparse":0},"top_k":3}}`, http.StatusBadRequest, apperrors.CodeConfig},
		{"duplicate doc", `{"query_id":"q","lists":[{"method":"sparse","results":[{"doc_id":"a","score":1},{"doc_id":"a","score":2}]}]}`, http.StatusBadRequest, apperrors.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(r, "POST", "/v1/fuse", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
			if resp := decodeError(t, rec); resp.Code != tt.code {
				t.Errorf("code = %s, want %s", resp.Code, tt.code)
			}
		})
	}
}

func TestHandleEvaluateAndReports(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := do(r, "GET", "/v1/reports/fused", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("report before evaluation status = %d", rec.Code)
	}

	rec = do(r, "POST", "/v1/evaluate", `{"configs":["fused","sparse"],"inline":[{"name":"rrf","strategy":"rrf","weights":{"sparse":1,"dense":1}}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("evaluate status = %d body = %s", rec.Code, rec.Body)
	}

	var resp EvaluateResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Reports) != 3 || len(resp.Comparison) != 3 || resp.Metric != "ndcg@3" {
		t.Fatalf("evaluate response = %+v", resp)
	}

	rec = do(r, "GET", "/v1/reports/fused", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d", rec.Code)
	}
	var latest report.Summary
	if err := json.NewDecoder(rec.Body).Decode(&latest); err != nil {
		t.Fatal(err)
	}
	if latest.Config != "fused" || len(latest.Metrics) == 0 {
		t.Errorf("latest = %+v", latest)
	}

	rec = do(r, "GET", "/v1/reports/fused?since=2000-01-01T00:00:00Z", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"reports"`) {
		t.Errorf("history status = %d body = %s", rec.Code, rec.Body)
	}

	rec = do(r, "GET", "/v1/reports/fused?since=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d", rec.Code)
	}

	rec = do(r, "GET", "/v1/reports", "")
	if !strings.Contains(rec.Body.String(), "rrf") {
		t.Errorf("configs = %s", rec.Body)
	}
}

func TestHandleEvaluate_Errors(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"unknown config", `{"configs":["nope"]}`, http.StatusNotFound},
		{"duplicate", `{"configs":["fused"],"inline":[{"name":"fused","weights":{"dense":1}}]}`, http.StatusBadRequest},
		{"invalid inline", `{"inline":[{"name":"x","weights":{"dense":-1}}]}`, http.StatusBadRequest},
		{"invalid options", `{"options":{"ks":[0],"grade":"relevance","threshold":1}}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(r, "POST", "/v1/evaluate", tt.body); rec.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
		})
	}
}

func TestHandler_BodyLimit(t *testing.T) {
	p := newFixture(t, Deps{})
	r := chi.NewRouter()
	NewHandler(p, 16, "").RegisterRoutes(r)

	rec := do(r, "POST", "/v1/judgments", `{"judgments":[{"query_id":"x","doc_id":"a"}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
