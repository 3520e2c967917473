package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"text-pipeline/internal/auth"
	"text-pipeline/internal/component"
	"text-pipeline/internal/llm"
	"text-pipeline/internal/llm/mock"
	"text-pipeline/internal/pipeline"
	"text-pipeline/internal/task"
)

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *task.MemoryStore) {
	t.Helper()
	store := task.NewMemoryStore()
	svc := task.NewService(store, task.NewMemoryQueue(16), 3)
	srv := httptest.NewServer(NewServer(":0", svc, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func TestCreateAndFetchAnalysis(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/analyses", `{"id":"a-1","content":"社会惰化","mode":"serial"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected status: %d %s", resp.StatusCode, body)
	}
	var created task.Task
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID != "a-1" || created.Status != task.StatusPending || created.Mode != "serial" {
		t.Fatalf("unexpected task: %+v", created)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/analyses/a-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected detail status: %d %s", resp.StatusCode, body)
	}
	var got task.Task
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if got.Content != "社会惰化" {
		t.Fatalf("unexpected content: %q", got.Content)
	}
}

func TestCreateAnalysisValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := map[string]string{
		"missing content": `{"mode":"serial"}`,
		"bad json":        `{"content":`,
		"unknown mode":    `{"content":"x","mode":"batch"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/analyses", payload)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d %s", resp.StatusCode, body)
			}
			var e errorResponse
			if err := json.Unmarshal(body, &e); err != nil || e.Code == "" {
				t.Fatalf("expected coded error body, got %s", body)
			}
		})
	}

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/analyses", `{"content":""}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("empty content is valid input, got %d", resp.StatusCode)
	}
}

func TestAnalysisDetailNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/analyses/missing", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), string(task.CodeTaskNotFound)) {
		t.Fatalf("expected error code in body: %s", body)
	}
}

func TestListAndStatsAnalyses(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	for _, tk := range []*task.Task{
		{ID: "l1", Content: "one", Mode: "serial", Status: task.StatusPending, MaxRetries: 3},
		{ID: "l2", Content: "two", Mode: "parallel", Status: task.StatusPending, MaxRetries: 3},
	} {
		if err := store.Create(ctx, tk); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := store.MarkFailed(ctx, "l2", task.CodeTaskProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/analyses?status=failed&limit=5", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected list status: %d %s", resp.StatusCode, body)
	}
	var list struct {
		Items []task.Task `json:"items"`
		Count int         `json:"count"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 || list.Items[0].ID != "l2" {
		t.Fatalf("unexpected list: %+v", list)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/analyses?status=weird", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/analyses?since=yesterday", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad time, got %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/analyses/stats?mode=serial,parallel", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stats status: %d %s", resp.StatusCode, body)
	}
	var stats task.TaskStats
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 2 || stats.Failed != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestInvokeRunsPipelineSynchronously(t *testing.T) {
	executor := task.NewPipelineExecutor(pipeline.Components{
		Theory: component.NewTheoryExtractor(),
		Tables: component.NewTableExtractor(),
		Report: component.NewReportGenerator(mock.New(mock.WithDelay(0))),
	}, pipeline.ModeParallel)
	srv, _ := newTestServer(t, WithExecutor(executor))

	payload := `{"content":"# 标题\n理论文本\n| a | b |\n|---|---|\n| 1 | 2 |","mode":"serial"}`
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/invoke", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", resp.StatusCode, body)
	}
	var got invokeResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Mode != "serial" || got.Result == nil || got.Result.Report == nil {
		t.Fatalf("unexpected response: %+v", got)
	}
	if got.Result.Tables == nil || len(got.Result.Tables.Content) != 1 || got.Result.Tables.Content[0].Title != "标题" {
		t.Fatalf("unexpected tables: %+v", got.Result.Tables)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/invoke", `{"content":"x"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", resp.StatusCode, body)
	}
	got = invokeResponse{}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Mode != pipeline.ModeParallel || got.Result.Mode != pipeline.ModeParallel {
		t.Fatalf("omitted mode should report the executor default: %+v", got)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/invoke", `{"content":"x","mode":"sideways"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", resp.StatusCode)
	}
}

func TestInvokeMapsErrorCodesToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{llm.StatusError("stub", http.StatusTooManyRequests, "slow down"), http.StatusTooManyRequests},
		{llm.StatusError("stub", http.StatusServiceUnavailable, ""), http.StatusBadGateway},
		{llm.StatusError("stub", http.StatusBadRequest, "bad prompt"), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{task.ErrTaskNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		executor := task.ExecutorFunc(func(context.Context, *task.Task) (*task.Result, error) {
			return nil, tc.err
		})
		srv, _ := newTestServer(t, WithExecutor(executor))
		resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/invoke", `{"content":"x"}`)
		if resp.StatusCode != tc.want {
			t.Fatalf("%v: expected %d, got %d %s", tc.err, tc.want, resp.StatusCode, body)
		}
	}
}

func TestInvokeDisabledWithoutExecutor(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/invoke", `{"content":"x"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"status":"ok"`) {
		t.Fatalf("unexpected health response: %d %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected metrics status: %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `textpipeline_http_requests_total{code="200",handler="/healthz",method="GET"}`) {
		t.Fatalf("expected healthz request to be counted, got:\n%s", body)
	}
}

func TestAnalysesRequireToken(t *testing.T) {
	authSvc, err := auth.NewService(auth.Config{
		Mode: auth.ModeToken,
		Tokens: []auth.TokenConfig{
			{Name: "reader", Token: "r-token", Permissions: []string{auth.PermissionRead}},
			{Name: "writer", Token: "w-token", Permissions: []string{auth.PermissionRead, auth.PermissionWrite}},
		},
	})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	srv, _ := newTestServer(t, WithAuth(authSvc))

	send := func(method, path, token, body string) int {
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do request: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := send(http.MethodGet, "/api/v1/analyses", "", ""); code != http.StatusUnauthorized {
		t.Fatalf("anonymous list: %d", code)
	}
	if code := send(http.MethodPost, "/api/v1/analyses", "r-token", `{"content":"x"}`); code != http.StatusForbidden {
		t.Fatalf("reader submit: %d", code)
	}
	if code := send(http.MethodPost, "/api/v1/analyses", "w-token", `{"id":"auth-1","content":"x"}`); code != http.StatusAccepted {
		t.Fatalf("writer submit: %d", code)
	}
	if code := send(http.MethodGet, "/api/v1/analyses/auth-1", "r-token", ""); code != http.StatusOK {
		t.Fatalf("reader detail: %d", code)
	}
	if code := send(http.MethodPost, "/api/v1/invoke", "w-token", `{"content":"x"}`); code != http.StatusForbidden {
		t.Fatalf("invoke without permission: %d", code)
	}
	if code := send(http.MethodGet, "/healthz", "", ""); code != http.StatusOK {
		t.Fatalf("healthz should stay public: %d", code)
	}
}
