// Package textpipeline 是分析服务 REST API 的 Go 客户端。
package textpipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout 是未传入 http.Client 时使用的超时。
const DefaultHTTPTimeout = 15 * time.Second

// 任务状态。
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client 封装与分析服务的 HTTP 交互。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Submission 是提交分析或同步执行时的请求体。
type Submission struct {
	ID       string         `json:"id,omitempty"`
	Content  string         `json:"content"`
	Mode     string         `json:"mode,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Section 是单个步骤的结果，Content 的结构随步骤类型变化。
type Section struct {
	Type     string          `json:"type"`
	Content  json.RawMessage `json:"content"`
	Status   string          `json:"status"`
	Summary  string          `json:"summary"`
	Metadata map[string]int  `json:"metadata"`
}

// Result 汇总三个步骤的输出。
type Result struct {
	Theory         *Section `json:"theory"`
	Tables         *Section `json:"tables"`
	Report         *Section `json:"report"`
	DurationMillis int64    `json:"duration_ms"`
	Mode           string   `json:"mode,omitempty"`
}

// ReportText 返回报告正文。
func (r *Result) ReportText() string {
	if r == nil || r.Report == nil {
		return ""
	}
	var text string
	if err := json.Unmarshal(r.Report.Content, &text); err != nil {
		return ""
	}
	return text
}

// Analysis 是服务端保存的分析任务。
type Analysis struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Mode       string         `json:"mode"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Status     string         `json:"status"`
	Attempts   int            `json:"attempts"`
	MaxRetries int            `json:"max_retries"`
	LastError  string         `json:"last_error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Result     *Result        `json:"result,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// Terminal 表示任务不会再变化。
func (a Analysis) Terminal() bool {
	return a.Status == StatusSucceeded || a.Status == StatusFailed
}

// Stats 是任务统计。
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// InvokeResult 是同步执行的返回。
type InvokeResult struct {
	Mode   string  `json:"mode"`
	Result *Result `json:"result"`
}

// ListQuery 对应列表与统计接口的查询参数，零值字段不发送。
type ListQuery struct {
	Limit     int
	Offset    int
	Statuses  []string
	Modes     []string
	HasResult *bool
	Since     time.Time
	Until     time.Time
	Ascending bool
	Query     string
}

func (q ListQuery) values() url.Values {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if len(q.Statuses) > 0 {
		v.Set("status", strings.Join(q.Statuses, ","))
	}
	if len(q.Modes) > 0 {
		v.Set("mode", strings.Join(q.Modes, ","))
	}
	if q.HasResult != nil {
		v.Set("has_result", strconv.FormatBool(*q.HasResult))
	}
	if !q.Since.IsZero() {
		v.Set("since", strconv.FormatInt(q.Since.Unix(), 10))
	}
	if !q.Until.IsZero() {
		v.Set("until", strconv.FormatInt(q.Until.Unix(), 10))
	}
	if q.Ascending {
		v.Set("order", "asc")
	}
	if q.Query != "" {
		v.Set("q", q.Query)
	}
	return v
}

// APIError 是服务端返回的错误。
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("textpipeline api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("textpipeline api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient 创建客户端。httpClient 为空时使用带超时的默认客户端。
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken 设置随请求发送的 Bearer 令牌。
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = strings.TrimSpace(token)
}

// AccessToken 返回当前令牌。
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SubmitAnalysis 提交异步分析任务。相同 ID 重复提交返回已有任务。
func (c *Client) SubmitAnalysis(ctx context.Context, sub Submission) (Analysis, error) {
	var out Analysis
	if err := c.post(ctx, "/api/v1/analyses", sub, &out); err != nil {
		return Analysis{}, err
	}
	return out, nil
}

// GetAnalysis 按 ID 查询任务。
func (c *Client) GetAnalysis(ctx context.Context, id string) (Analysis, error) {
	var out Analysis
	if err := c.get(ctx, "/api/v1/analyses/"+url.PathEscape(id), nil, &out); err != nil {
		return Analysis{}, err
	}
	return out, nil
}

// ListAnalyses 按条件列出任务。
func (c *Client) ListAnalyses(ctx context.Context, q ListQuery) ([]Analysis, error) {
	var out struct {
		Items []Analysis `json:"items"`
	}
	if err := c.get(ctx, "/api/v1/analyses", q.values(), &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Stats 返回符合条件的任务统计。
func (c *Client) Stats(ctx context.Context, q ListQuery) (Stats, error) {
	var out Stats
	if err := c.get(ctx, "/api/v1/analyses/stats", q.values(), &out); err != nil {
		return Stats{}, err
	}
	return out, nil
}

// Invoke 同步执行一次分析，不经过队列。
func (c *Client) Invoke(ctx context.Context, sub Submission) (InvokeResult, error) {
	var out InvokeResult
	if err := c.post(ctx, "/api/v1/invoke", sub, &out); err != nil {
		return InvokeResult{}, err
	}
	return out, nil
}

// WaitForAnalysis 轮询直到任务成功或失败。
func (c *Client) WaitForAnalysis(ctx context.Context, id string, interval time.Duration) (Analysis, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		a, err := c.GetAnalysis(ctx, id)
		if err != nil {
			return Analysis{}, err
		}
		if a.Terminal() {
			return a, nil
		}
		select {
		case <-ctx.Done():
			return a, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		// 认证失败时服务端返回纯文本
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
