// Package api 通过 HTTP 暴露分析任务的提交、查询与同步执行接口。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"text-pipeline/internal/auth"
	xerrors "text-pipeline/internal/errors"
	"text-pipeline/internal/observability/metrics"
	"text-pipeline/internal/task"
	"text-pipeline/pkg/logger"
)

const maxBodyBytes = 4 << 20

// Server 负责暴露 REST 接口。
type Server struct {
	addr           string
	service        *task.Service
	executor       task.Executor
	requestTimeout time.Duration
	auth           *auth.Service
	router         chi.Router
}

// Option 调整 Server。
type Option func(*Server)

// WithExecutor 启用 POST /api/v1/invoke 同步分析接口。
func WithExecutor(executor task.Executor) Option {
	return func(s *Server) { s.executor = executor }
}

// WithAuth 为 /api/v1 下的接口启用令牌认证。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// WithRequestTimeout 限制单个请求的处理时长。
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, service *task.Service, opts ...Option) *Server {
	s := &Server{addr: addr, service: service, requestTimeout: 5 * time.Minute}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.router = s.buildRouter()
	return s
}

// Handler 返回完整的路由，便于测试或嵌入其他服务。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("HTTP 服务已启动", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout))
		r.With(s.auth.Require(auth.PermissionWrite)).Post("/analyses", s.handleCreateAnalysis)
		r.Group(func(r chi.Router) {
			r.Use(s.auth.Require(auth.PermissionRead))
			r.Get("/analyses", s.handleListAnalyses)
			r.Get("/analyses/stats", s.handleAnalysisStats)
			r.Get("/analyses/{id}", s.handleAnalysisDetail)
		})
		r.With(s.auth.Require(auth.PermissionInvoke)).Post("/invoke", s.handleInvoke)
	})
	return r
}

type analysisRequest struct {
	ID       string         `json:"id,omitempty"`
	Content  *string        `json:"content"`
	Mode     string         `json:"mode,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type invokeResponse struct {
	Mode   string       `json:"mode"`
	Result *task.Result `json:"result"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.service != nil {
		stats, err := s.service.Stats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		body["tasks"] = stats
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	req, err := decodeAnalysisRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	created, err := s.service.Submit(r.Context(), task.Request{
		ID:       req.ID,
		Content:  *req.Content,
		Mode:     req.Mode,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tasks, err := s.service.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": tasks, "count": len(tasks)})
}

func (s *Server) handleAnalysisStats(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.service.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAnalysisDetail(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少任务 ID"))
		return
	}
	found, err := s.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// handleInvoke 同步执行一次分析，不经过队列。
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if s.executor == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "同步执行未启用"))
		return
	}
	req, err := decodeAnalysisRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	result, err := s.executor.Execute(r.Context(), &task.Task{Content: *req.Content, Mode: mode, Metadata: req.Metadata})
	if err != nil {
		writeError(w, err)
		return
	}
	if result != nil && result.Mode != "" {
		mode = result.Mode
	}
	writeJSON(w, http.StatusOK, invokeResponse{Mode: mode, Result: result})
}

func decodeAnalysisRequest(w http.ResponseWriter, r *http.Request) (*analysisRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req analysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	if req.Content == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "content 字段不能为空")
	}
	return &req, nil
}

func parseListOptions(r *http.Request) ([]task.ListOption, error) {
	query := r.URL.Query()
	var opts []task.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须是整数")
		}
		opts = append(opts, task.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "offset 必须是整数")
		}
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range splitList(raw) {
			status := task.Status(part)
			if !task.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态: "+part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := query.Get("mode"); raw != "" {
		opts = append(opts, task.WithModes(splitList(raw)...))
	}
	if raw := query.Get("has_result"); raw != "" {
		hasResult, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "has_result 必须是布尔值")
		}
		opts = append(opts, task.WithResultPresence(hasResult))
	}
	if raw := query.Get("since"); raw != "" {
		ts, err := parseTime(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, task.WithUpdatedSince(ts))
	}
	if raw := query.Get("until"); raw != "" {
		ts, err := parseTime(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, task.WithUpdatedUntil(ts))
	}
	if strings.EqualFold(query.Get("order"), "asc") {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}
	return opts, nil
}

// parseTime 接受 Unix 秒或 RFC3339 时间。
func parseTime(raw string) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, xerrors.New(xerrors.CodeInvalidArgument, "时间格式应为 Unix 秒或 RFC3339: "+raw)
	}
	return ts, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := xerrors.HTTPStatus(err)
	resp := errorResponse{Error: err.Error(), Code: string(xerrors.CodeOf(err))}
	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败", slog.Any("error", err), slog.Int("status", status))
	}
	writeJSON(w, status, resp)
}

// withContext 在根上下文取消后拒绝新请求。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// requestLogger 记录访问日志并上报 HTTP 指标，handler 标签使用路由模板。
func requestLogger(next http.Handler) http.Handler {
	log := logger.Named("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		metrics.ObserveHTTPRequest(route, r.Method, status, elapsed)
		log.Debug("HTTP 请求",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("duration", elapsed),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
