package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/RosarioB/eliza-nft/internal/agent"
	xerrors "github.com/RosarioB/eliza-nft/internal/errors"
	"github.com/RosarioB/eliza-nft/internal/nft"
	"github.com/RosarioB/eliza-nft/internal/observability/metrics"
	"github.com/RosarioB/eliza-nft/internal/storage/mysql"
	"github.com/RosarioB/eliza-nft/internal/web3"
)

const healthCheckTimeout = 3 * time.Second

// Evaluator 是 API 需要的 Agent 能力。
type Evaluator interface {
	Handle(ctx context.Context, msg agent.Message) agent.Outcome
	Record(ctx context.Context, participantID string) (nft.Record, error)
	Reset(ctx context.Context, participantID string) error
	DataStatus(ctx context.Context, participantID string) string
	MintStatus(ctx context.Context, participantID string) string
	Key(participantID string) string
}

// Enqueuer 将消息投递到异步队列。
type Enqueuer interface {
	Enqueue(ctx context.Context, msg agent.Message) (agent.Message, error)
}

// Ledger 提供铸造历史。
type Ledger interface {
	ListLatest(ctx context.Context, limit int) ([]mysql.MintRecord, error)
}

// ChainChecker 报告铸造链是否可达。
type ChainChecker interface {
	FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error)
}

// Server 负责暴露 REST 接口，供聊天桥接层驱动评估器。
type Server struct {
	addr      string
	evaluator Evaluator
	queue     Enqueuer
	ledger    Ledger
	chainName string
	chain     ChainChecker
}

// Option 定义可选配置。
type Option func(*Server)

// WithQueue 启用异步消息投递。
func WithQueue(q Enqueuer) Option {
	return func(s *Server) {
		s.queue = q
	}
}

// WithLedger 启用铸造历史查询。
func WithLedger(l Ledger) Option {
	return func(s *Server) {
		s.ledger = l
	}
}

// WithChain 让健康检查包含铸造链的状态。
func WithChain(name string, checker ChainChecker) Option {
	return func(s *Server) {
		s.chainName = name
		s.chain = checker
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, evaluator Evaluator, opts ...Option) *Server {
	s := &Server{addr: addr, evaluator: evaluator}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(observeRequests)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/messages", s.handleMessage)
		r.Get("/participants/{id}/record", s.handleGetRecord)
		r.Delete("/participants/{id}/record", s.handleResetRecord)
		r.Get("/mints", s.handleListMints)
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
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

type healthResponse struct {
	Status   string              `json:"status"`
	Chain    string              `json:"chain,omitempty"`
	Snapshot *web3.ChainSnapshot `json:"snapshot,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// handleHealth 在配置了铸造链时查询链上状态，链不可达返回 503。
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.chain == nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()
	snapshot, err := s.chain.FetchChainSnapshot(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Chain: s.chainName, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Chain: s.chainName, Snapshot: &snapshot})
}

type messageRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
	Async  bool   `json:"async"`
}

type messageResponse struct {
	ID         string      `json:"id,omitempty"`
	Key        string      `json:"key,omitempty"`
	Outcome    string      `json:"outcome"`
	Changed    bool        `json:"changed"`
	Record     *nft.Record `json:"record,omitempty"`
	TxHash     string      `json:"tx_hash,omitempty"`
	ErrorCode  string      `json:"error_code,omitempty"`
	Status     string      `json:"status,omitempty"`
	MintStatus string      `json:"mint_status,omitempty"`
}

type recordResponse struct {
	Key        string     `json:"key"`
	Record     nft.Record `json:"record"`
	Missing    []string   `json:"missing"`
	Status     string     `json:"status"`
	MintStatus string     `json:"mint_status"`
}

// handleMessage 处理一条对话消息；async 为 true 时投递到队列。
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if s.evaluator == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "Agent 未初始化"))
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "user_id 不能为空"))
		return
	}
	msg := agent.Message{
		ID:            chiMiddleware.GetReqID(r.Context()),
		ParticipantID: req.UserID,
		Text:          req.Text,
	}

	if req.Async {
		if s.queue == nil {
			writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "未配置消息队列"))
			return
		}
		msg.ID = ""
		queued, err := s.queue.Enqueue(r.Context(), msg)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, messageResponse{ID: queued.ID, Outcome: "queued"})
		return
	}

	out := s.evaluator.Handle(r.Context(), msg)
	resp := messageResponse{
		Key:        out.Key,
		Outcome:    string(out.Kind),
		Changed:    out.Changed,
		ErrorCode:  string(out.Code()),
		Status:     s.evaluator.DataStatus(r.Context(), req.UserID),
		MintStatus: s.evaluator.MintStatus(r.Context(), req.UserID),
	}
	if out.Record.State != "" {
		rec := out.Record
		resp.Record = &rec
	}
	if out.Receipt != nil {
		resp.TxHash = out.Receipt.TxHash.Hex()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	if s.evaluator == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "Agent 未初始化"))
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := s.evaluator.Record(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	missing := make([]string, 0, len(nft.RequiredFields))
	for _, f := range nft.MissingFields(rec) {
		missing = append(missing, string(f))
	}
	writeJSON(w, http.StatusOK, recordResponse{
		Record:     rec,
		Missing:    missing,
		Status:     s.evaluator.DataStatus(r.Context(), id),
		MintStatus: s.evaluator.MintStatus(r.Context(), id),
		Key:        s.evaluator.Key(id),
	})
}

func (s *Server) handleResetRecord(w http.ResponseWriter, r *http.Request) {
	if s.evaluator == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "Agent 未初始化"))
		return
	}
	if err := s.evaluator.Reset(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMints(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "未配置铸造台账"))
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := s.ledger.ListLatest(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []mysql.MintRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

// writeError 将统一错误映射为 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}
	var body errorBody
	body.Error.Code = string(code)
	body.Error.Message = err.Error()
	body.Error.Retryable = xerrors.RetryableError(err)
	if e, ok := xerrors.From(err); ok {
		body.Error.Message = e.Message()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// observeRequests 记录请求数量与耗时，handler 标签使用路由模板。
func observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			pattern = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ObserveHTTPRequest(pattern, r.Method, status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
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
