// Package api exposes the supervisor over JSON/HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/arl/statsviz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lizheng/media-analyst/internal/log"
	"github.com/lizheng/media-analyst/internal/model"
	"github.com/lizheng/media-analyst/internal/service"
	"github.com/lizheng/media-analyst/internal/store"
)

const maxWait = time.Minute

// History is the execution history as served over HTTP.
type History interface {
	Get(ctx context.Context, uuid string) (store.ExecutionRow, error)
	List(ctx context.Context, f store.Filter) ([]store.ExecutionRow, error)
	Delete(ctx context.Context, uuid string) error
}

type Server struct {
	sup      *service.Supervisor
	history  History
	gatherer prometheus.Gatherer
	debug    bool
}

type Option func(*Server)

func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithMetrics serves the collectors of g at /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithDebug serves runtime statistics at /debug/statsviz/.
func WithDebug(debug bool) Option {
	return func(s *Server) { s.debug = debug }
}

func New(sup *service.Supervisor, opts ...Option) *Server {
	s := &Server{sup: sup}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("POST /v1/validate", s.handleValidate)
	mux.HandleFunc("POST /v1/executions", s.handleCreate)
	mux.HandleFunc("GET /v1/executions", s.handleList)
	mux.HandleFunc("GET /v1/executions/{id}", s.handleGet)
	mux.HandleFunc("GET /v1/executions/{id}/output", s.handleOutput)
	mux.HandleFunc("POST /v1/executions/{id}/stop", s.handleStop)
	mux.HandleFunc("DELETE /v1/executions/{id}", s.handleDelete)
	mux.HandleFunc("GET /v1/jobs", s.handleJobs)
	mux.HandleFunc("POST /v1/jobs/{name}/run", s.handleRunJob)
	if s.history != nil {
		mux.HandleFunc("GET /v1/history", s.handleHistory)
		mux.HandleFunc("GET /v1/history/{id}", s.handleHistoryGet)
		mux.HandleFunc("DELETE /v1/history/{id}", s.handleHistoryDelete)
	}
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.debug {
		if err := statsviz.Register(mux); err != nil {
			return nil, fmt.Errorf("registering statsviz: %w", err)
		}
	}
	return withLogging(mux), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"executions": s.sup.Registry().Len(),
	})
}

// ValidateResponse describes the worker invocation of a valid request.
type ValidateResponse struct {
	Request model.Request `json:"request"`
	Args    []string      `json:"args"`
	Command string        `json:"command"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var raw model.RawFields
	if !decode(w, r, &raw) {
		return
	}
	req, err := model.ValidateContext(r.Context(), raw, s.normalizer())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	cfg := s.sup.Config()
	args := cfg.Flags.Build(req)
	writeJSON(w, http.StatusOK, ValidateResponse{
		Request: req,
		Args:    args,
		Command: model.Preview(cfg.Dir, model.Command(cfg.Command, args)),
	})
}

func (s *Server) normalizer() model.LinkNormalizer {
	return s.sup.Normalizer()
}

// CreateRequest is a request plus per execution overrides.
type CreateRequest struct {
	model.RawFields
	WorkDir string `json:"work_dir,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body CreateRequest
	if !decode(w, r, &body) {
		return
	}
	var opts []service.StartOption
	if body.WorkDir != "" {
		opts = append(opts, service.WithWorkDir(body.WorkDir))
	}
	if body.Timeout != "" {
		d, err := model.ParseDuration(body.Timeout)
		if err != nil {
			writeErr(w, r, &model.ValidationError{Field: "timeout", Message: err.Error()})
			return
		}
		opts = append(opts, service.WithTimeout(d))
	}

	// the execution outlives the request
	h, err := s.sup.StartRaw(context.WithoutCancel(r.Context()), body.RawFields, opts...)
	if h == nil {
		writeErr(w, r, err)
		return
	}
	if err != nil {
		slog.WarnContext(r.Context(), "execution failed to launch", "execution_id", h.ID(), "error", err)
	}
	w.Header().Set("Location", "/v1/executions/"+h.ID())
	writeJSON(w, http.StatusCreated, h.Snapshot())
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var filter model.Status
	if v := r.URL.Query().Get("status"); v != "" {
		st, err := model.ParseStatus(v)
		if err != nil {
			writeErr(w, r, &model.ValidationError{Field: "status", Message: err.Error()})
			return
		}
		filter = st
	}
	list := s.sup.List()
	ret := make([]*model.Execution, 0, len(list))
	for _, e := range list {
		if filter != "" && e.Status != filter {
			continue
		}
		c := *e
		c.Output = nil
		ret = append(ret, &c)
	}
	writeJSON(w, http.StatusOK, ret)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	e, err := s.sup.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// OutputResponse carries the lines after a sequence number. Next is the
// value of since for the following call.
type OutputResponse struct {
	Status model.Status `json:"status"`
	Lines  []model.Line `json:"lines"`
	Next   int64        `json:"next"`
}

// handleOutput returns the lines after ?since=N. With ?wait=30s it blocks
// until new lines arrive, the execution ends or the wait elapses.
func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h, ok := s.sup.Registry().Handle(id)
	if !ok {
		writeErr(w, r, fmt.Errorf("%s: %w", id, model.ErrNotFound))
		return
	}
	q := r.URL.Query()
	var since int64
	if v := q.Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeErr(w, r, &model.ValidationError{Field: "since", Message: "must be a non negative integer"})
			return
		}
		since = n
	}
	var wait time.Duration
	if v := q.Get("wait"); v != "" {
		d, err := model.ParseDuration(v)
		if err != nil {
			writeErr(w, r, &model.ValidationError{Field: "wait", Message: err.Error()})
			return
		}
		wait = min(d, maxWait)
	}

	ctx := r.Context()
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	for {
		changed := h.Changed()
		snap := h.Snapshot()
		lines := snap.LinesSince(since)
		if len(lines) > 0 || snap.Status.Terminal() || wait <= 0 {
			next := since
			if n := len(lines); n > 0 {
				next = lines[n-1].Seq
			}
			if lines == nil {
				lines = []model.Line{}
			}
			writeJSON(w, http.StatusOK, OutputResponse{Status: snap.Status, Lines: lines, Next: next})
			return
		}
		select {
		case <-changed:
		case <-ctx.Done():
			wait = 0
		}
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	e, err := s.sup.Stop(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.Evict(r.PathValue("id")); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.Jobs())
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	h, err := s.sup.RunJob(context.WithoutCancel(r.Context()), r.PathValue("name"))
	if h == nil {
		writeErr(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/executions/"+h.ID())
	writeJSON(w, http.StatusCreated, h.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{Platform: model.Platform(q.Get("platform"))}
	if v := q.Get("status"); v != "" {
		st, err := model.ParseStatus(v)
		if err != nil {
			writeErr(w, r, &model.ValidationError{Field: "status", Message: err.Error()})
			return
		}
		f.Status = st
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErr(w, r, &model.ValidationError{Field: "limit", Message: "must be a non negative integer"})
			return
		}
		f.Limit = n
	}
	rows, err := s.history.List(r.Context(), f)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if rows == nil {
		rows = []store.ExecutionRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	row, err := s.history.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const maxBody = 1 << 20

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error  string       `json:"error"`
	Fields []fieldError `json:"fields,omitempty"`
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	if verrs := model.ValidationErrors(err); len(verrs) > 0 {
		resp := errorResponse{Error: "invalid request"}
		for _, v := range verrs {
			resp.Fields = append(resp.Fields, fieldError{Field: v.Field, Message: v.Message})
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrExecutionActive), errors.Is(err, model.ErrJobInProgress):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		begin := time.Now()
		ctx := log.ContextAttrs(r.Context(),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))
		slog.DebugContext(ctx, "request served", "status", sw.status, "duration", time.Since(begin).String())
	})
}
