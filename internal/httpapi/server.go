// Package httpapi is the local observer/admin HTTP surface of a running
// habitsync process.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/habitsync/internal/engine"
	"github.com/roach88/habitsync/internal/mutation"
	"github.com/roach88/habitsync/internal/store"
)

// Coordinator is the engine surface the API drives.
type Coordinator interface {
	Enqueue(ctx context.Context, req mutation.Request) (mutation.QueuedMutation, error)
	QueuedMutations(ctx context.Context) ([]mutation.QueuedMutation, error)
	Clear(ctx context.Context) (int, error)
	RequestDrain() bool
	SetOnline(ctx context.Context, online bool)
	Status(ctx context.Context) engine.Status
	Subscribe(l engine.Listener) engine.SubscriptionID
	Unsubscribe(id engine.SubscriptionID)
}

// Lookup serves the diagnostic filters on GET /v1/queue.
type Lookup interface {
	ListByKind(ctx context.Context, kind mutation.Kind) ([]mutation.QueuedMutation, error)
	ListByPriority(ctx context.Context, p mutation.Priority) ([]mutation.QueuedMutation, error)
	ListEnqueuedBefore(ctx context.Context, t time.Time) ([]mutation.QueuedMutation, error)
}

// Connectivity receives manual online/offline signals. When unset the
// signal goes straight to the coordinator.
type Connectivity interface {
	Set(ctx context.Context, online bool) bool
}

// Options configures a Server.
type Options struct {
	Lookup       Lookup
	Connectivity Connectivity
	Gatherer     prometheus.Gatherer
	MaxBodyBytes int64
}

// Server routes the API onto a Coordinator.
type Server struct {
	engine       Coordinator
	lookup       Lookup
	connectivity Connectivity
	gatherer     prometheus.Gatherer
	maxBodyBytes int64
}

// NewServer creates a server over c.
func NewServer(c Coordinator, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return &Server{
		engine:       c,
		lookup:       opts.Lookup,
		connectivity: opts.Connectivity,
		gatherer:     opts.Gatherer,
		maxBodyBytes: opts.MaxBodyBytes,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/status/stream", s.handleStatusStream)

		r.Get("/queue", s.handleListQueue)
		r.Post("/queue", s.handleEnqueue)
		r.Delete("/queue", s.handleClearQueue)

		r.Post("/drain", s.handleDrain)
		r.Put("/connectivity", s.handleConnectivity)
	})

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status(r.Context()))
}

// mutationView is the wire form of a queued mutation. Bodies are shown as
// text rather than base64.
type mutationView struct {
	ID         string            `json:"id"`
	Target     string            `json:"target"`
	Method     string            `json:"method"`
	Headers    []mutation.Header `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	RetryCount int               `json:"retry_count"`
	Priority   mutation.Priority `json:"priority"`
	Kind       mutation.Kind     `json:"kind"`
}

func viewOf(m mutation.QueuedMutation) mutationView {
	return mutationView{
		ID:         m.ID,
		Target:     m.Target,
		Method:     m.Method,
		Headers:    m.Headers,
		Body:       string(m.Body),
		EnqueuedAt: m.EnqueuedAt,
		RetryCount: m.RetryCount,
		Priority:   m.Priority,
		Kind:       m.Kind,
	}
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filters := 0
	for _, k := range []string{"kind", "priority", "before"} {
		if q.Get(k) != "" {
			filters++
		}
	}
	if filters > 1 {
		writeError(w, http.StatusBadRequest, "bad_request", "use at most one of kind, priority, before")
		return
	}
	if filters == 1 && s.lookup == nil {
		writeError(w, http.StatusNotImplemented, "not_implemented", "filtered listing is not available")
		return
	}

	var (
		items []mutation.QueuedMutation
		err   error
	)
	switch {
	case q.Get("kind") != "":
		items, err = s.lookup.ListByKind(ctx, mutation.NormalizeKind(q.Get("kind")))
	case q.Get("priority") != "":
		p, perr := mutation.ParsePriority(q.Get("priority"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "bad_request", perr.Error())
			return
		}
		items, err = s.lookup.ListByPriority(ctx, p)
	case q.Get("before") != "":
		t, perr := time.Parse(time.RFC3339, q.Get("before"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "before must be RFC3339")
			return
		}
		items, err = s.lookup.ListEnqueuedBefore(ctx, t)
	default:
		items, err = s.engine.QueuedMutations(ctx)
	}
	if err != nil {
		slog.Error("list queue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	mutation.Sort(items)
	views := make([]mutationView, len(items))
	for i, m := range items {
		views[i] = viewOf(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"mutations": views})
}

type enqueueRequest struct {
	Target   string            `json:"target"`
	Method   string            `json:"method"`
	Headers  []mutation.Header `json:"headers"`
	Body     json.RawMessage   `json:"body"`
	Priority mutation.Priority `json:"priority"`
	Kind     mutation.Kind     `json:"kind"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	defer r.Body.Close()

	var req enqueueRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	var body []byte
	if len(req.Body) > 0 && string(req.Body) != "null" {
		body = []byte(req.Body)
	}

	m, err := s.engine.Enqueue(r.Context(), mutation.Request{
		Target:   req.Target,
		Method:   req.Method,
		Headers:  req.Headers,
		Body:     body,
		Priority: req.Priority,
		Kind:     req.Kind,
	})
	if err != nil {
		status, code := classify(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(m))
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.Clear(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	started := s.engine.RequestDrain()
	writeJSON(w, http.StatusOK, map[string]any{
		"started": started,
		"status":  s.engine.Status(r.Context()),
	})
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes)).Decode(&req); err != nil || req.Online == nil {
		writeError(w, http.StatusBadRequest, "bad_request", `body must be {"online": true|false}`)
		return
	}

	changed := true
	if s.connectivity != nil {
		changed = s.connectivity.Set(r.Context(), *req.Online)
	} else {
		s.engine.SetOnline(r.Context(), *req.Online)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"changed": changed,
		"status":  s.engine.Status(r.Context()),
	})
}

// classify maps an enqueue error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, mutation.ErrTargetRequired),
		errors.Is(err, mutation.ErrInvalidPriority),
		errors.Is(err, mutation.ErrInvalidPayload):
		return http.StatusBadRequest, "invalid_mutation"
	case errors.Is(err, engine.ErrShutdown):
		return http.StatusServiceUnavailable, "shutting_down"
	case store.IsStorageError(err):
		return http.StatusInternalServerError, "storage_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}
