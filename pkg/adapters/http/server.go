package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/droidscout"
	"github.com/aretw0/droidscout/internal/dto"
	"github.com/aretw0/droidscout/internal/presentation/graph"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// Server exposes stored runs and live exploration events.
type Server struct {
	Store   ports.GraphStore
	Streams *StreamManager

	metrics http.Handler
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts h on GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithStreams shares a StreamManager with the exploration that feeds it.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.Streams = sm
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewHandler creates the HTTP handler over store.
func NewHandler(store ports.GraphStore, opts ...Option) http.Handler {
	s := &Server{
		Store:   store,
		Streams: NewStreamManager(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	if doc, err := GetSpec(); err != nil {
		s.logger.Error("Failed to load OpenAPI spec, requests are not validated", "error", err)
	} else if validate, err := requestValidator(doc, s.logger); err != nil {
		s.logger.Error("Failed to build request validator", "error", err)
	} else {
		r.Use(validate)
	}

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(rawSpec)
	})
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/events", s.SubscribeEvents)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.ListRuns)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/ptg", s.GetPTG)
			r.Get("/fdg", s.GetFDG)
			r.Get("/graph", s.GetGraph)
			r.Get("/pages/{index}/screenshot", s.GetScreenshot)
		})
	})
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, domain.ErrGraphNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, fmt.Sprintf("%s error: %v", op, err), http.StatusInternalServerError)
	s.logger.Error(op+" failed", "error", err)
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	apiVersion := "unknown"
	if spec, err := GetSpec(); err == nil && spec.Info != nil {
		apiVersion = spec.Info.Version
	}
	s.writeJSON(w, map[string]string{
		"app":         "droidscout-http",
		"version":     strings.TrimSpace(droidscout.Version),
		"api_version": apiVersion,
	})
}

// runIDParam binds the runID path parameter the way generated chi servers do.
func runIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	var runID string
	err := runtime.BindStyledParameterWithOptions("simple", "runID", chi.URLParam(r, "runID"), &runID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid format for parameter runID: %s", err), http.StatusBadRequest)
		return "", false
	}
	return runID, true
}

// ListRuns handles GET /runs.
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.Store.List(r.Context())
	if err != nil {
		s.fail(w, "List", err)
		return
	}
	if runs == nil {
		runs = []string{}
	}
	s.writeJSON(w, map[string][]string{"runs": runs})
}

// GetPTG handles GET /runs/{runID}/ptg.
func (s *Server) GetPTG(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}
	g, err := s.Store.LoadPTG(r.Context(), runID)
	if err != nil {
		s.fail(w, "LoadPTG", err)
		return
	}
	doc, _ := dto.EncodePTG(g)
	s.writeJSON(w, doc)
}

// GetFDG handles GET /runs/{runID}/fdg.
func (s *Server) GetFDG(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}
	f, err := s.Store.LoadFDG(r.Context(), runID)
	if err != nil {
		s.fail(w, "LoadFDG", err)
		return
	}
	s.writeJSON(w, dto.EncodeFDG(f))
}

// GetGraph handles GET /runs/{runID}/graph?kind=ptg|fdg and answers Mermaid text.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}
	var kind string
	if err := runtime.BindQueryParameter("form", true, false, "kind", r.URL.Query(), &kind); err != nil {
		http.Error(w, fmt.Sprintf("Invalid format for parameter kind: %s", err), http.StatusBadRequest)
		return
	}
	var out string
	switch kind {
	case "", "ptg":
		g, err := s.Store.LoadPTG(r.Context(), runID)
		if err != nil {
			s.fail(w, "LoadPTG", err)
			return
		}
		out = graph.PTGMermaid(g, nil)
	case "fdg":
		f, err := s.Store.LoadFDG(r.Context(), runID)
		if err != nil {
			s.fail(w, "LoadFDG", err)
			return
		}
		out = graph.FDGMermaid(f)
	default:
		http.Error(w, "unknown graph kind: "+kind, http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, out)
}

// GetScreenshot handles GET /runs/{runID}/pages/{index}/screenshot.
func (s *Server) GetScreenshot(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}
	var index int
	err := runtime.BindStyledParameterWithOptions("simple", "index", chi.URLParam(r, "index"), &index,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		http.Error(w, "invalid page index", http.StatusBadRequest)
		return
	}
	g, err := s.Store.LoadPTG(r.Context(), runID)
	if err != nil {
		s.fail(w, "LoadPTG", err)
		return
	}
	n := g.Node(index)
	if n == nil || n.Snapshot == nil || len(n.Snapshot.Image) == 0 {
		http.Error(w, "page has no screenshot", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(n.Snapshot.Image)
}

// SubscribeEvents handles GET /events?run_id=... as a server-sent event stream.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		http.Error(w, "run_id is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe(runID)
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	var types map[string]bool
	if watch := r.URL.Query().Get("types"); watch != "" {
		types = make(map[string]bool)
		for _, t := range strings.Split(watch, ",") {
			types[strings.TrimSpace(t)] = true
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if types != nil && !types[string(msg.Type)] {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, msg.Data)
			flusher.Flush()
		}
	}
}

// Message is one encoded exploration event.
type Message struct {
	Type domain.EventType
	Data string
}

// StreamManager fans exploration events out to SSE subscribers per run.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- Message]struct{}
	logger      *slog.Logger
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan<- Message]struct{}),
		logger:      slog.Default(),
	}
}

func (sm *StreamManager) Subscribe(runID string) (chan Message, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan Message, 32)
	if _, ok := sm.subscribers[runID]; !ok {
		sm.subscribers[runID] = make(map[chan<- Message]struct{})
	}
	sm.subscribers[runID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[runID]; ok {
			if _, ok := subs[ch]; !ok {
				return
			}
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, runID)
			}
		}
	}
}

// Broadcast encodes event and delivers it to every subscriber of runID.
// Slow subscribers lose messages instead of blocking the explorer.
func (sm *StreamManager) Broadcast(runID string, typ domain.EventType, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		sm.logger.Warn("SSE: event encode failed", "error", err)
		return
	}
	msg := Message{Type: typ, Data: string(data)}

	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for ch := range sm.subscribers[runID] {
		select {
		case ch <- msg:
		default:
			sm.logger.Warn("SSE: Client buffer full, dropping message", "run_id", runID)
		}
	}
}

// Hooks returns lifecycle hooks publishing every exploration event of runID.
func (sm *StreamManager) Hooks(runID string) domain.LifecycleHooks {
	page := func(_ context.Context, e *domain.PageEvent) { sm.Broadcast(runID, e.Type, e) }
	action := func(_ context.Context, e *domain.ActionEvent) { sm.Broadcast(runID, e.Type, e) }
	return domain.LifecycleHooks{
		OnPageEnter:      page,
		OnPageDiscovered: page,
		OnAction:         action,
		OnEdgeDemoted:    action,
		OnRecovery:       func(_ context.Context, e *domain.RecoveryEvent) { sm.Broadcast(runID, e.Type, e) },
	}
}

// ServeUntil runs srv until ctx is canceled, then shuts it down within grace.
func ServeUntil(ctx context.Context, srv *http.Server, grace time.Duration) error {
	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown did not complete in %v: %w", grace, err)
		}
		return nil
	}
}
