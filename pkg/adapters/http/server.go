package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/basthon"
	"github.com/aretw0/basthon/internal/orchestrator"
	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/basthon/pkg/ports"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
)

// KeyRequestID is the auxiliary key used to correlate events with the HTTP
// request that caused them.
const KeyRequestID = "request_id"

// MaxBodySize bounds request bodies for code and uploaded files.
const MaxBodySize = 8 << 20

// streamedEvents are the kernel events relayed to HTTP clients.
var streamedEvents = []string{
	domain.EventEvalOutput,
	domain.EventEvalDisplay,
	domain.EventEvalFinished,
	domain.EventEvalError,
	domain.EventFileDownload,
}

//go:embed openapi.yaml
var rawSpec []byte

var loadSpec = sync.OnceValues(func() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(rawSpec)
	if err != nil {
		return nil, fmt.Errorf("loading openapi spec: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validating openapi spec: %w", err)
	}
	return doc, nil
})

// Spec returns the parsed and validated API description.
func Spec() (*openapi3.T, error) {
	return loadSpec()
}

// Kernel is the subset of the kernel API served over HTTP.
type Kernel interface {
	Run(ctx context.Context, code string, aux map[string]any) (*domain.Result, error)
	Publish(name string, payload domain.Payload)
	Subscribe(name string, h ports.EventHandler) (unsubscribe func())
	Restart(ctx context.Context) error
	ExecutionCount() int
	History(ctx context.Context) ([]basthon.HistoryEntry, error)
	Importables() []string
	NativePackages() []string
	Loaded() []string
	PutResource(ctx context.Context, filename string, content []byte) error
	GetFile(path string) ([]byte, error)
	Backups() ports.BackupStore
}

// Event is a kernel event as seen by HTTP clients.
type Event struct {
	Event   string         `json:"event"`
	Payload domain.Payload `json:"payload"`
}

// EvalResponse is the body of a synchronous evaluation.
type EvalResponse struct {
	RequestID      string         `json:"request_id"`
	ExecutionCount int            `json:"execution_count"`
	Events         []Event        `json:"events"`
	Error          map[string]any `json:"error,omitempty"`
}

// Server serves a kernel over HTTP.
type Server struct {
	kernel  Kernel
	streams *StreamManager
	router  chi.Router
	metrics http.Handler
	logger  *slog.Logger

	unsubscribe []func()
	closeOnce   sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts h at GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewHandler creates the HTTP handler for k. Close releases its bus
// subscriptions.
func NewHandler(k Kernel, opts ...Option) *Server {
	s := &Server{
		kernel:  k,
		streams: NewStreamManager(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.streams.logger = s.logger

	for _, name := range streamedEvents {
		name := name
		s.unsubscribe = append(s.unsubscribe, k.Subscribe(name, func(p domain.Payload) error {
			s.streams.Broadcast(Event{Event: name, Payload: p})
			return nil
		}))
	}

	r := chi.NewRouter()
	r.Use(enableCORS)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(rawSpec)
	})
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(swaggerHTML))
	})

	r.Post("/eval", s.Evaluate)
	r.Post("/eval/async", s.EvaluateAsync)
	r.Get("/events", s.SubscribeEvents)
	r.Post("/restart", s.Restart)
	r.Get("/status", s.GetStatus)
	r.Get("/history", s.GetHistory)
	r.Get("/packages", s.GetPackages)
	r.Get("/files/*", s.GetFile)
	r.Put("/files/*", s.PutFile)
	r.Get("/backup", s.ListBackups)
	r.Get("/backup/*", s.GetBackup)
	r.Put("/backup/*", s.PutBackup)
	r.Delete("/backup/*", s.DeleteBackup)
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close detaches the server from the kernel bus and ends open streams.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		for _, unsubscribe := range s.unsubscribe {
			unsubscribe()
		}
		s.streams.Close()
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const swaggerHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Basthon Kernel API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
    window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui',
    });
    };
</script>
</body>
</html>
`

// decodeEvalRequest reads an eval.request payload from the body and makes
// sure it carries a request id.
func decodeEvalRequest(r *http.Request) (domain.EvalRequest, string, error) {
	var body map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxBodySize)).Decode(&body); err != nil {
		return domain.EvalRequest{}, "", fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	req, err := orchestrator.DecodeRequest(domain.Payload(body))
	if err != nil {
		return req, "", err
	}
	if req.Data == nil {
		req.Data = map[string]any{}
	}
	id, _ := req.Data[KeyRequestID].(string)
	if id == "" {
		id = uuid.NewString()
		req.Data[KeyRequestID] = id
	}
	return req, id, nil
}

// Evaluate handles POST /eval. The response lists every event the
// evaluation caused, in publication order.
func (s *Server) Evaluate(w http.ResponseWriter, r *http.Request) {
	req, id, err := decodeEvalRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		s.logger.Warn("Evaluate: Invalid request body", "error", err)
		return
	}

	var (
		mu     sync.Mutex
		events []Event
	)
	for _, name := range streamedEvents[:4] {
		name := name
		unsubscribe := s.kernel.Subscribe(name, func(p domain.Payload) error {
			if p[KeyRequestID] != id {
				return nil
			}
			mu.Lock()
			events = append(events, Event{Event: name, Payload: p})
			mu.Unlock()
			return nil
		})
		defer unsubscribe()
	}

	_, runErr := s.kernel.Run(r.Context(), req.Code, req.Data)

	mu.Lock()
	resp := EvalResponse{
		RequestID:      id,
		ExecutionCount: s.kernel.ExecutionCount(),
		Events:         append([]Event{}, events...),
	}
	mu.Unlock()

	status := http.StatusOK
	if runErr != nil {
		resp.Error = domain.ErrorInfo(runErr)
		status = statusFor(runErr, resp.Events)
		if status != http.StatusOK {
			s.logger.Warn("Evaluate failed before evaluation", "request_id", id, "error", runErr)
		}
	}
	writeJSON(w, status, resp)
}

// statusFor maps a Run error to a status code. A failure that already
// reached the client as an eval.error is a completed evaluation.
func statusFor(err error, events []Event) int {
	for _, e := range events {
		if e.Event == domain.EventEvalError {
			return http.StatusOK
		}
	}
	var loaderErr *domain.LoaderError
	switch {
	case errors.As(err, &loaderErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrKernelStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// EvaluateAsync handles POST /eval/async. The request is published as an
// eval.request and its events are delivered on /events.
func (s *Server) EvaluateAsync(w http.ResponseWriter, r *http.Request) {
	req, id, err := decodeEvalRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		s.logger.Warn("EvaluateAsync: Invalid request body", "error", err)
		return
	}
	s.kernel.Publish(domain.EventEvalRequest, req.Payload())
	writeJSON(w, http.StatusAccepted, map[string]string{KeyRequestID: id})
}

// Restart handles POST /restart.
func (s *Server) Restart(w http.ResponseWriter, r *http.Request) {
	if err := s.kernel.Restart(r.Context()); err != nil {
		http.Error(w, fmt.Sprintf("Restart error: %v", err), http.StatusInternalServerError)
		s.logger.Error("Restart failed", "error", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetStatus handles GET /status.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"execution_count": s.kernel.ExecutionCount(),
		"loaded":          nonNil(s.kernel.Loaded()),
	})
}

// GetHistory handles GET /history.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.kernel.History(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("History error: %v", err), http.StatusInternalServerError)
		s.logger.Error("History failed", "error", err)
		return
	}
	if entries == nil {
		entries = []basthon.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetPackages handles GET /packages.
func (s *Server) GetPackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"importables": nonNil(s.kernel.Importables()),
		"native":      nonNil(s.kernel.NativePackages()),
		"loaded":      nonNil(s.kernel.Loaded()),
	})
}

// GetFile handles GET /files/*.
func (s *Server) GetFile(w http.ResponseWriter, r *http.Request) {
	p := "/" + chi.URLParam(r, "*")
	data, err := s.kernel.GetFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

// PutFile handles PUT /files/*. Files with a module extension are staged
// as modules.
func (s *Server) PutFile(w http.ResponseWriter, r *http.Request) {
	p := "/" + chi.URLParam(r, "*")
	data, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.kernel.PutResource(r.Context(), p, data); err != nil {
		var loaderErr *domain.LoaderError
		if errors.As(err, &loaderErr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": domain.ErrorInfo(err)})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		s.logger.Error("PutFile failed", "path", p, "error", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListBackups handles GET /backup.
func (s *Server) ListBackups(w http.ResponseWriter, r *http.Request) {
	keys, err := s.kernel.Backups().List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(keys))
}

// GetBackup handles GET /backup/*.
func (s *Server) GetBackup(w http.ResponseWriter, r *http.Request) {
	data, err := s.kernel.Backups().Load(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		if errors.Is(err, domain.ErrBackupNotFound) {
			http.Error(w, "backup not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

// PutBackup handles PUT /backup/*.
func (s *Server) PutBackup(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.kernel.Backups().Save(r.Context(), chi.URLParam(r, "*"), data); err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteBackup handles DELETE /backup/*.
func (s *Server) DeleteBackup(w http.ResponseWriter, r *http.Request) {
	if err := s.kernel.Backups().Delete(r.Context(), chi.URLParam(r, "*")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	apiVersion := "unknown"
	if doc, err := Spec(); err == nil && doc.Info != nil {
		apiVersion = doc.Info.Version
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"app":         "basthon-http",
		"version":     strings.TrimSpace(basthon.Version),
		"api_version": apiVersion,
	})
}

// SubscribeEvents handles the GET /events request (SSE). The optional
// events query parameter is a comma separated list of event names.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	var filter []string
	if err := runtime.BindQueryParameter("form", false, false, "events", r.URL.Query(), &filter); err != nil {
		http.Error(w, fmt.Sprintf("Invalid format for parameter events: %v", err), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.streams.Subscribe(filter...)
	defer cancel()

	s.logger.Info("SSE: Client subscribed", "events", filter)
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE: Client disconnected")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.event, msg.data)
			flusher.Flush()
		}
	}
}

// StreamManager fans kernel events out to SSE clients.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[chan message]map[string]bool
	closed      bool
	logger      *slog.Logger
}

type message struct {
	event string
	data  []byte
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[chan message]map[string]bool),
		logger:      slog.Default(),
	}
}

// Subscribe registers a client. With no event names every event is
// delivered.
func (sm *StreamManager) Subscribe(events ...string) (<-chan message, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan message, 32)
	if sm.closed {
		close(ch)
		return ch, func() {}
	}
	var filter map[string]bool
	if len(events) > 0 {
		filter = make(map[string]bool, len(events))
		for _, e := range events {
			filter[strings.TrimSpace(e)] = true
		}
	}
	sm.subscribers[ch] = filter

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if _, ok := sm.subscribers[ch]; ok {
			delete(sm.subscribers, ch)
			close(ch)
		}
	}
}

// Broadcast delivers e to every interested client.
func (sm *StreamManager) Broadcast(e Event) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		sm.logger.Warn("SSE: Payload not serializable", "event", e.Event, "error", err)
		return
	}

	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for ch, filter := range sm.subscribers {
		if filter != nil && !filter[e.Event] {
			continue
		}
		select {
		case ch <- message{event: e.Event, data: data}:
		default:
			// Drop message if channel is full (slow client)
			sm.logger.Warn("SSE: Client buffer full, dropping message", "event", e.Event)
		}
	}
}

// Close ends every stream.
func (sm *StreamManager) Close() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for ch := range sm.subscribers {
		close(ch)
		delete(sm.subscribers, ch)
	}
	sm.closed = true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
