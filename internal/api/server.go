// Package api implements the HTTP front-end: task submission,
// streaming chat, conversation history, stats, and persona listing,
// plus a websocket feed of Message Bus events.
//
// Request validation and CORS are applied through internal/httpvalidate
// rather than inline, so the allow-list policy lives in one place.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nugget/forge-orchestrator/internal/buildinfo"
	"github.com/nugget/forge-orchestrator/internal/events"
	"github.com/nugget/forge-orchestrator/internal/httpvalidate"
	"github.com/nugget/forge-orchestrator/internal/inference"
	"github.com/nugget/forge-orchestrator/internal/longmem"
	"github.com/nugget/forge-orchestrator/internal/orchestrator"
	"github.com/nugget/forge-orchestrator/internal/persona"
	"github.com/nugget/forge-orchestrator/internal/shortmem"
	"github.com/nugget/forge-orchestrator/internal/taskmodel"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// pinger is satisfied by inference clients that can report backend
// reachability without performing a full chat call. inference.HTTPClient
// implements it; inference.FakeClient does not, so /api/health reports
// the backend as "unknown" in tests.
type pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP front-end for the orchestration engine.
type Server struct {
	addr       string
	orch       *orchestrator.Orchestrator
	inference  inference.Client
	personas   *persona.Store
	longterm   *longmem.Store
	bus        *events.Bus
	logger     *slog.Logger
	httpServer *http.Server

	mu       sync.Mutex
	sessions map[string]*shortmem.Memory
}

// NewServer constructs the HTTP front-end. addr is the listen address
// ("host:port").
func NewServer(addr string, orch *orchestrator.Orchestrator, client inference.Client, personas *persona.Store, longterm *longmem.Store, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:      addr,
		orch:      orch,
		inference: client,
		personas:  personas,
		longterm:  longterm,
		bus:       bus,
		logger:    logger.With("component", "api"),
		sessions:  make(map[string]*shortmem.Memory),
	}
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/task", s.handleTask)
	mux.HandleFunc("POST /api/stream/chat", s.handleStreamChat)
	mux.HandleFunc("GET /api/conversation/history", s.handleConversationHistory)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/personas", s.handlePersonas)
	mux.HandleFunc("GET /api/ws/events", s.handleWSEvents)

	handler := httpvalidate.CORSMiddleware(s.withLogging(mux))

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // long for streaming responses
	}

	s.logger.Info("starting API server", "addr", s.addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.WriteHeader(code)
	writeJSON(w, map[string]any{"error": message}, s.logger)
}

// sessionMemory returns (creating if needed) the short-term memory
// window for a chat session id.
func (s *Server) sessionMemory(sessionID string) *shortmem.Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sessions[sessionID]
	if !ok {
		m = shortmem.New(shortmem.DefaultWindow)
		s.sessions[sessionID] = m
	}
	return m
}

// --- GET /api/health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	backend := "unknown"
	if p, ok := s.inference.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			backend = "unreachable"
		} else {
			backend = "reachable"
		}
	}
	writeJSON(w, map[string]any{
		"status":    "ok",
		"backend":   backend,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, s.logger)
}

// --- POST /api/task ---

type taskRequest struct {
	Task            string            `json:"task"`
	Context         map[string]string `json:"context,omitempty"`
	UseOrchestrator *bool             `json:"use_orchestrator,omitempty"`
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := httpvalidate.ValidateString("task", req.Task, 0); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := httpvalidate.ValidateContext(req.Context); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID := req.Context["task_id"]
	if taskID == "" {
		taskID = uuid.New().String()
	}

	rec := s.orch.Execute(r.Context(), taskID, req.Task, req.Context)
	writeJSON(w, rec, s.logger)
}

// --- POST /api/stream/chat ---

type streamChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type chatChunk struct {
	Delta string `json:"delta,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Final string `json:"final,omitempty"`
}

// handleStreamChat is single-turn streaming chat: the message is
// appended to the session's short-term memory, sent to the inference
// client as a standalone chat (not routed through decomposition), and
// the reply streamed back as one JSON object per chunk, terminated by
// a blank line.
func (s *Server) handleStreamChat(w http.ResponseWriter, r *http.Request) {
	var req streamChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := httpvalidate.ValidateString("message", req.Message, 0); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	mem := s.sessionMemory(sessionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	messages := []inference.Message{{Role: "system", Content: "You are a helpful assistant."}}
	for _, turn := range mem.AsMessages() {
		messages = append(messages, inference.Message{Role: turn.Role, Content: turn.Text})
	}
	messages = append(messages, inference.Message{Role: "user", Content: req.Message})

	ch := make(chan inference.StreamChunk)
	go func() {
		if err := s.inference.ChatStream(r.Context(), inference.ClassConversation, messages, inference.Options{}, ch); err != nil {
			s.logger.Warn("stream chat failed", "error", err, "session_id", sessionID)
		}
	}()

	now := time.Now()
	mem.Append(taskmodel.ConversationTurn{Role: "user", Text: req.Message, Timestamp: now})

	var final string
	for chunk := range ch {
		if chunk.Delta != "" {
			s.writeChunk(w, chatChunk{Delta: chunk.Delta})
			flusher.Flush()
		}
		if chunk.Final != nil {
			final = chunk.Final.Message.Content
		}
	}
	s.writeChunk(w, chatChunk{Done: true, Final: final})
	flusher.Flush()

	if final != "" {
		mem.Append(taskmodel.ConversationTurn{Role: "assistant", Text: final, Timestamp: time.Now()})
	}
}

func (s *Server) writeChunk(w http.ResponseWriter, chunk chatChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		s.logger.Debug("failed to marshal stream chunk", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		s.logger.Debug("failed to write stream chunk", "error", err)
	}
}

// --- GET /api/conversation/history ---

func (s *Server) handleConversationHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		s.errorResponse(w, http.StatusBadRequest, "session query parameter is required")
		return
	}
	mem := s.sessionMemory(sessionID)
	writeJSON(w, map[string]any{"turns": mem.AsMessages()}, s.logger)
}

// --- GET /api/stats ---

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	personas := s.personas.List(persona.Filter{})
	perPersona := make([]map[string]any, 0, len(personas))
	for _, p := range personas {
		perPersona = append(perPersona, map[string]any{
			"id":    p.ID,
			"role":  p.DNA.RoleSeniority,
			"score": p.Score,
			"uses":  p.UsageCount,
		})
	}

	records := s.longterm.Search("", 0)
	var ok, partial, cancelled int
	for _, rec := range records {
		switch rec.Status {
		case taskmodel.WorkflowStatusOK:
			ok++
		case taskmodel.WorkflowStatusPartial:
			partial++
		case taskmodel.WorkflowStatusCancelled:
			cancelled++
		}
	}

	writeJSON(w, map[string]any{
		"persona_count":       len(personas),
		"personas":            perPersona,
		"workflows_ok":        ok,
		"workflows_partial":   partial,
		"workflows_cancelled": cancelled,
		"build":               buildinfo.RuntimeInfo(),
	}, s.logger)
}

// --- GET /api/personas ---

type personaSummary struct {
	ID    string  `json:"id"`
	Role  string  `json:"role"`
	Score float64 `json:"score"`
	Uses  int     `json:"uses"`
}

func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	filter := persona.Filter{Domain: r.URL.Query().Get("domain")}
	personas := s.personas.List(filter)
	out := make([]personaSummary, 0, len(personas))
	for _, p := range personas {
		out = append(out, personaSummary{ID: p.ID, Role: p.DNA.RoleSeniority, Score: p.Score, Uses: p.UsageCount})
	}
	writeJSON(w, out, s.logger)
}

// --- GET /api/ws/events ---

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || httpvalidate.OriginAllowed(origin)
	},
}

// handleWSEvents streams Message Bus events to a websocket client, an
// alternative transport to the SSE stream for UIs that prefer a single
// long-lived connection over /api/stream/chat's per-request stream.
func (s *Server) handleWSEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(events.DefaultQueueSize, nil)
	defer s.bus.Unsubscribe(ch)

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
