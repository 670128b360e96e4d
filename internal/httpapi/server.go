// ABOUTME: HTTP surface: fact-check lifecycle endpoints, session pre-warm,
// ABOUTME: health, and the WebSocket mount, on a chi router

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/hirecj/chat-gateway/internal/background"
	"github.com/hirecj/chat-gateway/internal/identity"
	"github.com/hirecj/chat-gateway/internal/session"
	"github.com/hirecj/chat-gateway/internal/store"
	"github.com/hirecj/chat-gateway/internal/workflow"
)

// Server wires the HTTP endpoints around the service's collaborators.
type Server struct {
	sessions        *session.Manager
	checker         *background.FactChecker
	store           store.Store
	catalog         workflow.Catalog
	defaultWorkflow string
	tokens          *identity.JWTProvider // nil disables token issuance on initiate
	ws              http.Handler
	logger          *slog.Logger
}

// NewServer creates the HTTP server surface. ws is the WebSocket
// upgrade handler mounted at /ws.
func NewServer(
	sessions *session.Manager,
	checker *background.FactChecker,
	st store.Store,
	catalog workflow.Catalog,
	defaultWorkflow string,
	tokens *identity.JWTProvider,
	ws http.Handler,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		sessions:        sessions,
		checker:         checker,
		store:           st,
		catalog:         catalog,
		defaultWorkflow: defaultWorkflow,
		tokens:          tokens,
		ws:              ws,
		logger:          logger.With("component", "httpapi"),
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/session/initiate", s.handleSessionInitiate)

	r.Route("/conversations/{id}/fact-checks", func(r chi.Router) {
		r.Get("/", s.handleListFactChecks)
		r.Get("/{index}", s.handleGetFactCheck)
		r.Post("/{index}", s.handleStartFactCheck)
		r.Delete("/{index}", s.handleDeleteFactCheck)
	})

	if s.ws != nil {
		r.Get("/ws", s.ws.ServeHTTP)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

type initiateRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Workflow       string `json:"workflow,omitempty"`
}

// handleSessionInitiate pre-warms a session so an external identity
// flow can hand the client a ready conversation id before it connects.
func (s *Server) handleSessionInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	// Sessions always carry a catalog-known workflow, even pre-warmed
	// ones created before the client connects.
	workflowName := req.Workflow
	if workflowName == "" {
		workflowName = s.defaultWorkflow
	}
	if s.catalog != nil {
		if _, ok := s.catalog.Lookup(workflowName); !ok {
			writeError(w, http.StatusUnprocessableEntity, "unknown workflow: "+workflowName)
			return
		}
	}

	_, resumed, err := s.sessions.Create(r.Context(), conversationID, session.CreateParams{
		UserID:   req.UserID,
		Workflow: workflowName,
	})
	if err != nil {
		s.logger.Error("session initiate failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not initiate session")
		return
	}

	resp := map[string]any{
		"conversationId": conversationID,
		"resumed":        resumed,
		"workflow":       workflowName,
	}
	if s.tokens != nil && req.UserID != "" {
		token, err := s.tokens.Generate(req.UserID, 24*time.Hour)
		if err != nil {
			s.logger.Error("token generation failed", "error", err)
			writeError(w, http.StatusInternalServerError, "could not issue token")
			return
		}
		resp["token"] = token
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListFactChecks(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	results, err := s.store.ListFactChecks(r.Context(), conversationID)
	if err != nil {
		s.logger.Error("listing fact checks failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": conversationID,
		"factChecks":     factCheckViews(results),
	})
}

func (s *Server) handleGetFactCheck(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	index, ok := indexParam(w, r)
	if !ok {
		return
	}

	result, err := s.checker.Status(r.Context(), conversationID, index)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "fact check not found")
			return
		}
		s.logger.Error("fact check lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, factCheckView(result))
}

// handleStartFactCheck triggers a check over HTTP. The conversation
// must have a live session; completed results remain readable without
// one via GET.
func (s *Server) handleStartFactCheck(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	index, ok := indexParam(w, r)
	if !ok {
		return
	}

	sess, found := s.sessions.Get(conversationID)
	if !found {
		writeError(w, http.StatusNotFound, "no active session for conversation")
		return
	}

	forceRefresh := r.URL.Query().Get("force") == "true"
	outcome, err := s.checker.Request(sess, index, forceRefresh)
	if err != nil {
		if errors.Is(err, background.ErrNotAvailable) {
			writeError(w, http.StatusUnprocessableEntity, "message not available for fact checking")
			return
		}
		s.logger.Error("fact check request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"conversationId": conversationID,
		"messageIndex":   index,
		"status":         outcome.Status,
		"inFlight":       outcome.InFlight,
	})
}

func (s *Server) handleDeleteFactCheck(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	index, ok := indexParam(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteFactCheck(r.Context(), conversationID, index); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "fact check not found")
			return
		}
		s.logger.Error("fact check delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// requestLogger logs each request with latency and status via slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chiMiddleware.GetReqID(r.Context()))
	})
}

type factCheckJSON struct {
	ConversationID string          `json:"conversationId"`
	MessageIndex   int             `json:"messageIndex"`
	Status         string          `json:"status"`
	Result         json.RawMessage `json:"result,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func factCheckView(result *store.FactCheckResult) factCheckJSON {
	return factCheckJSON{
		ConversationID: result.ConversationID,
		MessageIndex:   result.MessageIndex,
		Status:         result.Status,
		Result:         json.RawMessage(result.ResultJSON),
		UpdatedAt:      result.UpdatedAt,
	}
}

func factCheckViews(results []*store.FactCheckResult) []factCheckJSON {
	out := make([]factCheckJSON, 0, len(results))
	for _, r := range results {
		out = append(out, factCheckView(r))
	}
	return out
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "index must be a non-negative integer")
		return 0, false
	}
	return index, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encoding response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
