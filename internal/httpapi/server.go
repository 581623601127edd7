// Package httpapi implements the REST API (spec.md §4.9/§6.1, component
// C9): a bearer-authenticated net/http surface over sessions, turns,
// rules, and health. Adapted from the teacher's internal/http/agents.go
// RegisterRoutes/authMiddleware/writeJSON shape and
// internal/gateway/server.go's rate limiter wiring point.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/codial-ai/codial-core/internal/codialerr"
	"github.com/codial-ai/codial-core/internal/config"
	"github.com/codial-ai/codial-core/internal/idempotency"
	"github.com/codial-ai/codial-core/internal/providers"
	"github.com/codial-ai/codial-core/internal/rules"
	"github.com/codial-ai/codial-core/internal/sessions"
	"github.com/codial-ai/codial-core/internal/turns"
	"github.com/codial-ai/codial-core/pkg/codial"
)

// PolicyResolver is the subset of *policy.Snapshot the REST layer needs —
// to validate a subagent name on POST .../subagent and to seed a new
// session's config from AGENTS.md defaults on POST /v1/sessions — kept
// narrow to avoid importing internal/policy's full surface here.
type PolicyResolver interface {
	Resolves(name string) bool
	SessionDefaults() codial.SessionDefaults
}

// PolicyLoader loads the current PolicyResolver (a *policy.Loader or
// *policy.CachingLoader, both of which return *policy.Snapshot).
type PolicyLoader interface {
	Load() (PolicyResolver, error)
}

// PolicyLoaderFunc adapts a plain function (e.g. a closure wrapping
// *policy.Loader.Load, whose concrete *policy.Snapshot return value
// satisfies PolicyResolver) to PolicyLoader.
type PolicyLoaderFunc func() (PolicyResolver, error)

func (f PolicyLoaderFunc) Load() (PolicyResolver, error) { return f() }

// Server is the REST API container (component C9).
type Server struct {
	cfg          *config.Config
	sessionStore sessions.Store
	rulesStore   rules.Store
	catalog      *providers.Catalog
	pool         *turns.Pool
	idemIndex    *idempotency.Index
	policy       PolicyLoader

	limiter *rate.Limiter
	mux     *http.ServeMux
}

// New constructs the REST API Server and registers every route.
func New(cfg *config.Config, sessionStore sessions.Store, rulesStore rules.Store, catalog *providers.Catalog, pool *turns.Pool, idemIndex *idempotency.Index, policyLoader PolicyLoader) *Server {
	s := &Server{
		cfg:          cfg,
		sessionStore: sessionStore,
		rulesStore:   rulesStore,
		catalog:      catalog,
		pool:         pool,
		idemIndex:    idemIndex,
		policy:       policyLoader,
	}
	if cfg.RESTRateLimitRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RESTRateLimitRPS), cfg.RESTRateLimitBurst)
	}
	s.mux = http.NewServeMux()
	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /v1/health/live", s.handleHealthLive)
	s.mux.HandleFunc("GET /v1/health/ready", s.handleHealthReady)

	s.mux.HandleFunc("POST /v1/sessions", s.withAuth(s.handleCreateSession))
	s.mux.HandleFunc("POST /v1/sessions/{id}/bind-channel", s.withAuth(s.handleBindChannel))
	s.mux.HandleFunc("POST /v1/sessions/{id}/end", s.withAuth(s.handleEndSession))
	s.mux.HandleFunc("POST /v1/sessions/{id}/provider", s.withAuth(s.handleSetProvider))
	s.mux.HandleFunc("POST /v1/sessions/{id}/model", s.withAuth(s.handleSetModel))
	s.mux.HandleFunc("POST /v1/sessions/{id}/mcp", s.withAuth(s.handleSetMCP))
	s.mux.HandleFunc("POST /v1/sessions/{id}/subagent", s.withAuth(s.handleSetSubagent))
	s.mux.HandleFunc("POST /v1/sessions/{id}/turns", s.withAuth(s.handleSubmitTurn))

	s.mux.HandleFunc("GET /v1/codial/rules", s.withAuth(s.handleListRules))
	s.mux.HandleFunc("POST /v1/codial/rules", s.withAuth(s.handleAppendRule))
	s.mux.HandleFunc("DELETE /v1/codial/rules", s.withAuth(s.handleRemoveRule))
}

// withAuth wraps next with bearer-token auth (spec.md §4.9: all /v1/*
// except health require Authorization: Bearer CORE_API_TOKEN) and a
// per-request rate limit when configured.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		traceID := uuid.NewString()

		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, traceID, http.StatusTooManyRequests, codialerr.New(codialerr.CodeRateLimit, traceID, "request rate limit exceeded"))
			return
		}

		if extractBearerToken(r) != s.cfg.APIToken || s.cfg.APIToken == "" {
			writeError(w, traceID, http.StatusUnauthorized, codialerr.New(codialerr.CodeAuthInvalid, traceID, "missing or invalid bearer token"))
			return
		}

		ctx := withTraceID(r.Context(), traceID)
		next(w, r.WithContext(ctx))
	}
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}

type traceIDKey struct{}

func withTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func traceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "live"})
}

func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("httpapi.encode_failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, traceID string, status int, err *codialerr.Error) {
	if err.TraceID == "" {
		err.TraceID = traceID
	}
	slog.Warn("httpapi.request_failed", "trace_id", err.TraceID, "code", err.WireCode, "message", err.Message)
	writeJSON(w, status, err)
}

func statusForCode(code codialerr.Code) int {
	switch code {
	case codialerr.CodeAuthMissing, codialerr.CodeAuthInvalid:
		return http.StatusUnauthorized
	case codialerr.CodeSessionNotFound, codialerr.CodeSubagentNotFound:
		return http.StatusNotFound
	case codialerr.CodeSessionEnded:
		return http.StatusConflict
	case codialerr.CodeProviderNotEnabled, codialerr.CodeIndexOutOfRange:
		return http.StatusBadRequest
	case codialerr.CodeQueueFull:
		return http.StatusServiceUnavailable
	case codialerr.CodeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// sessionConfigResponse is the SessionConfigResponse wire shape (spec.md
// §6.1).
type sessionConfigResponse struct {
	SessionID      string `json:"session_id"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	MCPEnabled     bool   `json:"mcp_enabled"`
	MCPProfileName string `json:"mcp_profile_name"`
	SubagentName   string `json:"subagent_name,omitempty"`
}

func toSessionConfigResponse(sess *sessions.Session) sessionConfigResponse {
	return sessionConfigResponse{
		SessionID:      sess.SessionID,
		Provider:       sess.Config.Provider,
		Model:          sess.Config.Model,
		MCPEnabled:     sess.Config.MCPEnabled,
		MCPProfileName: sess.Config.MCPProfileName,
		SubagentName:   sess.Config.SubagentName,
	}
}
