package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/codial-ai/codial-core/internal/codialerr"
	"github.com/codial-ai/codial-core/internal/idempotency"
	"github.com/codial-ai/codial-core/internal/sessions"
	"github.com/codial-ai/codial-core/internal/turns"
	"github.com/codial-ai/codial-core/pkg/codial"
)

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// createSessionRequest is the POST /v1/sessions body (spec.md §6.1).
type createSessionRequest struct {
	GuildID        string `json:"guild_id"`
	RequesterID    string `json:"requester_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	traceID := traceIDFrom(r.Context())

	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, traceID, http.StatusBadRequest, codialerr.New(codialerr.CodeInternal, traceID, "malformed request body"))
		return
	}
	if req.GuildID == "" || req.RequesterID == "" {
		writeError(w, traceID, http.StatusBadRequest, codialerr.New(codialerr.CodeInternal, traceID, "guild_id and requester_id are required"))
		return
	}

	defaults := sessions.Config{Provider: s.cfg.DefaultProviderName}
	if resolver, perr := s.policy.Load(); perr == nil {
		pd := resolver.SessionDefaults()
		if pd.Provider != "" {
			defaults.Provider = pd.Provider
		}
		defaults.Model = pd.Model
		defaults.MCPEnabled = pd.MCPEnabled
		defaults.MCPProfileName = pd.MCPProfile
	}

	create := func() (interface{}, error) {
		return s.sessionStore.Create(req.GuildID, req.RequesterID, defaults), nil
	}

	var result interface{}
	var err error
	if req.IdempotencyKey != "" {
		result, _, err = s.idemIndex.Do(idempotency.ScopeSessionCreate, req.IdempotencyKey, create)
	} else {
		result, err = create()
	}
	if err != nil {
		writeError(w, traceID, http.StatusInternalServerError, codialerr.Internal(traceID, err))
		return
	}

	sess := result.(*sessions.Session)
	writeJSON(w, http.StatusCreated, toSessionConfigResponse(sess))
}

func (s *Server) sessionOr404(w http.ResponseWriter, traceID, id string) (*sessions.Session, bool) {
	sess, ok := s.sessionStore.Get(id)
	if !ok {
		writeError(w, traceID, http.StatusNotFound, codialerr.SessionNotFound(traceID, id))
		return nil, false
	}
	return sess, true
}

type bindChannelRequest struct {
	ChannelID string `json:"channel_id"`
}

func (s *Server) handleBindChannel(w http.ResponseWriter, r *http.Request) {
	traceID := traceIDFrom(r.Context())
	id := r.PathValue("id")

	var req bindChannelRequest
	if err := decodeJSON(r, &req); err != nil || req.ChannelID == "" {
		writeError(w, traceID, http.StatusBadRequest, codialerr.New(codialerr.CodeInternal, traceID, "channel_id is required"))
		return
	}

	sess, cerr := s.sessionStore.BindChannel(id, req.ChannelID)
	if cerr != nil {
		writeError(w, traceID, statusForCode(cerr.WireCode), cerr)
		return
	}
	writeJSON(w, http.StatusOK, toSessionConfigResponse(sess))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	traceID := traceIDFrom(r.Context())
	id := r.PathValue("id")

	sess, cerr := s.sessionStore.End(id)
	if cerr != nil {
		writeError(w, traceID, statusForCode(cerr.WireCode), cerr)
		return
	}
	writeJSON(w, http.StatusOK, toSessionConfigResponse(sess))
}

type setProviderRequest struct {
	Provider string `json:"provider"`
}

func (s *Server) handleSetProvider(w http.ResponseWriter, r *http.Request) {
	traceID := traceIDFrom(r.Context())
	id := r.PathValue("id")

	var req setProviderRequest
	if err := decodeJSON(r, &req); err != nil || req.Provider == "" {
		writeError(w, traceID, http.StatusBadRequest, codialerr.New(codialerr.CodeInternal, traceID, "provider is required"))
		return
	}

	sess, cerr := s.sessionStore.SetProvider(id, req.Provider, s.catalog.IsEnabled)
	if cerr != nil {
		writeError(w, traceID, statusForCode(cerr.WireCode), cerr)
		return
	}
	writeJSON(w, http.StatusOK, toSessionConfigResponse(sess))
}

type setModelRequest struct {
	Model string `json:"model"`
}

func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	traceID := traceIDFrom(r.Context())
	id := r.PathValue("id")

	var req setModelRequest
	if err := decodeJSON(r, &req); err != nil || req.Model == "" {
		writeError(w, traceID, http.StatusBadRequest, codialerr.New(codialerr.CodeInternal, traceID, "model is required"))
		return
	}

	sess, cerr := s.sessionStore.SetModel(id, req.Model)
	if cerr != nil {
		writeError(w, traceID, statusForCode(cerr.WireCode), cerr)
		return
	}
	writeJSON(w, http.StatusOK, toSessionConfigResponse(sess))
}

type setMCPRequest struct {
	Enabled     bool   `json:"enabled"`
	ProfileName string `json:"profile_name"`
}

func (s *Server) handleSetMCP(w http.ResponseWriter, r *http.Request) {
	traceID := traceIDFrom(r.Context())
	id := r.PathValue("id")

	var req setMCPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, traceID, http.StatusBadRequest, codialerr.New(codialerr.CodeInternal, traceID, "malformed request body"))
		return
	}

	sess, cerr := s.sessionStore.SetMCP(id, req.Enabled, req.ProfileName)
	if cerr != nil {
		writeError(w, traceID, statusForCode(cerr.WireCode), cerr)
		return
	}
	writeJSON(w, http.StatusOK, toSessionConfigResponse(sess))
}

type setSubagentRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSetSubagent(w http.ResponseWriter, r *http.Request) {
	traceID := traceIDFrom(r.Context())
	id := r.PathValue("id")

	var req setSubagentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, traceID, http.StatusBadRequest, codialerr.New(codialerr.CodeInternal, traceID, "malformed request body"))
		return
	}

	snapshot, perr := s.policy.Load()
	if perr != nil {
		writeError(w, traceID, http.StatusInternalServerError, codialerr.New(codialerr.CodePolicyMalformed, traceID, perr.Error()))
		return
	}

	sess, cerr := s.sessionStore.SetSubagent(id, req.Name, snapshot.Resolves)
	if cerr != nil {
		writeError(w, traceID, statusForCode(cerr.WireCode), cerr)
		return
	}
	writeJSON(w, http.StatusOK, toSessionConfigResponse(sess))
}

// submitTurnRequest is the POST /v1/sessions/{id}/turns body (spec.md
// §6.1).
type submitTurnRequest struct {
	UserID         string             `json:"user_id"`
	ChannelID      string             `json:"channel_id"`
	Text           string             `json:"text"`
	Attachments    []codial.Attachment `json:"attachments,omitempty"`
	IdempotencyKey string             `json:"idempotency_key"`
}

type submitTurnResponse struct {
	TurnID  string `json:"turn_id"`
	Status  string `json:"status"`
	TraceID string `json:"trace_id"`
}

func (s *Server) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	traceID := traceIDFrom(r.Context())
	id := r.PathValue("id")

	var req submitTurnRequest
	if err := decodeJSON(r, &req); err != nil || req.Text == "" {
		writeError(w, traceID, http.StatusBadRequest, codialerr.New(codialerr.CodeInternal, traceID, "text is required"))
		return
	}

	sess, ok := s.sessionOr404(w, traceID, id)
	if !ok {
		return
	}
	if sess.Status == sessions.StatusEnded {
		writeError(w, traceID, http.StatusConflict, codialerr.SessionEnded(traceID, id))
		return
	}

	attachments := make([]turns.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, turns.Attachment{
			AttachmentID: a.AttachmentID,
			Filename:     a.Filename,
			ContentType:  a.ContentType,
			Size:         a.Size,
			URL:          a.URL,
			LocalPath:    a.LocalPath,
		})
	}

	submit := func() (interface{}, error) {
		t := &turns.Turn{
			TurnID:         uuid.NewString(),
			SessionID:      sess.SessionID,
			UserID:         req.UserID,
			ChannelID:      req.ChannelID,
			Text:           req.Text,
			Attachments:    attachments,
			IdempotencyKey: req.IdempotencyKey,
			TraceID:        traceID,
			Status:         turns.StatusQueued,
		}
		if err := s.pool.Enqueue(t); err != nil {
			return nil, err
		}
		return t, nil
	}

	var result interface{}
	var err error
	if req.IdempotencyKey != "" {
		result, _, err = s.idemIndex.Do(idempotency.ScopeTurnSubmit, sess.SessionID+"\x00"+req.IdempotencyKey, submit)
	} else {
		result, err = submit()
	}
	if err != nil {
		var ce *codialerr.Error
		if codialerr.AsError(err, &ce) {
			writeError(w, traceID, statusForCode(ce.WireCode), ce)
		} else {
			writeError(w, traceID, http.StatusInternalServerError, codialerr.Internal(traceID, err))
		}
		return
	}

	t := result.(*turns.Turn)
	writeJSON(w, http.StatusAccepted, submitTurnResponse{TurnID: t.TurnID, Status: string(t.Status), TraceID: traceID})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	traceID := traceIDFrom(r.Context())
	lines, err := s.rulesStore.List()
	if err != nil {
		writeError(w, traceID, http.StatusInternalServerError, codialerr.Internal(traceID, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"rules": lines})
}

type appendRuleRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleAppendRule(w http.ResponseWriter, r *http.Request) {
	traceID := traceIDFrom(r.Context())

	var req appendRuleRequest
	if err := decodeJSON(r, &req); err != nil || req.Text == "" {
		writeError(w, traceID, http.StatusBadRequest, codialerr.New(codialerr.CodeInternal, traceID, "text is required"))
		return
	}

	lines, err := s.rulesStore.Append(req.Text)
	if err != nil {
		writeError(w, traceID, http.StatusInternalServerError, codialerr.Internal(traceID, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"rules": lines})
}

type removeRuleRequest struct {
	Index int `json:"index"`
}

func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	traceID := traceIDFrom(r.Context())

	var req removeRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, traceID, http.StatusBadRequest, codialerr.New(codialerr.CodeInternal, traceID, "malformed request body"))
		return
	}

	lines, cerr := s.rulesStore.Remove(req.Index)
	if cerr != nil {
		writeError(w, traceID, statusForCode(cerr.WireCode), cerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"rules": lines})
}
