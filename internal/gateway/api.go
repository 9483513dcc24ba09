// ABOUTME: HTTP API handlers for directory snapshots, history pages, accept and transfer
// ABOUTME: Accept is a conditional update so only one agent wins a queued session

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/coven-desk/internal/auth"
	"github.com/2389/coven-desk/internal/desk"
	"github.com/2389/coven-desk/internal/store"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// GroupResponse is one row of GET /api/groups.
type GroupResponse struct {
	Session    desk.Session `json:"session"`
	Department string       `json:"department"`
}

// MessageResponse is a message as sent over REST and websocket.
type MessageResponse struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	RoomID     string    `json:"room_id,omitempty"`
	SenderID   string    `json:"sender_id"`
	SenderRole string    `json:"sender_role"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
}

// AcceptResponse is the JSON response for POST /api/groups/{id}/accept.
type AcceptResponse struct {
	Success         bool   `json:"success"`
	AssignedAgentID string `json:"assigned_agent_id,omitempty"`
	Message         string `json:"message,omitempty"`
}

// TransferRequest is the JSON body for POST /api/groups/{id}/transfer.
type TransferRequest struct {
	TargetDeptID string `json:"target_dept_id"`
}

// TransferResponse is the JSON response for POST /api/groups/{id}/transfer.
type TransferResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Session *desk.Session `json:"session,omitempty"`
}

func toMessageResponse(m store.Message, roomID string) MessageResponse {
	return MessageResponse{
		ID:         m.ID,
		SessionID:  m.SessionID,
		RoomID:     roomID,
		SenderID:   m.SenderID,
		SenderRole: m.SenderRole,
		Body:       m.Body,
		Timestamp:  m.CreatedAt,
	}
}

// scopeFilter maps a directory scope onto a store filter for the caller.
func scopeFilter(scope string, id *desk.Identity) (store.SessionFilter, bool) {
	notAccepted := false
	switch scope {
	case "", "queue":
		return store.SessionFilter{
			Statuses: []desk.Status{desk.StatusQueued, desk.StatusTransferred},
			Accepted: &notAccepted,
		}, true
	case "chat":
		return store.SessionFilter{
			Statuses:        []desk.Status{desk.StatusActive},
			AssignedAgentID: id.UserID,
		}, true
	default:
		return store.SessionFilter{}, false
	}
}

// handleListGroups handles GET /api/groups?scope=queue|chat.
func (g *Gateway) handleListGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := auth.FromContext(r.Context())
	if id == nil {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	filter, ok := scopeFilter(r.URL.Query().Get("scope"), id)
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "scope must be queue or chat")
		return
	}

	sessions, err := g.store.ListSessions(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to list sessions", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	groups := make([]GroupResponse, len(sessions))
	for i, s := range sessions {
		groups[i] = GroupResponse{Session: s, Department: s.Department}
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// handleSessionMessages handles GET /api/sessions/{id}/messages.
func (g *Gateway) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := r.URL.Path
	prefix := "/api/sessions/"
	suffix := "/messages"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	sessionID := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if sessionID == "" || strings.Contains(sessionID, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	// Parse optional limit parameter (default 10, max 100)
	limit := defaultHistoryLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	var before *time.Time
	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		t, err := time.Parse(time.RFC3339Nano, beforeStr)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "before must be an RFC3339 timestamp")
			return
		}
		before = &t
	}

	msgs, err := g.store.ListMessages(r.Context(), sessionID, before, limit)
	if err != nil {
		g.logger.Error("failed to list messages", "session_id", sessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]MessageResponse, len(msgs))
	for i, m := range msgs {
		out[i] = toMessageResponse(m, "")
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"messages": out})
}

// handleGroupRoutes dispatches POST /api/groups/{id}/accept and
// POST /api/groups/{id}/transfer.
func (g *Gateway) handleGroupRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/groups/")
	chatGroupID, action, ok := strings.Cut(rest, "/")
	if !ok || chatGroupID == "" {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "accept":
		auth.RequireCapability(desk.CapAcceptChat, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.handleAccept(w, r, chatGroupID)
		})).ServeHTTP(w, r)
	case "transfer":
		auth.RequireCapability(desk.CapTransferChat, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.handleTransfer(w, r, chatGroupID)
		})).ServeHTTP(w, r)
	default:
		g.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

func (g *Gateway) handleAccept(w http.ResponseWriter, r *http.Request, chatGroupID string) {
	id := auth.FromContext(r.Context())

	sess, err := g.store.AcceptSession(r.Context(), chatGroupID, id.UserID, g.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, store.ErrConflict):
		current, _ := g.store.GetSession(r.Context(), chatGroupID)
		g.logger.Info("accept lost race", "chat_group_id", chatGroupID, "agent_id", id.UserID, "holder", current.AssignedAgentID)
		g.sendJSON(w, http.StatusOK, AcceptResponse{
			Success:         false,
			AssignedAgentID: current.AssignedAgentID,
			Message:         "session is no longer waiting",
		})
		return
	case err != nil:
		g.logger.Error("failed to accept session", "chat_group_id", chatGroupID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("session accepted", "chat_group_id", chatGroupID, "agent_id", id.UserID)
	g.publishGroupListChanged("chat")
	g.sendJSON(w, http.StatusOK, AcceptResponse{Success: true, AssignedAgentID: sess.AssignedAgentID})
}

func (g *Gateway) handleTransfer(w http.ResponseWriter, r *http.Request, chatGroupID string) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TargetDeptID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "target_dept_id is required")
		return
	}

	if _, err := g.store.GetDepartment(r.Context(), req.TargetDeptID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusBadRequest, "unknown department")
			return
		}
		g.logger.Error("failed to load department", "dept_id", req.TargetDeptID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	sess, err := g.store.TransferSession(r.Context(), chatGroupID, req.TargetDeptID, g.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, store.ErrConflict):
		g.sendJSON(w, http.StatusConflict, TransferResponse{
			Success: false,
			Message: "session is ended or already in that department",
		})
		return
	case err != nil:
		g.logger.Error("failed to transfer session", "chat_group_id", chatGroupID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("session transferred", "chat_group_id", chatGroupID, "dept_id", sess.DeptID)
	g.publishMoveToTop(sess)
	g.sendJSON(w, http.StatusOK, TransferResponse{Success: true, Session: &sess})
}

// handleListDepartments handles GET /api/departments.
func (g *Gateway) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	depts, err := g.store.ListDepartments(r.Context())
	if err != nil {
		g.logger.Error("failed to list departments", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if depts == nil {
		depts = []desk.Department{}
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"departments": depts})
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
