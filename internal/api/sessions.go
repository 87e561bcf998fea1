package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sheetql/sheetql/internal/auth"
	"github.com/sheetql/sheetql/internal/catalog"
	"github.com/sheetql/sheetql/internal/chat"
)

type openSessionRequest struct {
	TableName string `json:"table_name"`
	SessionID string `json:"session_id"`
}

type sendMessageRequest struct {
	Message   string `json:"message"`
	TableName string `json:"table_name"`
}

func handleOpenSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !chatConfigured(deps, w, r) {
		return
	}
	var req openSessionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid open session request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.TableName) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TABLE_NAME_REQUIRED", "table_name is required", false, nil)
		return
	}

	session, err := deps.Chat.OpenSession(r.Context(), req.SessionID, req.TableName, auth.OwnerFromContext(r.Context()))
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": session.ID,
		"table_name": session.TableName,
	})
}

func handleGetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !chatConfigured(deps, w, r) {
		return
	}
	session, err := ownedSession(deps, r)
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func handleSendMessage(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !chatConfigured(deps, w, r) {
		return
	}
	var req sendMessageRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid message request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "MESSAGE_REQUIRED", "message is required", false, nil)
		return
	}

	sessionID := strings.TrimSpace(r.PathValue("id"))
	if strings.TrimSpace(req.TableName) != "" {
		// Opening is idempotent, so the first message can create the session.
		if _, err := deps.Chat.OpenSession(r.Context(), sessionID, req.TableName, auth.OwnerFromContext(r.Context())); err != nil {
			writeChatError(w, r, err)
			return
		}
	} else if _, err := ownedSession(deps, r); err != nil {
		writeChatError(w, r, err)
		return
	}

	reply, err := deps.Chat.HandleMessage(r.Context(), sessionID, req.Message)
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func chatConfigured(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependency is not configured", false, nil)
		return false
	}
	if err := requireAnyRole(r, auth.RoleAnalyst); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return false
	}
	return true
}

// ownedSession hides sessions that belong to another caller.
func ownedSession(deps Dependencies, r *http.Request) (chat.Session, error) {
	session, err := deps.Chat.Session(strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		return chat.Session{}, err
	}
	if session.Owner != auth.OwnerFromContext(r.Context()) {
		return chat.Session{}, chat.ErrSessionNotFound
	}
	return session, nil
}

func writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		writeError(ctx, w, http.StatusNotFound, "SESSION_NOT_FOUND", "session was not found", false, nil)
	case errors.Is(err, catalog.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "TABLE_NOT_FOUND", "table was not found", false, nil)
	case errors.Is(err, chat.ErrSessionTableMismatch):
		writeError(ctx, w, http.StatusConflict, "SESSION_TABLE_MISMATCH", "session is bound to another table", false, nil)
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(ctx, w, http.StatusBadRequest, "MESSAGE_REQUIRED", "message is required", false, nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(ctx, w, http.StatusGatewayTimeout, "REQUEST_ABORTED", "request ended before the turn completed", true, nil)
	default:
		writeError(ctx, w, http.StatusBadGateway, "MODEL_ERROR", "language model request failed", true, map[string]any{"details": err.Error()})
	}
}
