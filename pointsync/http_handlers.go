// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

// ClientAuthenticator resolves the caller of an HTTP request.
// Implementations should validate auth (e.g., JWT) and return user, device and role.
type ClientAuthenticator interface {
	Authenticate(r *http.Request) (Principal, error)
}

// HTTPLedgerHandlers provides HTTP handlers for the ledger and catalog API
type HTTPLedgerHandlers struct {
	ledger        Ledger
	authenticator ClientAuthenticator
	appName       string
	logger        *slog.Logger
}

// NewHTTPLedgerHandlers creates a new instance of ledger handlers
func NewHTTPLedgerHandlers(ledger Ledger, authenticator ClientAuthenticator, appName string, logger *slog.Logger) *HTTPLedgerHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPLedgerHandlers{
		ledger:        ledger,
		authenticator: authenticator,
		appName:       appName,
		logger:        logger,
	}
}

// Register mounts all routes on mux. Authenticated routes are wrapped with wrap when non-nil.
func (h *HTTPLedgerHandlers) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(next http.Handler) http.Handler { return next }
	}
	authed := func(fn http.HandlerFunc) http.Handler { return wrap(fn) }

	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.Handle("GET /ledger/ping", authed(h.HandlePing))
	mux.Handle("POST /ledger/history", authed(h.HandleInsertHistory))
	mux.Handle("POST /ledger/tickets/use", authed(h.HandleUseTicket))
	mux.Handle("GET /ledger/memberships", authed(h.HandleReadMembership))
	mux.Handle("POST /ledger/memberships/apply", authed(h.HandleWriteMembership))
	mux.Handle("DELETE /ledger/memberships", authed(h.HandleLeaveGroup))
	mux.Handle("POST /ledger/designs", authed(h.HandleGrantDesign))

	mux.Handle("GET /catalog/groups", authed(h.HandleListGroups))
	mux.Handle("POST /catalog/groups", authed(h.HandleCreateGroup))
	mux.Handle("DELETE /catalog/groups/{id}", authed(h.HandleDeleteGroup))
	mux.Handle("GET /catalog/gifts", authed(h.HandleListGifts))
	mux.Handle("POST /catalog/gifts", authed(h.HandleCreateGift))
	mux.Handle("GET /catalog/tickets", authed(h.HandleListTickets))
	mux.Handle("POST /catalog/tickets", authed(h.HandleIssueTicket))
	mux.Handle("GET /catalog/memberships", authed(h.HandleListMemberships))
}

// HandleHealth is the unauthenticated liveness probe
func (h *HTTPLedgerHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Ping(r.Context()); err != nil {
		h.logger.Warn("Health check failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, CodeInternalError, "ledger unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// HandlePing confirms the caller's credentials are accepted
func (h *HTTPLedgerHandlers) HandlePing(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, PingResponse{Status: "ok", AppName: h.appName, UserID: p.UserID})
}

// HandleInsertHistory appends a batch of history records
func (h *HTTPLedgerHandlers) HandleInsertHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req InsertHistoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	for _, rec := range req.Records {
		if !p.CanActFor(rec.UserID) {
			h.writeForbidden(w, p, rec.UserID)
			return
		}
	}
	inserted, err := h.ledger.InsertHistory(r.Context(), req.Records)
	if err != nil {
		h.writeServiceError(w, "insert history", err)
		return
	}
	h.writeJSON(w, http.StatusOK, InsertHistoryResponse{Inserted: inserted})
}

// HandleUseTicket performs the ticket compare-and-swap.
// Ticket ownership is not checked here: the CAS is keyed by ticket id and
// tickets are scanned from whoever presents them.
func (h *HTTPLedgerHandlers) HandleUseTicket(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.principal(w, r); !ok {
		return
	}
	var req TicketUseRequest
	if !h.decode(w, r, &req) {
		return
	}
	n, err := h.ledger.UpdateTicketIfUnused(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "use ticket", err)
		return
	}
	h.writeJSON(w, http.StatusOK, TicketUseResponse{RowsAffected: n})
}

// HandleReadMembership returns one membership (?user_id=&group_id=)
func (h *HTTPLedgerHandlers) HandleReadMembership(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	userID, groupID, ok := h.userGroupParams(w, r, p)
	if !ok {
		return
	}
	m, err := h.ledger.ReadMembership(r.Context(), userID, groupID)
	if errors.Is(err, ErrNotFound) {
		h.writeError(w, http.StatusNotFound, CodeMembershipNotFound, err.Error())
		return
	}
	if err != nil {
		h.writeServiceError(w, "read membership", err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

// HandleWriteMembership applies an aggregated membership delta
func (h *HTTPLedgerHandlers) HandleWriteMembership(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req MembershipWriteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !p.CanActFor(req.UserID) {
		h.writeForbidden(w, p, req.UserID)
		return
	}
	res, err := h.ledger.WriteMembership(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "write membership", err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// HandleLeaveGroup deletes the caller's membership (?user_id=&group_id=)
func (h *HTTPLedgerHandlers) HandleLeaveGroup(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	userID, groupID, ok := h.userGroupParams(w, r, p)
	if !ok {
		return
	}
	if err := h.ledger.LeaveGroup(r.Context(), userID, groupID); err != nil {
		h.writeServiceError(w, "leave group", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGrantDesign records design ownership
func (h *HTTPLedgerHandlers) HandleGrantDesign(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req DesignGrantRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !p.CanActFor(req.UserID) {
		h.writeForbidden(w, p, req.UserID)
		return
	}
	if err := h.ledger.UpsertDesignOwnership(r.Context(), req); err != nil {
		h.writeServiceError(w, "grant design", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListGroups lists visible groups
func (h *HTTPLedgerHandlers) HandleListGroups(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.principal(w, r); !ok {
		return
	}
	groups, err := h.ledger.ListGroups(r.Context())
	if err != nil {
		h.writeServiceError(w, "list groups", err)
		return
	}
	h.writeJSON(w, http.StatusOK, nonNil(groups))
}

// HandleCreateGroup creates a group (admin only)
func (h *HTTPLedgerHandlers) HandleCreateGroup(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	var req CreateGroupRequest
	if !h.decode(w, r, &req) {
		return
	}
	g, err := h.ledger.CreateGroup(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "create group", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, g)
}

// HandleDeleteGroup soft-deletes a group (admin only)
func (h *HTTPLedgerHandlers) HandleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	groupID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || groupID <= 0 {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "group id must be a positive integer")
		return
	}
	if err := h.ledger.SoftDeleteGroup(r.Context(), groupID); err != nil {
		h.writeServiceError(w, "delete group", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListGifts lists gifts of a group (?group_id=)
func (h *HTTPLedgerHandlers) HandleListGifts(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.principal(w, r); !ok {
		return
	}
	groupID, ok := h.groupParam(w, r)
	if !ok {
		return
	}
	gifts, err := h.ledger.ListGifts(r.Context(), groupID)
	if err != nil {
		h.writeServiceError(w, "list gifts", err)
		return
	}
	h.writeJSON(w, http.StatusOK, nonNil(gifts))
}

// HandleCreateGift adds a gift (admin only)
func (h *HTTPLedgerHandlers) HandleCreateGift(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	var req CreateGiftRequest
	if !h.decode(w, r, &req) {
		return
	}
	g, err := h.ledger.CreateGift(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "create gift", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, g)
}

// HandleListTickets lists a user's tickets in a group (?user_id=&group_id=)
func (h *HTTPLedgerHandlers) HandleListTickets(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	userID, groupID, ok := h.userGroupParams(w, r, p)
	if !ok {
		return
	}
	tickets, err := h.ledger.ListTickets(r.Context(), userID, groupID)
	if err != nil {
		h.writeServiceError(w, "list tickets", err)
		return
	}
	h.writeJSON(w, http.StatusOK, nonNil(tickets))
}

// HandleIssueTicket issues a ticket to a user (admin only)
func (h *HTTPLedgerHandlers) HandleIssueTicket(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	var req IssueTicketRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.ledger.IssueTicket(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "issue ticket", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, t)
}

// HandleListMemberships lists all memberships of a user (?user_id=)
func (h *HTTPLedgerHandlers) HandleListMemberships(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = p.UserID
	}
	if !p.CanActFor(userID) {
		h.writeForbidden(w, p, userID)
		return
	}
	memberships, err := h.ledger.ListMemberships(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "list memberships", err)
		return
	}
	h.writeJSON(w, http.StatusOK, nonNil(memberships))
}

func (h *HTTPLedgerHandlers) principal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p, err := h.authenticator.Authenticate(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, CodeAuthenticationFailed, err.Error())
		return Principal{}, false
	}
	return p, true
}

func (h *HTTPLedgerHandlers) admin(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p, ok := h.principal(w, r)
	if !ok {
		return p, false
	}
	if !p.IsAdmin() {
		h.writeError(w, http.StatusForbidden, CodeForbidden, "admin role required")
		return p, false
	}
	return p, true
}

// userGroupParams parses ?user_id=&group_id=; user_id defaults to the caller.
func (h *HTTPLedgerHandlers) userGroupParams(w http.ResponseWriter, r *http.Request, p Principal) (string, int64, bool) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = p.UserID
	}
	if !p.CanActFor(userID) {
		h.writeForbidden(w, p, userID)
		return "", 0, false
	}
	groupID, ok := h.groupParam(w, r)
	return userID, groupID, ok
}

func (h *HTTPLedgerHandlers) groupParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	groupID, err := strconv.ParseInt(r.URL.Query().Get("group_id"), 10, 64)
	if err != nil || groupID <= 0 {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "group_id must be a positive integer")
		return 0, false
	}
	return groupID, true
}

func (h *HTTPLedgerHandlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Failed to parse request body")
		return false
	}
	return true
}

func (h *HTTPLedgerHandlers) writeForbidden(w http.ResponseWriter, p Principal, userID string) {
	h.logger.Warn("Rejected cross-user ledger access", "caller", p.UserID, "target", userID)
	h.writeError(w, http.StatusForbidden, CodeForbidden, fmt.Sprintf("cannot act for user %q", userID))
}

func (h *HTTPLedgerHandlers) writeServiceError(w http.ResponseWriter, op string, err error) {
	status, code := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Ledger operation failed", "op", op, "error", err)
		h.writeError(w, status, code, "Failed to "+op)
		return
	}
	h.writeError(w, status, code, err.Error())
}

func (h *HTTPLedgerHandlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes a standardized error response
func (h *HTTPLedgerHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeError(w, statusCode, errorCode, message)
	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}

func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: errorCode, Message: message})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
