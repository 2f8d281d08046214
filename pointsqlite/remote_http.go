// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mobiletoly/go-pointcard/pointsync"
)

// HTTPLedger talks to the ledger server over its JSON API.
// It implements RemoteLedger, CatalogSource and Prober.
type HTTPLedger struct {
	BaseURL string
	Token   func(context.Context) (string, error) // returns JWT
	HTTP    *http.Client
	logger  *slog.Logger
}

var (
	_ RemoteLedger  = (*HTTPLedger)(nil)
	_ CatalogSource = (*HTTPLedger)(nil)
	_ Prober        = (*HTTPLedger)(nil)
)

// NewHTTPLedger returns a client for the ledger server at baseURL
func NewHTTPLedger(baseURL string, tok func(context.Context) (string, error), timeout time.Duration, logger *slog.Logger) *HTTPLedger {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPLedger{
		BaseURL: baseURL,
		Token:   tok,
		HTTP:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Probe checks that the server answers and accepts our credentials.
func (h *HTTPLedger) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	resp, err := h.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned status %d", ErrUnreachable, resp.StatusCode)
	}

	var ping pointsync.PingResponse
	return h.do(ctx, http.MethodGet, "/ledger/ping", nil, nil, &ping)
}

func (h *HTTPLedger) InsertHistory(ctx context.Context, records []pointsync.HistoryRecord) (int64, error) {
	var resp pointsync.InsertHistoryResponse
	if err := h.do(ctx, http.MethodPost, "/ledger/history", nil, pointsync.InsertHistoryRequest{Records: records}, &resp); err != nil {
		return 0, err
	}
	return resp.Inserted, nil
}

func (h *HTTPLedger) UpdateTicketIfUnused(ctx context.Context, req pointsync.TicketUseRequest) (int64, error) {
	var resp pointsync.TicketUseResponse
	if err := h.do(ctx, http.MethodPost, "/ledger/tickets/use", nil, req, &resp); err != nil {
		return 0, err
	}
	return resp.RowsAffected, nil
}

func (h *HTTPLedger) ReadMembership(ctx context.Context, userID string, groupID int64) (*pointsync.MembershipRow, error) {
	var m pointsync.MembershipRow
	if err := h.do(ctx, http.MethodGet, "/ledger/memberships", userGroupQuery(userID, groupID), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (h *HTTPLedger) WriteMembership(ctx context.Context, req pointsync.MembershipWriteRequest) (*pointsync.MembershipWriteResponse, error) {
	var resp pointsync.MembershipWriteResponse
	if err := h.do(ctx, http.MethodPost, "/ledger/memberships/apply", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (h *HTTPLedger) UpsertDesignOwnership(ctx context.Context, req pointsync.DesignGrantRequest) error {
	return h.do(ctx, http.MethodPost, "/ledger/designs", nil, req, nil)
}

func (h *HTTPLedger) LeaveGroup(ctx context.Context, userID string, groupID int64) error {
	return h.do(ctx, http.MethodDelete, "/ledger/memberships", userGroupQuery(userID, groupID), nil, nil)
}

func (h *HTTPLedger) ListGroups(ctx context.Context) ([]pointsync.GroupRow, error) {
	var out []pointsync.GroupRow
	err := h.do(ctx, http.MethodGet, "/catalog/groups", nil, nil, &out)
	return out, err
}

func (h *HTTPLedger) CreateGroup(ctx context.Context, req pointsync.CreateGroupRequest) (*pointsync.GroupRow, error) {
	var g pointsync.GroupRow
	if err := h.do(ctx, http.MethodPost, "/catalog/groups", nil, req, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// DeleteGroup soft-deletes a group (admin tokens only).
func (h *HTTPLedger) DeleteGroup(ctx context.Context, groupID int64) error {
	return h.do(ctx, http.MethodDelete, "/catalog/groups/"+strconv.FormatInt(groupID, 10), nil, nil, nil)
}

// CreateGift adds a gift to a group (admin tokens only).
func (h *HTTPLedger) CreateGift(ctx context.Context, req pointsync.CreateGiftRequest) (*pointsync.GiftRow, error) {
	var g pointsync.GiftRow
	if err := h.do(ctx, http.MethodPost, "/catalog/gifts", nil, req, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// IssueTicket hands a user a ticket for a gift (admin tokens only).
func (h *HTTPLedger) IssueTicket(ctx context.Context, req pointsync.IssueTicketRequest) (*pointsync.TicketRow, error) {
	var t pointsync.TicketRow
	if err := h.do(ctx, http.MethodPost, "/catalog/tickets", nil, req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *HTTPLedger) ListGifts(ctx context.Context, groupID int64) ([]pointsync.GiftRow, error) {
	var out []pointsync.GiftRow
	q := url.Values{"group_id": {strconv.FormatInt(groupID, 10)}}
	err := h.do(ctx, http.MethodGet, "/catalog/gifts", q, nil, &out)
	return out, err
}

func (h *HTTPLedger) ListTickets(ctx context.Context, userID string, groupID int64) ([]pointsync.TicketRow, error) {
	var out []pointsync.TicketRow
	err := h.do(ctx, http.MethodGet, "/catalog/tickets", userGroupQuery(userID, groupID), nil, &out)
	return out, err
}

func (h *HTTPLedger) ListMemberships(ctx context.Context, userID string) ([]pointsync.MembershipRow, error) {
	var out []pointsync.MembershipRow
	err := h.do(ctx, http.MethodGet, "/catalog/memberships", url.Values{"user_id": {userID}}, nil, &out)
	return out, err
}

func userGroupQuery(userID string, groupID int64) url.Values {
	return url.Values{
		"user_id":  {userID},
		"group_id": {strconv.FormatInt(groupID, 10)},
	}
}

// do sends an authenticated JSON request and decodes a 2xx response into out.
func (h *HTTPLedger) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := h.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", path, err)
		}
		reader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	token, err := h.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get JWT token: %w", ErrUnauthorized, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := h.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return h.statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (h *HTTPLedger) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	var e pointsync.ErrorResponse
	_ = json.Unmarshal(raw, &e)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", ErrUnauthorized, resp.StatusCode, e.Message)
	case resp.StatusCode == http.StatusNotFound && e.Error == pointsync.CodeMembershipNotFound:
		return fmt.Errorf("%w: %s", ErrMembershipNotFound, e.Message)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, e.Message)
	case resp.StatusCode == http.StatusConflict && e.Error == pointsync.CodeNegativeBalance:
		return fmt.Errorf("%w: remote rejected write: %s", ErrNegativeBalance, e.Message)
	case resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: server returned status %d", ErrUnreachable, resp.StatusCode)
	default:
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(raw))
	}
}
