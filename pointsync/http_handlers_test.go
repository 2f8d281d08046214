package pointsync_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mobiletoly/go-pointcard/internal/ledgertest"
	"github.com/mobiletoly/go-pointcard/pointsync"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	ledger *ledgertest.MemLedger
	jwt    *pointsync.JWTAuth
	srv    *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ledger := ledgertest.New()
	jwtAuth := pointsync.NewJWTAuth("handler-test-secret")
	handlers := pointsync.NewHTTPLedgerHandlers(ledger, jwtAuth, "test-app", slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	handlers.Register(mux, jwtAuth.Middleware)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testServer{ledger: ledger, jwt: jwtAuth, srv: srv}
}

func (s *testServer) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := s.jwt.GenerateTokenWithRole(userID, "device-"+userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	} else if errOut, ok := out.(*pointsync.ErrorResponse); ok && resp.StatusCode >= 400 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(errOut))
	}
	return resp.StatusCode
}

func TestHealthIsUnauthenticated(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", nil, nil))

	s.ledger.PingErr = errors.New("db down")
	require.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/health", "", nil, nil))
}

func TestPingRequiresToken(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/ledger/ping", "", nil, nil))

	var ping pointsync.PingResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ledger/ping", s.token(t, "u1", ""), nil, &ping))
	require.Equal(t, "u1", ping.UserID)
	require.Equal(t, "test-app", ping.AppName)
}

func TestReadMembershipNotFoundCode(t *testing.T) {
	s := newTestServer(t)
	var errResp pointsync.ErrorResponse
	status := s.do(t, http.MethodGet, "/ledger/memberships?group_id=1", s.token(t, "u1", ""), nil, &errResp)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, pointsync.CodeMembershipNotFound, errResp.Error)
}

func TestWriteMembershipNegativeBalance(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, "u1", "")
	s.ledger.SeedMembership(pointsync.MembershipRow{UserID: "u1", GroupID: 1, Balance: 10, Lifetime: 10})

	var errResp pointsync.ErrorResponse
	status := s.do(t, http.MethodPost, "/ledger/memberships/apply", tok, pointsync.MembershipWriteRequest{
		UserID: "u1", GroupID: 1, BalanceDelta: -20,
		Ops: []pointsync.OpRef{{SourceID: "d", SourceOpID: 1, Points: -20}},
	}, &errResp)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, pointsync.CodeNegativeBalance, errResp.Error)

	m, ok := s.ledger.Membership("u1", 1)
	require.True(t, ok)
	require.EqualValues(t, 10, m.Balance)
}

func TestWriteMembershipReplayIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, "u1", "")
	req := pointsync.MembershipWriteRequest{
		UserID: "u1", GroupID: 1, BalanceDelta: 50, LifetimeDelta: 50,
		Ops: []pointsync.OpRef{{SourceID: "d", SourceOpID: 7, Points: 50}},
	}

	var first, second pointsync.MembershipWriteResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/ledger/memberships/apply", tok, req, &first))
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/ledger/memberships/apply", tok, req, &second))

	require.EqualValues(t, 50, first.Membership.Balance)
	require.Equal(t, 1, first.Applied)
	require.EqualValues(t, 50, second.Membership.Balance)
	require.Equal(t, 1, second.Replayed)
	require.Equal(t, pointsync.DefaultRank, second.Membership.Rank)
}

func TestCrossUserWritesForbidden(t *testing.T) {
	s := newTestServer(t)
	member := s.token(t, "u1", "")
	admin := s.token(t, "staff", pointsync.RoleAdmin)
	req := pointsync.MembershipWriteRequest{UserID: "u2", GroupID: 1, BalanceDelta: 5, LifetimeDelta: 5}

	require.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/ledger/memberships/apply", member, req, nil))
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/ledger/memberships/apply", admin, req, nil))

	history := pointsync.InsertHistoryRequest{Records: []pointsync.HistoryRecord{{
		UserID: "u2", GroupID: 1, Points: 5, Kind: pointsync.KindGrant,
		OccurredAt: time.Now(), SourceID: "d", SourceOpID: 1,
	}}}
	require.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/ledger/history", member, history, nil))
}

func TestTicketUseCompareAndSwap(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, "staff", pointsync.RoleAdmin)
	member := s.token(t, "u1", "")

	var gift pointsync.GiftRow
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/catalog/gifts", admin,
		pointsync.CreateGiftRequest{GroupID: 1, Name: "Photo", PointsCost: 30}, &gift))
	var ticket pointsync.TicketRow
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/catalog/tickets", admin,
		pointsync.IssueTicketRequest{UserID: "u1", GiftID: gift.ID}, &ticket))

	use := func(sourceID string, opID int64) int64 {
		var res pointsync.TicketUseResponse
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/ledger/tickets/use", member,
			pointsync.TicketUseRequest{TicketID: ticket.ID, UsedAt: time.Now(), SourceID: sourceID, SourceOpID: opID}, &res))
		return res.RowsAffected
	}
	require.EqualValues(t, 1, use("device-a", 1))
	require.EqualValues(t, 1, use("device-a", 1), "replay by the consuming op")
	require.EqualValues(t, 0, use("device-b", 9), "second device loses")

	var tickets []pointsync.TicketRow
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/catalog/tickets?group_id=1", member, nil, &tickets))
	require.Len(t, tickets, 1)
	require.Equal(t, pointsync.TicketUsed, tickets[0].Status)
}

func TestGroupAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, "staff", pointsync.RoleAdmin)
	member := s.token(t, "u1", "")

	require.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/catalog/groups", member,
		pointsync.CreateGroupRequest{Name: "Stars"}, nil))

	var g pointsync.GroupRow
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/catalog/groups", admin,
		pointsync.CreateGroupRequest{Name: "Stars", ThemeColor: "#ff66aa"}, &g))
	require.NotZero(t, g.ID)

	require.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, "/catalog/groups/2", member, nil, nil))
	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodDelete, "/catalog/groups/abc", admin, nil, nil))
	require.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/catalog/groups/2", admin, nil, nil))
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/catalog/groups/2", admin, nil, nil))

	// Soft-deleted groups remain listed during retention.
	var groups []pointsync.GroupRow
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/catalog/groups", member, nil, &groups))
	require.Len(t, groups, 2)
	require.NotNil(t, groups[1].DeletedAt)
}

func TestLeaveGroup(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, "u1", "")
	s.ledger.SeedMembership(pointsync.MembershipRow{UserID: "u1", GroupID: 1, Balance: 5})

	require.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/ledger/memberships?group_id=1", tok, nil, nil))
	_, ok := s.ledger.Membership("u1", 1)
	require.False(t, ok)
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/ledger/memberships?group_id=1", tok, nil, nil))
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, "u1", "")
	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/ledger/memberships?group_id=x", tok, nil, nil))
	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/catalog/gifts", tok, nil, nil))
	require.Equal(t, http.StatusMethodNotAllowed, s.do(t, http.MethodPut, "/ledger/history", tok, nil, nil))
}
