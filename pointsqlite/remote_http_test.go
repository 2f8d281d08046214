package pointsqlite

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/mobiletoly/go-pointcard/pointsync"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newStubLedger(fn roundTripFunc) *HTTPLedger {
	h := NewHTTPLedger("http://ledger.test", func(context.Context) (string, error) { return "tok", nil }, 0, discardLogger)
	h.HTTP = &http.Client{Transport: fn}
	return h
}

func TestHTTPLedgerSendsAuthorizedRequests(t *testing.T) {
	var seen *http.Request
	h := newStubLedger(func(r *http.Request) (*http.Response, error) {
		seen = r
		return jsonResponse(http.StatusOK, `{"user_id":"alice","group_id":2,"balance":70,"lifetime":90,"rank":"REGULAR"}`), nil
	})

	m, err := h.ReadMembership(context.Background(), "alice", 2)
	require.NoError(t, err)
	require.EqualValues(t, 70, m.Balance)
	require.Equal(t, "Bearer tok", seen.Header.Get("Authorization"))
	require.Equal(t, "/ledger/memberships", seen.URL.Path)
	require.Equal(t, "alice", seen.URL.Query().Get("user_id"))
	require.Equal(t, "2", seen.URL.Query().Get("group_id"))
}

func TestHTTPLedgerMapsErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"authentication_failed","message":"bad token"}`, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, `{"error":"forbidden","message":"no"}`, ErrUnauthorized},
		{"membership missing", http.StatusNotFound, `{"error":"membership_not_found","message":"none"}`, ErrMembershipNotFound},
		{"other missing", http.StatusNotFound, `{"error":"not_found","message":"none"}`, ErrNotFound},
		{"negative balance", http.StatusConflict, `{"error":"negative_balance","message":"below zero"}`, ErrInvariantViolation},
		{"gateway", http.StatusBadGateway, ``, ErrUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newStubLedger(func(*http.Request) (*http.Response, error) {
				return jsonResponse(tt.status, tt.body), nil
			})
			_, err := h.ReadMembership(context.Background(), "alice", 1)
			require.ErrorIs(t, err, tt.want)
		})
	}

	h := newStubLedger(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusInternalServerError, `{"error":"internal_error","message":"boom"}`), nil
	})
	_, err := h.ReadMembership(context.Background(), "alice", 1)
	require.ErrorContains(t, err, "status 500")
	require.NotErrorIs(t, err, ErrUnreachable)
}

func TestHTTPLedgerTransportAndTokenFailures(t *testing.T) {
	h := newStubLedger(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	_, err := h.InsertHistory(context.Background(), nil)
	require.ErrorIs(t, err, ErrUnreachable)
	require.ErrorIs(t, h.Probe(context.Background()), ErrUnreachable)

	h = newStubLedger(func(*http.Request) (*http.Response, error) {
		t.Fatal("no request without a token")
		return nil, nil
	})
	h.Token = func(context.Context) (string, error) { return "", errors.New("signed out") }
	_, err = h.UpdateTicketIfUnused(context.Background(), pointsync.TicketUseRequest{TicketID: "t1"})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestHTTPLedgerProbe(t *testing.T) {
	var paths []string
	h := newStubLedger(func(r *http.Request) (*http.Response, error) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/health" {
			require.Empty(t, r.Header.Get("Authorization"))
			return jsonResponse(http.StatusOK, `{"status":"healthy"}`), nil
		}
		return jsonResponse(http.StatusOK, `{"status":"ok","app_name":"ledger","user_id":"staff"}`), nil
	})
	require.NoError(t, h.Probe(context.Background()))
	require.Equal(t, []string{"/health", "/ledger/ping"}, paths)

	h = newStubLedger(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusServiceUnavailable, `{"status":"unhealthy"}`), nil
	})
	require.ErrorIs(t, h.Probe(context.Background()), ErrUnreachable)
}
