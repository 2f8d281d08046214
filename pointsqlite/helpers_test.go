package pointsqlite

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/mobiletoly/go-pointcard/internal/ledgertest"
	"github.com/mobiletoly/go-pointcard/pointsync"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.DiscardHandler)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), ":memory:", discardLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func tempStorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "pointcard.db")
}

// testEnv is a device store talking over HTTP to an in-memory ledger.
type testEnv struct {
	ledger *ledgertest.MemLedger
	srv    *httptest.Server
	jwt    *pointsync.JWTAuth
	client *Client
}

func newTestEnv(t *testing.T, cfg *Config) *testEnv {
	t.Helper()
	ledger := ledgertest.New()
	jwtAuth := pointsync.NewJWTAuth("device-test-secret")
	handlers := pointsync.NewHTTPLedgerHandlers(ledger, jwtAuth, "device-test", discardLogger)
	mux := http.NewServeMux()
	handlers.Register(mux, jwtAuth.Middleware)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	e := &testEnv{ledger: ledger, srv: srv, jwt: jwtAuth}
	e.client = e.newDevice(t, "device-1", cfg)
	return e
}

// newDevice opens another device store against the same ledger.
func (e *testEnv) newDevice(t *testing.T, deviceID string, cfg *Config) *Client {
	t.Helper()
	tok, err := e.jwt.GenerateTokenWithRole("staff", deviceID, pointsync.RoleAdmin, time.Hour)
	require.NoError(t, err)
	client, err := NewClient(newTestStore(t), e.srv.URL, "staff", func(context.Context) (string, error) { return tok, nil }, cfg, discardLogger)
	require.NoError(t, err)
	return client
}

// seedMembership sets the same membership on the ledger and in c's local mirror.
func (e *testEnv) seedMembership(t *testing.T, c *Client, userID string, groupID, points int64) {
	t.Helper()
	e.ledger.SeedMembership(pointsync.MembershipRow{UserID: userID, GroupID: groupID, Balance: points, Lifetime: points})
	require.NoError(t, c.Store.Memberships.Put(context.Background(), Membership{
		UserID: userID, GroupID: groupID, Points: points, TotalPoints: points, Rank: pointsync.DefaultRank,
	}))
}

func offlineConfig() *Config {
	cfg := DefaultConfig()
	cfg.ImmediateSync = false
	return cfg
}

// seedTicket creates a gift and issues a ticket for userID on the ledger,
// then mirrors both on the primary device and any extra devices.
func (e *testEnv) seedTicket(t *testing.T, userID string, groupID, cost int64, devices ...*Client) Ticket {
	t.Helper()
	ctx := context.Background()
	gift, err := e.ledger.CreateGift(ctx, pointsync.CreateGiftRequest{GroupID: groupID, Name: "Coffee", PointsCost: cost})
	require.NoError(t, err)
	row, err := e.ledger.IssueTicket(ctx, pointsync.IssueTicketRequest{UserID: userID, GiftID: gift.ID})
	require.NoError(t, err)
	ticket := ticketFromRemote(*row)
	for _, c := range append([]*Client{e.client}, devices...) {
		require.NoError(t, c.Store.Gifts.Put(ctx, giftFromRemote(*gift)))
		require.NoError(t, c.Store.Tickets.Put(ctx, ticket))
	}
	return ticket
}

func unsynced(t *testing.T, st *Store) []PendingScan {
	t.Helper()
	ops, err := st.PendingScans.All(context.Background(), "synced = 0 ORDER BY id")
	require.NoError(t, err)
	return ops
}

func localMembership(t *testing.T, st *Store, userID string, groupID int64) Membership {
	t.Helper()
	m, err := st.Memberships.Get(context.Background(), userID, groupID)
	require.NoError(t, err)
	return m
}
