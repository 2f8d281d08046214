package pointsync

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mobiletoly/go-pointcard/pointsqlite"
	"github.com/mobiletoly/go-pointcard/pointsync"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// harness runs the ledger service on a disposable PostgreSQL behind a real HTTP server.
type harness struct {
	t       *testing.T
	ctx     context.Context
	pool    *pgxpool.Pool
	service *pointsync.LedgerService
	jwtAuth *pointsync.JWTAuth
	server  *httptest.Server
	logger  *slog.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test needs docker; skipped with -short")
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("pointcard_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	config := pointsync.DefaultServiceConfig()
	config.AppName = "pointcard-integration-test"
	service, err := pointsync.NewLedgerService(pool, config, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = service.Close() })

	jwtAuth := pointsync.NewJWTAuth("integration-secret")
	handlers := pointsync.NewHTTPLedgerHandlers(service, jwtAuth, config.AppName, logger)
	mux := http.NewServeMux()
	handlers.Register(mux, jwtAuth.Middleware)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &harness{t: t, ctx: ctx, pool: pool, service: service, jwtAuth: jwtAuth, server: server, logger: logger}
}

// device opens a file-backed device store signed in as userID with role.
func (h *harness) device(name, userID, role string) *pointsqlite.Client {
	h.t.Helper()
	store, err := pointsqlite.Open(h.ctx, filepath.Join(h.t.TempDir(), name+".db"), h.logger)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = store.Close() })

	token, err := h.jwtAuth.GenerateTokenWithRole(userID, name, role, time.Hour)
	require.NoError(h.t, err)
	cfg := pointsqlite.DefaultConfig()
	cfg.ImmediateSync = false
	client, err := pointsqlite.NewClient(store, h.server.URL, userID, func(context.Context) (string, error) { return token, nil }, cfg, h.logger)
	require.NoError(h.t, err)
	return client
}

func (h *harness) membership(userID string, groupID int64) *pointsync.MembershipRow {
	h.t.Helper()
	m, err := h.service.ReadMembership(h.ctx, userID, groupID)
	require.NoError(h.t, err)
	return m
}

func (h *harness) historyCount(userID string) int {
	h.t.Helper()
	var n int
	require.NoError(h.t, h.pool.QueryRow(h.ctx,
		`SELECT COUNT(*) FROM ledger.point_history WHERE user_id = $1`, userID).Scan(&n))
	return n
}
