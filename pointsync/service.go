// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger is the remote ledger surface served over HTTP.
// LedgerService implements it on PostgreSQL; tests substitute in-memory fakes.
type Ledger interface {
	Ping(ctx context.Context) error

	InsertHistory(ctx context.Context, records []HistoryRecord) (int64, error)
	UpdateTicketIfUnused(ctx context.Context, req TicketUseRequest) (int64, error)
	ReadMembership(ctx context.Context, userID string, groupID int64) (*MembershipRow, error)
	WriteMembership(ctx context.Context, req MembershipWriteRequest) (*MembershipWriteResponse, error)
	UpsertDesignOwnership(ctx context.Context, req DesignGrantRequest) error
	LeaveGroup(ctx context.Context, userID string, groupID int64) error

	CreateGroup(ctx context.Context, req CreateGroupRequest) (*GroupRow, error)
	SoftDeleteGroup(ctx context.Context, groupID int64) error
	ListGroups(ctx context.Context) ([]GroupRow, error)
	CreateGift(ctx context.Context, req CreateGiftRequest) (*GiftRow, error)
	ListGifts(ctx context.Context, groupID int64) ([]GiftRow, error)
	IssueTicket(ctx context.Context, req IssueTicketRequest) (*TicketRow, error)
	ListTickets(ctx context.Context, userID string, groupID int64) ([]TicketRow, error)
	ListMemberships(ctx context.Context, userID string) ([]MembershipRow, error)
}

// LedgerService is the PostgreSQL-backed remote ledger
type LedgerService struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	config *ServiceConfig
	stages StageObserver
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// ServiceConfig holds configuration for the ledger service
type ServiceConfig struct {
	AppName         string        // Application name reported by the ping endpoint
	GroupRetention  time.Duration // How long soft-deleted groups stay visible (0 = GroupRetention)
	MaxHistoryBatch int           // Maximum history records per insert (0 = unlimited)
	MaxTxRetries    int           // Attempts for retryable transaction failures (0 = 3)
	RetryBackoff    time.Duration // Base backoff between transaction retries

	StageMetrics    StageMetricsRecorder
	LogStageTimings bool
}

// DefaultServiceConfig returns the configuration used when nil is passed to NewLedgerService
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		AppName:         "go-pointcard-ledger",
		GroupRetention:  GroupRetention,
		MaxHistoryBatch: 500,
		MaxTxRetries:    3,
		RetryBackoff:    25 * time.Millisecond,
	}
}

// NewLedgerService creates the ledger service and initializes its schema
func NewLedgerService(pool *pgxpool.Pool, config *ServiceConfig, logger *slog.Logger) (*LedgerService, error) {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if config.GroupRetention <= 0 {
		config.GroupRetention = GroupRetention
	}
	if config.MaxTxRetries <= 0 {
		config.MaxTxRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}

	service := &LedgerService{
		pool:   pool,
		logger: logger,
		config: config,
		stages: StageObserver{Recorder: config.StageMetrics, LogTiming: config.LogStageTimings, Logger: logger},
		now:    time.Now,
	}

	ctx := context.Background()
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if err := service.initializeSchemaInTx(ctx, tx); err != nil {
			logger.Error("Failed to initialize ledger schema", "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger service: %w", err)
	}
	logger.Debug("Ledger schema initialized successfully")

	return service, nil
}

// Close marks the service closed. The pool is owned by the caller.
func (s *LedgerService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Debug("Ledger service shutdown complete")
	return nil
}

// Pool returns the underlying database connection pool
func (s *LedgerService) Pool() *pgxpool.Pool {
	return s.pool
}

// Config returns the effective service configuration
func (s *LedgerService) Config() ServiceConfig {
	return *s.config
}

func (s *LedgerService) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrServiceClosed
	}
	return nil
}

// Ping checks database connectivity
func (s *LedgerService) Ping(ctx context.Context) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	return s.pool.Ping(ctx)
}

// withTx runs fn in a READ COMMITTED transaction, retrying serialization and lock failures.
func (s *LedgerService) withTx(ctx context.Context, stage string, fn func(tx pgx.Tx) error) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	for attempt := 1; ; attempt++ {
		start := s.stages.Start()
		err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}, fn)
		s.stages.Observe(ctx, MetricsOpLedger, stage, start, 1, attempt, err != nil)
		if err == nil {
			return nil
		}
		if attempt >= s.config.MaxTxRetries || !isRetryablePGTxError(err) {
			return err
		}
		s.logger.Debug("Retrying ledger transaction", "stage", stage, "attempt", attempt, "error", err)
		if err := SleepWithContext(ctx, s.config.RetryBackoff*time.Duration(attempt)); err != nil {
			return err
		}
	}
}
