// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsync

import (
	"context"
	"log/slog"
	"time"
)

const (
	MetricsOpSync   = "sync"
	MetricsOpLedger = "ledger"

	MetricsStageTotal = "total"

	// Device synchronizer stages.
	MetricsStageTickets     = "tickets"
	MetricsStageHistory     = "history"
	MetricsStageMemberships = "memberships"
	MetricsStageDesigns     = "designs"

	// Ledger service stages.
	MetricsStageInsertHistory   = "insert_history"
	MetricsStageTicketCAS       = "ticket_cas"
	MetricsStageWriteMembership = "write_membership"
	MetricsStagePurgeGroups     = "purge_groups"
)

type StageTiming struct {
	Operation string
	Stage     string
	Duration  time.Duration
	Count     int
	Attempt   int
	Error     bool
}

type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

// StageObserver times stages and forwards them to a recorder and/or debug log.
// The zero value is disabled.
type StageObserver struct {
	Recorder  StageMetricsRecorder
	LogTiming bool
	Logger    *slog.Logger
}

func (o StageObserver) enabled() bool {
	return o.Recorder != nil || o.LogTiming
}

// Start returns the stage start time, or the zero time when timing is disabled.
func (o StageObserver) Start() time.Time {
	if !o.enabled() {
		return time.Time{}
	}
	return time.Now()
}

// Observe reports a stage that began at start.
func (o StageObserver) Observe(ctx context.Context, op, stage string, start time.Time, count, attempt int, hadError bool) {
	if start.IsZero() {
		return
	}
	timing := StageTiming{
		Operation: op,
		Stage:     stage,
		Duration:  time.Since(start),
		Count:     count,
		Attempt:   attempt,
		Error:     hadError,
	}
	if o.Recorder != nil {
		o.Recorder.ObserveStage(ctx, timing)
	}
	if o.LogTiming && o.Logger != nil {
		o.Logger.Debug("Stage timing",
			"op", timing.Operation,
			"stage", timing.Stage,
			"duration", timing.Duration,
			"count", timing.Count,
			"attempt", timing.Attempt,
			"error", timing.Error,
		)
	}
}
