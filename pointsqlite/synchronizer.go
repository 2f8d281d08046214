// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/mobiletoly/go-pointcard/pointsync"
)

// SyncSummary reports what one synchronizer run did.
type SyncSummary struct {
	Retired          int   // entries removed (or marked synced) after remote confirmation
	TicketsConfirmed int   // ticket uses that won the compare-and-swap
	DuplicateTickets int   // ticket uses retired because the ticket was already used
	HistoryInserted  int64 // history rows the remote had not seen before
	Memberships      int   // membership writes acknowledged
	Designs          int   // design grants acknowledged
	Warnings         []string
}

// Synchronizer replays unsynced pending entries against the remote ledger.
//
// Entries are only retired after the remote acknowledged their effect. Every remote
// write is keyed by (source id, entry id), so a run interrupted at any point can be
// repeated without applying anything twice.
type Synchronizer struct {
	store     *Store
	pending   *PendingLog
	projector *Projector
	remote    RemoteLedger
	config    *Config
	logger    *slog.Logger
	stages    pointsync.StageObserver

	runMu  sync.Mutex // one run at a time
	paused int32
}

// NewSynchronizer wires a synchronizer; config may be nil for defaults.
func NewSynchronizer(store *Store, pending *PendingLog, projector *Projector, remote RemoteLedger, config *Config, logger *slog.Logger) *Synchronizer {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		store:     store,
		pending:   pending,
		projector: projector,
		remote:    remote,
		config:    config,
		logger:    logger,
		stages:    pointsync.StageObserver{Recorder: config.StageMetrics, LogTiming: config.LogStageTimings, Logger: logger},
	}
}

// PauseSync makes Run and SyncEntries return ErrSyncPaused until ResumeSync.
func (s *Synchronizer) PauseSync() { atomic.StoreInt32(&s.paused, 1) }

// ResumeSync re-enables synchronization.
func (s *Synchronizer) ResumeSync() { atomic.StoreInt32(&s.paused, 0) }

// Paused reports whether synchronization is paused.
func (s *Synchronizer) Paused() bool { return atomic.LoadInt32(&s.paused) == 1 }

// Run synchronizes every unsynced entry, or only those of groupID when it is non-zero.
// The first remote failure aborts the run; entries not yet confirmed stay queued.
func (s *Synchronizer) Run(ctx context.Context, groupID int64) (*SyncSummary, error) {
	if s.Paused() {
		return &SyncSummary{}, ErrSyncPaused
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()

	entries, err := s.pending.ListUnsynced(ctx, groupID)
	if err != nil {
		return &SyncSummary{}, err
	}
	return s.syncEntries(ctx, entries)
}

// SyncEntries synchronizes just the given entries. Entries already retired are skipped.
func (s *Synchronizer) SyncEntries(ctx context.Context, entries []PendingScan) (*SyncSummary, error) {
	if s.Paused() {
		return &SyncSummary{}, ErrSyncPaused
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()

	var live []PendingScan
	for _, e := range entries {
		cur, err := s.store.PendingScans.Get(ctx, e.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return &SyncSummary{}, err
		}
		if !cur.Synced {
			live = append(live, cur)
		}
	}
	return s.syncEntries(ctx, live)
}

func (s *Synchronizer) syncEntries(ctx context.Context, entries []PendingScan) (*SyncSummary, error) {
	summary := &SyncSummary{}
	if len(entries) == 0 {
		return summary, nil
	}
	totalStart := s.stages.Start()
	sourceID := s.store.SourceID()
	tickets, points, designs := partitionEntries(entries)

	err := s.syncStages(ctx, sourceID, summary, tickets, points, designs)
	s.stages.Observe(ctx, pointsync.MetricsOpSync, pointsync.MetricsStageTotal, totalStart, len(entries), 1, err != nil)
	if err != nil {
		s.logger.Warn("Sync aborted", "retired", summary.Retired, "remaining", len(entries)-summary.Retired, "error", err)
		return summary, err
	}
	s.logger.Info("Sync completed",
		"retired", summary.Retired,
		"tickets", summary.TicketsConfirmed,
		"duplicate_tickets", summary.DuplicateTickets,
		"memberships", summary.Memberships,
		"designs", summary.Designs)
	return summary, nil
}

func (s *Synchronizer) syncStages(ctx context.Context, sourceID string, summary *SyncSummary, tickets, points, designs []PendingScan) error {
	// Tickets: the compare-and-swap decides whether the spend happens at all.
	start := s.stages.Start()
	confirmed, err := s.syncTickets(ctx, sourceID, summary, tickets)
	s.stages.Observe(ctx, pointsync.MetricsOpSync, pointsync.MetricsStageTickets, start, len(tickets), 1, err != nil)
	if err != nil {
		return err
	}

	ledger := append(slices.Clone(points), confirmed...)
	slices.SortFunc(ledger, func(a, b PendingScan) int { return cmp.Compare(a.ID, b.ID) })

	start = s.stages.Start()
	err = s.syncHistory(ctx, sourceID, summary, ledger)
	s.stages.Observe(ctx, pointsync.MetricsOpSync, pointsync.MetricsStageHistory, start, len(ledger), 1, err != nil)
	if err != nil {
		return err
	}

	start = s.stages.Start()
	batches := groupByMembership(ledger)
	err = s.syncMemberships(ctx, sourceID, summary, batches)
	s.stages.Observe(ctx, pointsync.MetricsOpSync, pointsync.MetricsStageMemberships, start, len(batches), 1, err != nil)
	if err != nil {
		return err
	}

	start = s.stages.Start()
	err = s.syncDesigns(ctx, summary, designs)
	s.stages.Observe(ctx, pointsync.MetricsOpSync, pointsync.MetricsStageDesigns, start, len(designs), 1, err != nil)
	return err
}

// syncTickets runs the ticket CAS for each entry and returns the entries that won it.
// Losers are retired without any balance effect.
func (s *Synchronizer) syncTickets(ctx context.Context, sourceID string, summary *SyncSummary, tickets []PendingScan) ([]PendingScan, error) {
	var confirmed []PendingScan
	for _, op := range tickets {
		n, err := s.remote.UpdateTicketIfUnused(ctx, pointsync.TicketUseRequest{
			TicketID:   op.TicketID,
			UsedAt:     op.CapturedAt,
			SourceID:   sourceID,
			SourceOpID: op.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("use ticket %s (entry %d): %w", op.TicketID, op.ID, err)
		}
		s.markTicketUsed(ctx, op)

		if n == 0 {
			msg := fmt.Sprintf("ticket %s already used remotely; entry %d dropped without deduction", op.TicketID, op.ID)
			s.logger.Warn("Duplicate ticket use", "ticket_id", op.TicketID, "entry_id", op.ID, "user_id", op.UserID, "group_id", op.GroupID)
			summary.Warnings = append(summary.Warnings, msg)
			summary.DuplicateTickets++
			if err := s.retire(ctx, []int64{op.ID}); err != nil {
				return nil, err
			}
			summary.Retired++
			// The local projection already deducted; put the mirror back on the remote value.
			s.refreshMembership(ctx, summary, op.UserID, op.GroupID)
			continue
		}
		summary.TicketsConfirmed++
		confirmed = append(confirmed, op)
	}
	return confirmed, nil
}

func (s *Synchronizer) syncHistory(ctx context.Context, sourceID string, summary *SyncSummary, ledger []PendingScan) error {
	batchSize := s.config.HistoryBatchSize
	if batchSize <= 0 {
		batchSize = len(ledger)
	}
	for chunk := range slices.Chunk(ledger, max(batchSize, 1)) {
		records := make([]pointsync.HistoryRecord, len(chunk))
		for i, op := range chunk {
			records[i] = historyFromPending(sourceID, op)
		}
		inserted, err := s.remote.InsertHistory(ctx, records)
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		summary.HistoryInserted += inserted
	}
	return nil
}

func (s *Synchronizer) syncMemberships(ctx context.Context, sourceID string, summary *SyncSummary, batches []membershipBatch) error {
	for _, b := range batches {
		_, err := s.remote.ReadMembership(ctx, b.UserID, b.GroupID)
		switch {
		case errors.Is(err, ErrMembershipNotFound):
			if b.Balance <= 0 {
				s.warnConsumedTickets(summary, b)
				return fmt.Errorf("%w: user %s has no membership in group %d to apply %d points to",
					ErrInvariantViolation, b.UserID, b.GroupID, b.Balance)
			}
		case err != nil:
			return fmt.Errorf("read membership %s/%d: %w", b.UserID, b.GroupID, err)
		}

		res, err := s.remote.WriteMembership(ctx, b.writeRequest(sourceID))
		if err != nil {
			s.warnConsumedTickets(summary, b)
			return fmt.Errorf("write membership %s/%d: %w", b.UserID, b.GroupID, err)
		}
		if err := s.retire(ctx, b.ids()); err != nil {
			return err
		}
		summary.Retired += len(b.Entries)
		summary.Memberships++

		if _, err := s.projector.Rebase(ctx, membershipFromRemote(res.Membership)); err != nil {
			s.logger.Warn("Failed to rebase local membership", "user_id", b.UserID, "group_id", b.GroupID, "error", err)
			summary.Warnings = append(summary.Warnings, err.Error())
		}
	}
	return nil
}

func (s *Synchronizer) syncDesigns(ctx context.Context, summary *SyncSummary, designs []PendingScan) error {
	for _, op := range designs {
		if err := s.remote.UpsertDesignOwnership(ctx, designGrantFromPending(op)); err != nil {
			return fmt.Errorf("grant design %s (entry %d): %w", op.DesignID, op.ID, err)
		}
		if err := s.retire(ctx, []int64{op.ID}); err != nil {
			return err
		}
		summary.Retired++
		summary.Designs++
	}
	return nil
}

// warnConsumedTickets flags ticket uses in a failed membership write. Their tickets are
// already USED remotely while the points are not deducted; the entries stay queued and a
// later run replays the same compare-and-swap, which still reports the win.
func (s *Synchronizer) warnConsumedTickets(summary *SyncSummary, b membershipBatch) {
	for _, op := range b.Entries {
		if op.TicketID == "" {
			continue
		}
		s.logger.Warn("Ticket used remotely but not yet deducted", "ticket_id", op.TicketID, "entry_id", op.ID, "user_id", op.UserID, "group_id", op.GroupID)
		summary.Warnings = append(summary.Warnings, fmt.Sprintf(
			"ticket %s is already used remotely but its %d points were not deducted; entry %d stays queued",
			op.TicketID, -op.Points, op.ID))
	}
}

// retire removes confirmed entries, or flags them synced when they are retained.
func (s *Synchronizer) retire(ctx context.Context, ids []int64) error {
	if s.config.RetainSyncedEntries {
		return s.pending.MarkSynced(ctx, ids)
	}
	return s.pending.Remove(ctx, ids)
}

func (s *Synchronizer) markTicketUsed(ctx context.Context, op PendingScan) {
	t, err := s.store.Tickets.Get(ctx, op.TicketID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("Failed to load local ticket", "ticket_id", op.TicketID, "error", err)
		}
		return
	}
	if t.Status == pointsync.TicketUsed {
		return
	}
	usedAt := op.CapturedAt
	t.Status, t.UsedAt = pointsync.TicketUsed, &usedAt
	if err := s.store.Tickets.Put(ctx, t); err != nil {
		s.logger.Warn("Failed to mark local ticket used", "ticket_id", op.TicketID, "error", err)
	}
}

// refreshMembership re-reads a remote membership and rebases the local mirror on it.
func (s *Synchronizer) refreshMembership(ctx context.Context, summary *SyncSummary, userID string, groupID int64) {
	remote, err := s.remote.ReadMembership(ctx, userID, groupID)
	if err != nil {
		s.logger.Warn("Failed to refresh membership after duplicate ticket", "user_id", userID, "group_id", groupID, "error", err)
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("membership %s/%d not refreshed: %v", userID, groupID, err))
		return
	}
	if _, err := s.projector.Rebase(ctx, membershipFromRemote(*remote)); err != nil {
		s.logger.Warn("Failed to rebase local membership", "user_id", userID, "group_id", groupID, "error", err)
	}
}
