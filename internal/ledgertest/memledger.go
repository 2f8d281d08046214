// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package ledgertest provides an in-memory pointsync.Ledger with fault hooks
// for handler and device synchronizer tests.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mobiletoly/go-pointcard/pointsync"
)

type membershipKey struct {
	userID  string
	groupID int64
}

type opKey struct {
	sourceID string
	opID     int64
}

type ticketState struct {
	row          pointsync.TicketRow
	usedBySource string
	usedByOp     int64
}

// MemLedger mirrors the PostgreSQL ledger rules in memory
type MemLedger struct {
	mu sync.Mutex

	groups      map[int64]pointsync.GroupRow
	nextGroupID int64
	gifts       map[string]pointsync.GiftRow
	tickets     map[string]*ticketState
	memberships map[membershipKey]pointsync.MembershipRow
	appliedOps  map[opKey]struct{}
	history     map[opKey]pointsync.HistoryRecord
	designs     map[string]pointsync.DesignGrantRequest

	// Fault hooks; a non-nil error is returned before the call has any effect.
	FailInsertHistory   func(records []pointsync.HistoryRecord) error
	FailTicketCAS       func(req pointsync.TicketUseRequest) error
	FailWriteMembership func(req pointsync.MembershipWriteRequest) error
	FailDesignGrant     func(req pointsync.DesignGrantRequest) error
	PingErr             error

	Now       func() time.Time
	Retention time.Duration
}

var _ pointsync.Ledger = (*MemLedger)(nil)

// New returns a ledger holding only the default group
func New() *MemLedger {
	l := &MemLedger{
		groups:      map[int64]pointsync.GroupRow{},
		nextGroupID: pointsync.DefaultGroupID + 1,
		gifts:       map[string]pointsync.GiftRow{},
		tickets:     map[string]*ticketState{},
		memberships: map[membershipKey]pointsync.MembershipRow{},
		appliedOps:  map[opKey]struct{}{},
		history:     map[opKey]pointsync.HistoryRecord{},
		designs:     map[string]pointsync.DesignGrantRequest{},
		Now:         time.Now,
		Retention:   pointsync.GroupRetention,
	}
	l.groups[pointsync.DefaultGroupID] = pointsync.GroupRow{ID: pointsync.DefaultGroupID, Name: "Default", CreatedAt: l.Now()}
	return l
}

func (l *MemLedger) Ping(ctx context.Context) error {
	return l.PingErr
}

func (l *MemLedger) InsertHistory(ctx context.Context, records []pointsync.HistoryRecord) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailInsertHistory != nil {
		if err := l.FailInsertHistory(records); err != nil {
			return 0, err
		}
	}
	var inserted int64
	for _, r := range records {
		k := opKey{r.SourceID, r.SourceOpID}
		if _, ok := l.history[k]; ok {
			continue
		}
		l.history[k] = r
		inserted++
	}
	return inserted, nil
}

func (l *MemLedger) UpdateTicketIfUnused(ctx context.Context, req pointsync.TicketUseRequest) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailTicketCAS != nil {
		if err := l.FailTicketCAS(req); err != nil {
			return 0, err
		}
	}
	t, ok := l.tickets[req.TicketID]
	if !ok {
		return 0, nil
	}
	replay := t.usedBySource == req.SourceID && t.usedByOp == req.SourceOpID
	if t.row.Status != pointsync.TicketUnused && !replay {
		return 0, nil
	}
	usedAt := req.UsedAt
	t.row.Status = pointsync.TicketUsed
	if t.row.UsedAt == nil {
		t.row.UsedAt = &usedAt
	}
	t.usedBySource, t.usedByOp = req.SourceID, req.SourceOpID
	return 1, nil
}

func (l *MemLedger) ReadMembership(ctx context.Context, userID string, groupID int64) (*pointsync.MembershipRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.memberships[membershipKey{userID, groupID}]
	if !ok {
		return nil, fmt.Errorf("%w: membership %s/%d", pointsync.ErrNotFound, userID, groupID)
	}
	return &m, nil
}

func (l *MemLedger) WriteMembership(ctx context.Context, req pointsync.MembershipWriteRequest) (*pointsync.MembershipWriteResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailWriteMembership != nil {
		if err := l.FailWriteMembership(req); err != nil {
			return nil, err
		}
	}
	res := &pointsync.MembershipWriteResponse{}
	balance, lifetime := req.BalanceDelta, req.LifetimeDelta
	var fresh []opKey
	if len(req.Ops) > 0 {
		balance, lifetime = 0, 0
		for _, op := range req.Ops {
			k := opKey{op.SourceID, op.SourceOpID}
			if _, seen := l.appliedOps[k]; seen {
				res.Replayed++
				continue
			}
			fresh = append(fresh, k)
			res.Applied++
			balance += op.Points
			if op.Points > 0 {
				lifetime += op.Points
			}
		}
	}

	key := membershipKey{req.UserID, req.GroupID}
	m, exists := l.memberships[key]
	if !exists {
		if balance == 0 && lifetime == 0 {
			return nil, fmt.Errorf("%w: membership %s/%d", pointsync.ErrNotFound, req.UserID, req.GroupID)
		}
		if _, ok := l.groups[req.GroupID]; !ok {
			return nil, fmt.Errorf("%w: group %d", pointsync.ErrNotFound, req.GroupID)
		}
		m = pointsync.MembershipRow{UserID: req.UserID, GroupID: req.GroupID, Rank: pointsync.DefaultRank}
	}
	if m.Balance+balance < 0 {
		return nil, fmt.Errorf("%w: user %s group %d delta %d", pointsync.ErrNegativeBalance, req.UserID, req.GroupID, balance)
	}
	m.Balance += balance
	m.Lifetime += lifetime
	m.UpdatedAt = l.Now()
	l.memberships[key] = m
	for _, k := range fresh {
		l.appliedOps[k] = struct{}{}
	}
	res.Membership = m
	return res, nil
}

func (l *MemLedger) UpsertDesignOwnership(ctx context.Context, req pointsync.DesignGrantRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailDesignGrant != nil {
		if err := l.FailDesignGrant(req); err != nil {
			return err
		}
	}
	k := fmt.Sprintf("%s/%d/%s", req.UserID, req.GroupID, req.DesignID)
	if _, ok := l.designs[k]; !ok {
		l.designs[k] = req
	}
	return nil
}

func (l *MemLedger) LeaveGroup(ctx context.Context, userID string, groupID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := membershipKey{userID, groupID}
	if _, ok := l.memberships[key]; !ok {
		return fmt.Errorf("%w: membership %s/%d", pointsync.ErrNotFound, userID, groupID)
	}
	delete(l.memberships, key)
	for k, d := range l.designs {
		if d.UserID == userID && d.GroupID == groupID {
			delete(l.designs, k)
		}
	}
	return nil
}

func (l *MemLedger) CreateGroup(ctx context.Context, req pointsync.CreateGroupRequest) (*pointsync.GroupRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if req.Name == "" {
		return nil, fmt.Errorf("%w: group name is required", pointsync.ErrBadRequest)
	}
	g := pointsync.GroupRow{
		ID:              l.nextGroupID,
		Name:            req.Name,
		ThemeColor:      req.ThemeColor,
		LogoURL:         req.LogoURL,
		BannerURL:       req.BannerURL,
		TransferEnabled: req.TransferEnabled,
		CreatedAt:       l.Now(),
	}
	l.nextGroupID++
	l.groups[g.ID] = g
	return &g, nil
}

func (l *MemLedger) SoftDeleteGroup(ctx context.Context, groupID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[groupID]
	if !ok || g.DeletedAt != nil {
		return fmt.Errorf("%w: active group %d", pointsync.ErrNotFound, groupID)
	}
	now := l.Now()
	g.DeletedAt = &now
	l.groups[groupID] = g
	return nil
}

func (l *MemLedger) ListGroups(ctx context.Context) ([]pointsync.GroupRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.Now()
	var out []pointsync.GroupRow
	for _, g := range l.groups {
		if pointsync.IsVisible(g.DeletedAt, now, l.Retention) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *MemLedger) CreateGift(ctx context.Context, req pointsync.CreateGiftRequest) (*pointsync.GiftRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.groups[req.GroupID]; !ok {
		return nil, fmt.Errorf("%w: group %d", pointsync.ErrNotFound, req.GroupID)
	}
	g := pointsync.GiftRow{
		ID:          uuid.NewString(),
		GroupID:     req.GroupID,
		Name:        req.Name,
		Description: req.Description,
		PointsCost:  req.PointsCost,
		ImageURL:    req.ImageURL,
		Active:      true,
	}
	l.gifts[g.ID] = g
	return &g, nil
}

func (l *MemLedger) ListGifts(ctx context.Context, groupID int64) ([]pointsync.GiftRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []pointsync.GiftRow
	for _, g := range l.gifts {
		if g.GroupID == groupID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (l *MemLedger) IssueTicket(ctx context.Context, req pointsync.IssueTicketRequest) (*pointsync.TicketRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	gift, ok := l.gifts[req.GiftID]
	if !ok {
		return nil, fmt.Errorf("%w: gift %s", pointsync.ErrNotFound, req.GiftID)
	}
	t := pointsync.TicketRow{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		GroupID:    gift.GroupID,
		GiftID:     gift.ID,
		GiftName:   gift.Name,
		Status:     pointsync.TicketUnused,
		AcquiredAt: l.Now(),
	}
	l.tickets[t.ID] = &ticketState{row: t}
	return &t, nil
}

func (l *MemLedger) ListTickets(ctx context.Context, userID string, groupID int64) ([]pointsync.TicketRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []pointsync.TicketRow
	for _, t := range l.tickets {
		if t.row.UserID == userID && t.row.GroupID == groupID {
			out = append(out, t.row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *MemLedger) ListMemberships(ctx context.Context, userID string) ([]pointsync.MembershipRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []pointsync.MembershipRow
	for k, m := range l.memberships {
		if k.userID == userID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out, nil
}

// SeedMembership sets a membership directly, bypassing op bookkeeping.
func (l *MemLedger) SeedMembership(m pointsync.MembershipRow) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m.Rank == "" {
		m.Rank = pointsync.DefaultRank
	}
	l.memberships[membershipKey{m.UserID, m.GroupID}] = m
}

// Membership returns the current membership and whether it exists.
func (l *MemLedger) Membership(userID string, groupID int64) (pointsync.MembershipRow, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.memberships[membershipKey{userID, groupID}]
	return m, ok
}

// Ticket returns the current state of a ticket.
func (l *MemLedger) Ticket(id string) (pointsync.TicketRow, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tickets[id]
	if !ok {
		return pointsync.TicketRow{}, false
	}
	return t.row, true
}

// HistoryCount returns the number of distinct history records.
func (l *MemLedger) HistoryCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history)
}

// History returns all history records ordered by source op id.
func (l *MemLedger) History() []pointsync.HistoryRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]pointsync.HistoryRecord, 0, len(l.history))
	for _, r := range l.history {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceOpID < out[j].SourceOpID })
	return out
}

// DesignCount returns the number of distinct design ownership rows.
func (l *MemLedger) DesignCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.designs)
}
