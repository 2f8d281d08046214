// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import "time"

// Local entity types. Timestamps are persisted as unix milliseconds.

type Group struct {
	ID              int64
	Name            string
	ThemeColor      string
	LogoURL         string
	BannerURL       string
	TransferEnabled bool
	DeletedAt       *time.Time
	CreatedAt       time.Time
}

// Membership is the local mirror of a user's standing in one group.
// Points is the spendable balance, TotalPoints the lifetime sum of grants.
type Membership struct {
	UserID           string
	GroupID          int64
	Points           int64
	TotalPoints      int64
	Rank             string
	SelectedDesignID string
	UpdatedAt        time.Time
}

// UserCache is the pre-multi-group single balance per user, kept for migration.
type UserCache struct {
	UserID           string
	Points           int64
	TotalPoints      int64
	Rank             string
	SelectedDesignID string
	UpdatedAt        time.Time
}

type Gift struct {
	ID          string
	GroupID     int64
	Name        string
	Description string
	PointsCost  int64
	ImageURL    string
	Active      bool
}

type Ticket struct {
	ID         string
	UserID     string
	GroupID    int64
	GiftID     string
	GiftName   string
	Status     string
	AcquiredAt time.Time
	UsedAt     *time.Time
}

type RankConfig struct {
	ID             string
	GroupID        int64
	Name           string
	MinTotalPoints int64
	Color          string
}

type CardDesign struct {
	ID       string
	GroupID  int64
	Name     string
	ImageURL string
	Rarity   string
}

// UserDesign records a design owned by a user. Design ids are unique across groups.
type UserDesign struct {
	UserID     string
	GroupID    int64
	DesignID   string
	AcquiredAt time.Time
}

type GroupMember struct {
	GroupID  int64
	UserID   string
	Role     string
	JoinedAt time.Time
}

type TransferRule struct {
	ID              string
	FromGroupID     int64
	ToGroupID       int64
	RateNumerator   int64
	RateDenominator int64
	Enabled         bool
}

type TransferCode struct {
	Code      string
	UserID    string
	GroupID   int64
	Points    int64
	ExpiresAt time.Time
	UsedAt    *time.Time
}

type TransferLog struct {
	ID          string
	FromUserID  string
	ToUserID    string
	FromGroupID int64
	ToGroupID   int64
	Points      int64
	CreatedAt   time.Time
}

// PendingScan is one locally captured operation awaiting remote confirmation.
// Once written, only Synced may change; everything else is enforced immutable.
type PendingScan struct {
	ID         int64
	UserID     string
	GroupID    int64
	Points     int64 // signed delta: grants positive, ticket spends negative, designs zero
	Kind       string
	TicketID   string
	DesignID   string
	CapturedAt time.Time
	Synced     bool
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func toNullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromNullMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}
