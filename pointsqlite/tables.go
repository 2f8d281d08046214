// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

var groupsSpec = &tableSpec[Group]{
	name:    "groups",
	columns: []string{"id", "name", "theme_color", "logo_url", "banner_url", "transfer_enabled", "deleted_at", "created_at"},
	key:     []string{"id"},
	values: func(g *Group) []any {
		return []any{g.ID, g.Name, g.ThemeColor, g.LogoURL, g.BannerURL, g.TransferEnabled, toNullMillis(g.DeletedAt), toMillis(g.CreatedAt)}
	},
	scan: func(r rowScanner) (Group, error) {
		var g Group
		var deletedAt *int64
		var createdAt int64
		err := r.Scan(&g.ID, &g.Name, &g.ThemeColor, &g.LogoURL, &g.BannerURL, &g.TransferEnabled, &deletedAt, &createdAt)
		g.DeletedAt, g.CreatedAt = fromNullMillis(deletedAt), fromMillis(createdAt)
		return g, err
	},
}

var membershipsSpec = &tableSpec[Membership]{
	name:    "user_memberships",
	columns: []string{"user_id", "group_id", "points", "total_points", "rank", "selected_design_id", "updated_at"},
	key:     []string{"user_id", "group_id"},
	values: func(m *Membership) []any {
		return []any{m.UserID, m.GroupID, m.Points, m.TotalPoints, m.Rank, m.SelectedDesignID, toMillis(m.UpdatedAt)}
	},
	scan: func(r rowScanner) (Membership, error) {
		var m Membership
		var updatedAt int64
		err := r.Scan(&m.UserID, &m.GroupID, &m.Points, &m.TotalPoints, &m.Rank, &m.SelectedDesignID, &updatedAt)
		m.UpdatedAt = fromMillis(updatedAt)
		return m, err
	},
}

var userCacheSpec = &tableSpec[UserCache]{
	name:    "user_cache",
	columns: []string{"user_id", "points", "total_points", "rank", "selected_design_id", "updated_at"},
	key:     []string{"user_id"},
	values: func(u *UserCache) []any {
		return []any{u.UserID, u.Points, u.TotalPoints, u.Rank, u.SelectedDesignID, toMillis(u.UpdatedAt)}
	},
	scan: func(r rowScanner) (UserCache, error) {
		var u UserCache
		var updatedAt int64
		err := r.Scan(&u.UserID, &u.Points, &u.TotalPoints, &u.Rank, &u.SelectedDesignID, &updatedAt)
		u.UpdatedAt = fromMillis(updatedAt)
		return u, err
	},
}

var giftsSpec = &tableSpec[Gift]{
	name:    "gifts",
	columns: []string{"id", "group_id", "name", "description", "points_cost", "image_url", "active"},
	key:     []string{"id"},
	values: func(g *Gift) []any {
		return []any{g.ID, g.GroupID, g.Name, g.Description, g.PointsCost, g.ImageURL, g.Active}
	},
	scan: func(r rowScanner) (Gift, error) {
		var g Gift
		err := r.Scan(&g.ID, &g.GroupID, &g.Name, &g.Description, &g.PointsCost, &g.ImageURL, &g.Active)
		return g, err
	},
}

var ticketsSpec = &tableSpec[Ticket]{
	name:    "user_tickets",
	columns: []string{"id", "user_id", "group_id", "gift_id", "gift_name", "status", "acquired_at", "used_at"},
	key:     []string{"id"},
	values: func(t *Ticket) []any {
		return []any{t.ID, t.UserID, t.GroupID, t.GiftID, t.GiftName, t.Status, toMillis(t.AcquiredAt), toNullMillis(t.UsedAt)}
	},
	scan: func(r rowScanner) (Ticket, error) {
		var t Ticket
		var acquiredAt int64
		var usedAt *int64
		err := r.Scan(&t.ID, &t.UserID, &t.GroupID, &t.GiftID, &t.GiftName, &t.Status, &acquiredAt, &usedAt)
		t.AcquiredAt, t.UsedAt = fromMillis(acquiredAt), fromNullMillis(usedAt)
		return t, err
	},
}

var rankConfigsSpec = &tableSpec[RankConfig]{
	name:    "rank_configs",
	columns: []string{"id", "group_id", "name", "min_total_points", "color"},
	key:     []string{"id"},
	values: func(c *RankConfig) []any {
		return []any{c.ID, c.GroupID, c.Name, c.MinTotalPoints, c.Color}
	},
	scan: func(r rowScanner) (RankConfig, error) {
		var c RankConfig
		err := r.Scan(&c.ID, &c.GroupID, &c.Name, &c.MinTotalPoints, &c.Color)
		return c, err
	},
}

var cardDesignsSpec = &tableSpec[CardDesign]{
	name:    "card_designs",
	columns: []string{"id", "group_id", "name", "image_url", "rarity"},
	key:     []string{"id"},
	values: func(d *CardDesign) []any {
		return []any{d.ID, d.GroupID, d.Name, d.ImageURL, d.Rarity}
	},
	scan: func(r rowScanner) (CardDesign, error) {
		var d CardDesign
		err := r.Scan(&d.ID, &d.GroupID, &d.Name, &d.ImageURL, &d.Rarity)
		return d, err
	},
}

var userDesignsSpec = &tableSpec[UserDesign]{
	name:    "user_designs",
	columns: []string{"user_id", "design_id", "group_id", "acquired_at"},
	key:     []string{"user_id", "design_id"},
	values: func(d *UserDesign) []any {
		return []any{d.UserID, d.DesignID, d.GroupID, toMillis(d.AcquiredAt)}
	},
	scan: func(r rowScanner) (UserDesign, error) {
		var d UserDesign
		var acquiredAt int64
		err := r.Scan(&d.UserID, &d.DesignID, &d.GroupID, &acquiredAt)
		d.AcquiredAt = fromMillis(acquiredAt)
		return d, err
	},
}

var groupMembersSpec = &tableSpec[GroupMember]{
	name:    "group_members",
	columns: []string{"group_id", "user_id", "role", "joined_at"},
	key:     []string{"group_id", "user_id"},
	values: func(m *GroupMember) []any {
		return []any{m.GroupID, m.UserID, m.Role, toMillis(m.JoinedAt)}
	},
	scan: func(r rowScanner) (GroupMember, error) {
		var m GroupMember
		var joinedAt int64
		err := r.Scan(&m.GroupID, &m.UserID, &m.Role, &joinedAt)
		m.JoinedAt = fromMillis(joinedAt)
		return m, err
	},
}

var transferRulesSpec = &tableSpec[TransferRule]{
	name:    "transfer_rules",
	columns: []string{"id", "from_group_id", "to_group_id", "rate_numerator", "rate_denominator", "enabled"},
	key:     []string{"id"},
	values: func(t *TransferRule) []any {
		return []any{t.ID, t.FromGroupID, t.ToGroupID, t.RateNumerator, t.RateDenominator, t.Enabled}
	},
	scan: func(r rowScanner) (TransferRule, error) {
		var t TransferRule
		err := r.Scan(&t.ID, &t.FromGroupID, &t.ToGroupID, &t.RateNumerator, &t.RateDenominator, &t.Enabled)
		return t, err
	},
}

var transferCodesSpec = &tableSpec[TransferCode]{
	name:    "transfer_codes",
	columns: []string{"code", "user_id", "group_id", "points", "expires_at", "used_at"},
	key:     []string{"code"},
	values: func(c *TransferCode) []any {
		return []any{c.Code, c.UserID, c.GroupID, c.Points, toMillis(c.ExpiresAt), toNullMillis(c.UsedAt)}
	},
	scan: func(r rowScanner) (TransferCode, error) {
		var c TransferCode
		var expiresAt int64
		var usedAt *int64
		err := r.Scan(&c.Code, &c.UserID, &c.GroupID, &c.Points, &expiresAt, &usedAt)
		c.ExpiresAt, c.UsedAt = fromMillis(expiresAt), fromNullMillis(usedAt)
		return c, err
	},
}

var transferLogsSpec = &tableSpec[TransferLog]{
	name:    "transfer_logs",
	columns: []string{"id", "from_user_id", "to_user_id", "from_group_id", "to_group_id", "points", "created_at"},
	key:     []string{"id"},
	values: func(l *TransferLog) []any {
		return []any{l.ID, l.FromUserID, l.ToUserID, l.FromGroupID, l.ToGroupID, l.Points, toMillis(l.CreatedAt)}
	},
	scan: func(r rowScanner) (TransferLog, error) {
		var l TransferLog
		var createdAt int64
		err := r.Scan(&l.ID, &l.FromUserID, &l.ToUserID, &l.FromGroupID, &l.ToGroupID, &l.Points, &createdAt)
		l.CreatedAt = fromMillis(createdAt)
		return l, err
	},
}

// pendingScansSpec backs read access to the pending log. Writes go through PendingLog.
var pendingScansSpec = &tableSpec[PendingScan]{
	name:    "pending_scans",
	columns: []string{"id", "user_id", "group_id", "points", "kind", "ticket_id", "design_id", "captured_at", "synced"},
	key:     []string{"id"},
	values: func(p *PendingScan) []any {
		return []any{p.ID, p.UserID, p.GroupID, p.Points, p.Kind, p.TicketID, p.DesignID, toMillis(p.CapturedAt), p.Synced}
	},
	scan: func(r rowScanner) (PendingScan, error) {
		var p PendingScan
		var capturedAt int64
		err := r.Scan(&p.ID, &p.UserID, &p.GroupID, &p.Points, &p.Kind, &p.TicketID, &p.DesignID, &capturedAt, &p.Synced)
		p.CapturedAt = fromMillis(capturedAt)
		return p, err
	},
}
