// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"cmp"
	"slices"

	"github.com/mobiletoly/go-pointcard/pointsync"
)

// membershipBatch is the summed effect of pending entries on one (user, group).
type membershipBatch struct {
	UserID   string
	GroupID  int64
	Balance  int64 // signed sum of points
	Lifetime int64 // sum of positive points
	Entries  []PendingScan
}

func (b membershipBatch) ids() []int64 {
	ids := make([]int64, len(b.Entries))
	for i, e := range b.Entries {
		ids[i] = e.ID
	}
	return ids
}

func (b membershipBatch) writeRequest(sourceID string) pointsync.MembershipWriteRequest {
	refs := make([]pointsync.OpRef, len(b.Entries))
	for i, e := range b.Entries {
		refs[i] = opRefFromPending(sourceID, e)
	}
	return pointsync.MembershipWriteRequest{
		UserID:        b.UserID,
		GroupID:       b.GroupID,
		BalanceDelta:  b.Balance,
		LifetimeDelta: b.Lifetime,
		Ops:           refs,
	}
}

// partitionEntries splits entries into ticket uses, point-log entries and design grants,
// keeping id order within each part. A spend without a ticket goes to the point log.
func partitionEntries(entries []PendingScan) (tickets, points, designs []PendingScan) {
	for _, e := range entries {
		switch e.Kind {
		case pointsync.KindUseTicket:
			if e.TicketID == "" {
				points = append(points, e)
				continue
			}
			tickets = append(tickets, e)
		case pointsync.KindGrant:
			points = append(points, e)
		case pointsync.KindGrantDesign:
			designs = append(designs, e)
		}
	}
	return tickets, points, designs
}

// groupByMembership sums entries per (user, group), ordered by user then group.
func groupByMembership(entries []PendingScan) []membershipBatch {
	type key struct {
		userID  string
		groupID int64
	}
	index := map[key]int{}
	var batches []membershipBatch
	for _, e := range entries {
		k := key{e.UserID, e.GroupID}
		i, ok := index[k]
		if !ok {
			i = len(batches)
			index[k] = i
			batches = append(batches, membershipBatch{UserID: e.UserID, GroupID: e.GroupID})
		}
		b := &batches[i]
		b.Entries = append(b.Entries, e)
		b.Balance += e.Points
		if e.Points > 0 {
			b.Lifetime += e.Points
		}
	}
	slices.SortFunc(batches, func(a, b membershipBatch) int {
		return cmp.Or(cmp.Compare(a.UserID, b.UserID), cmp.Compare(a.GroupID, b.GroupID))
	})
	return batches
}
