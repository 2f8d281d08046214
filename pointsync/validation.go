// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsync

import "strings"

func validateHistoryRecord(r *HistoryRecord) error {
	r.Kind = strings.ToUpper(strings.TrimSpace(r.Kind))
	switch {
	case strings.TrimSpace(r.UserID) == "":
		return badRequestf("history record: user_id is required")
	case r.GroupID <= 0:
		return badRequestf("history record: group_id must be positive")
	case !IsValidKind(r.Kind):
		return badRequestf("history record: unknown kind %q", r.Kind)
	case r.SourceID == "" || r.SourceOpID <= 0:
		return badRequestf("history record: source_id and source_op_id are required")
	case r.OccurredAt.IsZero():
		return badRequestf("history record: occurred_at is required")
	}
	switch r.Kind {
	case KindGrant:
		if r.Points <= 0 {
			return badRequestf("history record: GRANT points must be positive, got %d", r.Points)
		}
	case KindUseTicket:
		if r.Points > 0 {
			return badRequestf("history record: USE_TICKET points must not be positive, got %d", r.Points)
		}
	case KindGrantDesign:
		if r.Points != 0 {
			return badRequestf("history record: GRANT_DESIGN carries no points, got %d", r.Points)
		}
	}
	return nil
}

func validateTicketUse(req *TicketUseRequest) error {
	switch {
	case strings.TrimSpace(req.TicketID) == "":
		return badRequestf("ticket_id is required")
	case req.SourceID == "" || req.SourceOpID <= 0:
		return badRequestf("source_id and source_op_id are required")
	}
	return nil
}

func validateMembershipWrite(req *MembershipWriteRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return badRequestf("user_id is required")
	}
	if req.GroupID <= 0 {
		return badRequestf("group_id must be positive")
	}
	if req.LifetimeDelta < 0 {
		return badRequestf("lifetime_delta must not be negative")
	}
	if len(req.Ops) == 0 {
		return nil
	}
	var balance, lifetime int64
	seen := make(map[OpRef]struct{}, len(req.Ops))
	for _, op := range req.Ops {
		if op.SourceID == "" || op.SourceOpID <= 0 {
			return badRequestf("op refs need source_id and source_op_id")
		}
		key := OpRef{SourceID: op.SourceID, SourceOpID: op.SourceOpID}
		if _, dup := seen[key]; dup {
			return badRequestf("duplicate op ref %s/%d", op.SourceID, op.SourceOpID)
		}
		seen[key] = struct{}{}
		balance += op.Points
		if op.Points > 0 {
			lifetime += op.Points
		}
	}
	if balance != req.BalanceDelta || lifetime != req.LifetimeDelta {
		return badRequestf("deltas (%d, %d) do not match op refs (%d, %d)",
			req.BalanceDelta, req.LifetimeDelta, balance, lifetime)
	}
	return nil
}

func validateDesignGrant(req *DesignGrantRequest) error {
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return badRequestf("user_id is required")
	case req.GroupID <= 0:
		return badRequestf("group_id must be positive")
	case strings.TrimSpace(req.DesignID) == "":
		return badRequestf("design_id is required")
	}
	return nil
}
