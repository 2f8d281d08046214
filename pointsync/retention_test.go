package pointsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsVisible(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	cases := []struct {
		name      string
		deletedAt *time.Time
		want      bool
	}{
		{"active", nil, true},
		{"deleted an hour ago", at(time.Hour), true},
		{"deleted 29 days ago", at(29 * 24 * time.Hour), true},
		{"deleted exactly 30 days ago", at(30 * 24 * time.Hour), false},
		{"deleted 31 days ago", at(31 * 24 * time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsVisible(tc.deletedAt, now, GroupRetention))
		})
	}
}
