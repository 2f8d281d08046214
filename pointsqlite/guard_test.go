package pointsqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type proberFunc func(ctx context.Context) error

func (f proberFunc) Probe(ctx context.Context) error { return f(ctx) }

func TestGuardClassifiesFailures(t *testing.T) {
	ctx := context.Background()
	var result error
	var offline []error
	g := NewGuard(proberFunc(func(context.Context) error { return result }), discardLogger)
	g.OnOffline = func(err error) { offline = append(offline, err) }

	require.True(t, g.Reachable(ctx))
	at, err := g.LastProbe()
	require.NoError(t, err)
	require.False(t, at.IsZero())

	result = errors.New("dns lookup failed")
	require.False(t, g.Reachable(ctx))
	_, err = g.LastProbe()
	require.ErrorIs(t, err, ErrUnreachable, "unknown failures count as unreachable")

	result = ErrUnauthorized
	err = g.Require(ctx, "refresh groups")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.ErrorContains(t, err, "refresh groups")

	require.Len(t, offline, 2)

	result = nil
	require.NoError(t, g.Require(ctx, "sync"))
	require.Len(t, offline, 2)
}
