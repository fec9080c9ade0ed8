package counter

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCounters(t *testing.T) *Counters {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return New(client)
}

func TestAddAndSnapshot(t *testing.T) {
	c := newTestCounters(t)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, OutcomeSuccess, "c1"))
	require.NoError(t, c.Add(ctx, OutcomeSuccess, "c1"))
	require.NoError(t, c.Add(ctx, OutcomeSuccess, "c2"))
	require.NoError(t, c.Add(ctx, OutcomeFailed, ""))

	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"c1": 2, "c2": 1}, snap[OutcomeSuccess])
	assert.Equal(t, map[string]int64{"-": 1}, snap[OutcomeFailed])
	assert.Empty(t, snap[OutcomeSkipped])
	assert.Len(t, snap, len(Outcomes))
}

func TestDrainResets(t *testing.T) {
	c := newTestCounters(t)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, OutcomeDuplicate, "c1"))

	drained, err := c.Drain(ctx, OutcomeDuplicate)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"c1": 1}, drained)

	again, err := c.Drain(ctx, OutcomeDuplicate)
	require.NoError(t, err)
	assert.Empty(t, again)

	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap[OutcomeDuplicate])
}
