package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/fleet-ledger/cache"
	"github.com/fleetops/fleet-ledger/fleet"
)

func newTestCache(t *testing.T, ttl time.Duration) (*cache.LedgerCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.NewLedgerCache(client, ttl), mr
}

func sampleLedger(id fleet.DriverID) fleet.Ledger {
	return fleet.Ledger{
		DriverID: id,
		Inflows:  decimal.NewFromInt(450000),
		Outflows: decimal.NewFromInt(10000),
		Balance:  decimal.NewFromInt(440000),
		Entries: []fleet.LedgerEntry{{
			ID: "trip-T1", Source: fleet.SourceTrip, ReferenceID: "T1", Type: fleet.FlowInflow,
			Amount: decimal.NewFromInt(450000), Date: fleet.MustParseDate("2025-03-14"), Description: "Trip Douala → Yaoundé",
		}},
	}
}

func TestLedgerCache_PutGet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, time.Minute)

	_, ok, err := c.Get(ctx, "D1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, sampleLedger("D1")))

	got, ok, err := c.Get(ctx, "D1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(440000)))
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "2025-03-14", got.Entries[0].Date.String())
}

func TestLedgerCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, time.Minute)
	require.NoError(t, c.Put(ctx, sampleLedger("D1")))
	require.NoError(t, c.Put(ctx, sampleLedger("D2")))

	require.NoError(t, c.Invalidate(ctx, "D1", ""))

	_, ok, _ := c.Get(ctx, "D1")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "D2")
	assert.True(t, ok)

	require.NoError(t, c.Invalidate(ctx))
}

func TestLedgerCache_TTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, 10*time.Minute)
	require.NoError(t, c.Put(ctx, sampleLedger("D1")))

	mr.FastForward(11 * time.Minute)

	_, ok, err := c.Get(ctx, "D1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedgerCache_CorruptEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, time.Minute)
	require.NoError(t, mr.Set("fleet:ledger:D1", "{not json"))

	_, ok, err := c.Get(ctx, "D1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("fleet:ledger:D1"))
}

func TestLedgerCache_Flush(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, time.Minute)
	require.NoError(t, c.Put(ctx, sampleLedger("D1")))
	require.NoError(t, c.Put(ctx, sampleLedger("D2")))
	require.NoError(t, mr.Set("other:key", "keep"))

	require.NoError(t, c.Flush(ctx))

	assert.False(t, mr.Exists("fleet:ledger:D1"))
	assert.False(t, mr.Exists("fleet:ledger:D2"))
	assert.True(t, mr.Exists("other:key"))
}

func TestLedgerCache_ErrorWhenServerDown(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, time.Minute)
	mr.Close()

	_, _, err := c.Get(ctx, "D1")
	assert.Error(t, err)
}

func TestNew_PingFails(t *testing.T) {
	_, err := cache.New(context.Background(), "127.0.0.1:1")
	assert.Error(t, err)
}
