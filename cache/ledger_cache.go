/*
Package cache keeps materialized driver-ledger views in Redis.

PURPOSE:
  Deriving a driver ledger reads three collections. Read-heavy screens may
  reuse the last derived copy instead. A cached copy is never patched: any
  change that can affect a driver's ledger invalidates the key and the next
  read re-derives from the raw collections.

KEYS:
  fleet:ledger:<driverID>  JSON-encoded fleet.Ledger, expires after TTL

SEE ALSO:
  - fleet/ledger.go: the derivation being cached
  - service/service.go: cache-aside reads, invalidation on writes
*/
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleetops/fleet-ledger/fleet"
)

const keyPrefix = "fleet:ledger:"

// New creates a Redis client and checks it is reachable.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: ping: %w", err)
	}

	return client, nil
}

// LedgerCache stores derived ledgers keyed by driver.
type LedgerCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewLedgerCache(client redis.UniversalClient, ttl time.Duration) *LedgerCache {
	return &LedgerCache{client: client, ttl: ttl}
}

func key(driverID fleet.DriverID) string {
	return keyPrefix + string(driverID)
}

// Get returns the cached ledger, or false on a miss.
func (c *LedgerCache) Get(ctx context.Context, driverID fleet.DriverID) (fleet.Ledger, bool, error) {
	raw, err := c.client.Get(ctx, key(driverID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return fleet.Ledger{}, false, nil
	}
	if err != nil {
		return fleet.Ledger{}, false, fmt.Errorf("cache: get %s: %w", driverID, err)
	}

	var l fleet.Ledger
	if err := json.Unmarshal(raw, &l); err != nil {
		// A corrupt entry is dropped and treated as a miss.
		c.client.Del(ctx, key(driverID))
		return fleet.Ledger{}, false, nil
	}
	return l, true, nil
}

// Put stores a freshly derived ledger.
func (c *LedgerCache) Put(ctx context.Context, l fleet.Ledger) error {
	raw, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", l.DriverID, err)
	}
	if err := c.client.Set(ctx, key(l.DriverID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", l.DriverID, err)
	}
	return nil
}

// Invalidate drops the cached ledgers of the given drivers.
func (c *LedgerCache) Invalidate(ctx context.Context, driverIDs ...fleet.DriverID) error {
	keys := make([]string, 0, len(driverIDs))
	for _, id := range driverIDs {
		if id != "" {
			keys = append(keys, key(id))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: invalidate: %w", err)
	}
	return nil
}

// Flush drops every cached ledger. Used when the whole store is reset.
func (c *LedgerCache) Flush(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache: scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
