package cache

import (
	"context"
	"courier-routing-service/internal/domain"
	"courier-routing-service/internal/platform/obs"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisRoutesKey     = "routing:routes"
	redisDeliveriesKey = "routing:deliveries"
	redisDriversKey    = "routing:drivers"
	redisMetaKey       = "routing:meta"
)

// RedisSnapshotCache is a Redis-backed implementation of the SnapshotCache
// port. Each entity lives in a hash keyed by id so merges upsert per row
// instead of overwriting the whole snapshot.
type RedisSnapshotCache struct {
	Client *redis.Client
}

func NewRedisSnapshotCache(client *redis.Client) *RedisSnapshotCache {
	return &RedisSnapshotCache{Client: client}
}

// Load the cached working set. Returns (nil, nil) when the cache is empty.
func (c *RedisSnapshotCache) Load(ctx context.Context) (_ *domain.WorkingSet, err error) {
	defer obs.Time(ctx, "snapshot.redis.Load")(&err)

	if c.Client == nil {
		return nil, errors.New("redis snapshot cache: client is nil")
	}

	rawMeta, err := c.Client.Get(ctx, redisMetaKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: get meta: %w", err)
	}

	var meta snapshotMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, fmt.Errorf("load snapshot: decode meta: %w", err)
	}

	date, err := time.Parse(time.DateOnly, meta.Date)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: parse date %q: %w", meta.Date, err)
	}

	ws := &domain.WorkingSet{Date: date, FetchedAt: meta.FetchedAt}

	routeRaw, err := c.Client.HGetAll(ctx, redisRoutesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: read routes hash: %w", err)
	}
	for id, raw := range routeRaw {
		r, err := decodeRoute([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("load snapshot: route %s: %w", id, err)
		}
		ws.Routes = append(ws.Routes, r)
	}

	deliveryRaw, err := c.Client.HGetAll(ctx, redisDeliveriesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: read deliveries hash: %w", err)
	}
	for id, raw := range deliveryRaw {
		d, err := decodeDelivery([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("load snapshot: delivery %s: %w", id, err)
		}
		ws.Deliveries = append(ws.Deliveries, d)
	}

	driverRaw, err := c.Client.HGetAll(ctx, redisDriversKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: read drivers hash: %w", err)
	}
	for id, raw := range driverRaw {
		da, err := decodeDriver([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("load snapshot: driver %s: %w", id, err)
		}
		ws.Drivers = append(ws.Drivers, da)
	}

	normalizeWorkingSet(ws)
	return ws, nil
}

// Merge upserts the fetched working set by entity id, keeping whichever copy
// of a row carries the newer updated-at timestamp.
func (c *RedisSnapshotCache) Merge(ctx context.Context, ws *domain.WorkingSet) (err error) {
	defer obs.Time(ctx, "snapshot.redis.Merge")(&err)

	if c.Client == nil {
		return errors.New("redis snapshot cache: client is nil")
	}
	if ws == nil {
		return errors.New("merge snapshot: working set is nil")
	}

	routeFields := make(map[string]any, len(ws.Routes))
	for _, r := range ws.Routes {
		stale, err := c.staleThan(ctx, redisRoutesKey, r.ID, r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("merge snapshot: route %s: %w", r.ID, err)
		}
		if stale {
			continue
		}
		raw, err := encodeRoute(r)
		if err != nil {
			return fmt.Errorf("merge snapshot: encode route %s: %w", r.ID, err)
		}
		routeFields[r.ID] = raw
	}

	deliveryFields := make(map[string]any, len(ws.Deliveries))
	for _, d := range ws.Deliveries {
		stale, err := c.staleThan(ctx, redisDeliveriesKey, d.ID, d.UpdatedAt)
		if err != nil {
			return fmt.Errorf("merge snapshot: delivery %s: %w", d.ID, err)
		}
		if stale {
			continue
		}
		raw, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("merge snapshot: encode delivery %s: %w", d.ID, err)
		}
		deliveryFields[d.ID] = raw
	}

	driverFields := make(map[string]any, len(ws.Drivers))
	for _, da := range ws.Drivers {
		raw, err := json.Marshal(da)
		if err != nil {
			return fmt.Errorf("merge snapshot: encode driver %s: %w", da.ID, err)
		}
		driverFields[da.ID] = raw
	}

	meta, err := json.Marshal(snapshotMeta{
		Date:      ws.Date.Format(time.DateOnly),
		FetchedAt: ws.FetchedAt,
	})
	if err != nil {
		return fmt.Errorf("merge snapshot: encode meta: %w", err)
	}

	pipe := c.Client.Pipeline()
	if len(routeFields) > 0 {
		pipe.HSet(ctx, redisRoutesKey, routeFields)
	}
	if len(deliveryFields) > 0 {
		pipe.HSet(ctx, redisDeliveriesKey, deliveryFields)
	}
	if len(driverFields) > 0 {
		pipe.HSet(ctx, redisDriversKey, driverFields)
	}
	pipe.Set(ctx, redisMetaKey, meta, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("merge snapshot: pipeline exec: %w", err)
	}

	return nil
}

// staleThan reports whether the cached copy of id is newer than updatedAt,
// meaning the incoming row is the stale one and must not overwrite it.
func (c *RedisSnapshotCache) staleThan(ctx context.Context, key, id string, updatedAt time.Time) (bool, error) {
	raw, err := c.Client.HGet(ctx, key, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var existing struct {
		UpdatedAt time.Time `json:"UpdatedAt"`
	}
	if err := json.Unmarshal(raw, &existing); err != nil {
		// Undecodable cached rows are replaced.
		return false, nil
	}

	return existing.UpdatedAt.After(updatedAt), nil
}
