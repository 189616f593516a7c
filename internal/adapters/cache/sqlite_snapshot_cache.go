package cache

import (
	"context"
	"courier-routing-service/internal/domain"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	kindRoute    = "route"
	kindDelivery = "delivery"
	kindDriver   = "driver"
)

// SqliteSnapshotCache is a SQLite-file-backed implementation of the
// SnapshotCache port, suitable for field devices that must keep a readable
// copy of the working set across restarts with no network at all.
type SqliteSnapshotCache struct {
	DB *sql.DB
}

func NewSqliteSnapshotCache(db *sql.DB) *SqliteSnapshotCache {
	return &SqliteSnapshotCache{DB: db}
}

// Create the snapshot tables if they do not exist.
func InitSnapshotSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("init snapshot schema: DB is nil")
	}

	createRowsQuery := `
	CREATE TABLE IF NOT EXISTS snapshot_rows (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (kind, id)
	);
	`

	createMetaQuery := `
	CREATE TABLE IF NOT EXISTS snapshot_meta (
		k TEXT PRIMARY KEY,
		v TEXT NOT NULL
	);
	`

	for i, stmt := range []string{createRowsQuery, createMetaQuery} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init snapshot schema: exec statement #%d: %w", i+1, err)
		}
	}

	return nil
}

// Load the cached working set. Returns (nil, nil) when the cache is empty.
func (c *SqliteSnapshotCache) Load(ctx context.Context) (*domain.WorkingSet, error) {
	if c.DB == nil {
		return nil, errors.New("sqlite snapshot cache: DB is nil")
	}

	var rawMeta string
	err := c.DB.QueryRowContext(ctx, `SELECT v FROM snapshot_meta WHERE k = 'snapshot';`).Scan(&rawMeta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: read meta: %w", err)
	}

	var meta snapshotMeta
	if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil {
		return nil, fmt.Errorf("load snapshot: decode meta: %w", err)
	}

	date, err := time.Parse(time.DateOnly, meta.Date)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: parse date %q: %w", meta.Date, err)
	}

	ws := &domain.WorkingSet{Date: date, FetchedAt: meta.FetchedAt}

	rows, err := c.DB.QueryContext(ctx, `SELECT kind, id, payload FROM snapshot_rows;`)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: query snapshot_rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, id string
		var payload []byte
		if err := rows.Scan(&kind, &id, &payload); err != nil {
			return nil, fmt.Errorf("load snapshot: scan row: %w", err)
		}

		switch kind {
		case kindRoute:
			r, err := decodeRoute(payload)
			if err != nil {
				return nil, fmt.Errorf("load snapshot: route %s: %w", id, err)
			}
			ws.Routes = append(ws.Routes, r)
		case kindDelivery:
			d, err := decodeDelivery(payload)
			if err != nil {
				return nil, fmt.Errorf("load snapshot: delivery %s: %w", id, err)
			}
			ws.Deliveries = append(ws.Deliveries, d)
		case kindDriver:
			da, err := decodeDriver(payload)
			if err != nil {
				return nil, fmt.Errorf("load snapshot: driver %s: %w", id, err)
			}
			ws.Drivers = append(ws.Drivers, da)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load snapshot: row iteration: %w", err)
	}

	normalizeWorkingSet(ws)
	return ws, nil
}

// Merge upserts by (kind, id); a cached row only gives way to an incoming row
// whose updated-at timestamp is the same or newer.
func (c *SqliteSnapshotCache) Merge(ctx context.Context, ws *domain.WorkingSet) error {
	if c.DB == nil {
		return errors.New("sqlite snapshot cache: DB is nil")
	}
	if ws == nil {
		return errors.New("merge snapshot: working set is nil")
	}

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("merge snapshot: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsertQuery := `
	INSERT INTO snapshot_rows (kind, id, updated_at, payload)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (kind, id) DO UPDATE
	SET updated_at = excluded.updated_at,
		payload = excluded.payload
	WHERE excluded.updated_at >= snapshot_rows.updated_at;
	`

	stmt, err := tx.PrepareContext(ctx, upsertQuery)
	if err != nil {
		return fmt.Errorf("merge snapshot: prepare upsert: %w", err)
	}
	defer stmt.Close()

	// Fixed-width layout so the lexicographic comparison in the upsert's
	// WHERE clause orders timestamps correctly.
	const tsLayout = "2006-01-02T15:04:05.000000000Z"

	put := func(kind, id string, updatedAt time.Time, payload []byte) error {
		_, err := stmt.ExecContext(ctx, kind, id, updatedAt.UTC().Format(tsLayout), payload)
		return err
	}

	for _, r := range ws.Routes {
		raw, err := encodeRoute(r)
		if err != nil {
			return fmt.Errorf("merge snapshot: encode route %s: %w", r.ID, err)
		}
		if err := put(kindRoute, r.ID, r.UpdatedAt, raw); err != nil {
			return fmt.Errorf("merge snapshot: upsert route %s: %w", r.ID, err)
		}
	}

	for _, d := range ws.Deliveries {
		raw, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("merge snapshot: encode delivery %s: %w", d.ID, err)
		}
		if err := put(kindDelivery, d.ID, d.UpdatedAt, raw); err != nil {
			return fmt.Errorf("merge snapshot: upsert delivery %s: %w", d.ID, err)
		}
	}

	for _, da := range ws.Drivers {
		raw, err := json.Marshal(da)
		if err != nil {
			return fmt.Errorf("merge snapshot: encode driver %s: %w", da.ID, err)
		}
		if err := put(kindDriver, da.ID, da.UpdatedAt, raw); err != nil {
			return fmt.Errorf("merge snapshot: upsert driver %s: %w", da.ID, err)
		}
	}

	meta, err := json.Marshal(snapshotMeta{
		Date:      ws.Date.Format(time.DateOnly),
		FetchedAt: ws.FetchedAt,
	})
	if err != nil {
		return fmt.Errorf("merge snapshot: encode meta: %w", err)
	}

	metaQuery := `
	INSERT INTO snapshot_meta (k, v) VALUES ('snapshot', ?)
	ON CONFLICT (k) DO UPDATE SET v = excluded.v;
	`
	if _, err := tx.ExecContext(ctx, metaQuery, string(meta)); err != nil {
		return fmt.Errorf("merge snapshot: upsert meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("merge snapshot: commit tx: %w", err)
	}

	return nil
}
