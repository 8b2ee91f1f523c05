// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package geo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Cache stores geocoding results by normalized key.
type Cache interface {
	Get(ctx context.Context, key string) (Place, bool, error)
	Put(ctx context.Context, key string, place Place) error
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS places (
    key TEXT PRIMARY KEY,
    lat REAL NOT NULL,
    lon REAL NOT NULL,
    display TEXT NOT NULL,
    cached_at INTEGER NOT NULL -- Unix timestamp
) WITHOUT ROWID;
`

// SQLiteCache is a Cache backed by a local SQLite file. Only place names
// and coordinates are stored, never birth data.
type SQLiteCache struct {
	db *sql.DB
}

// OpenSQLiteCache opens (creating if needed) the cache database at path.
func OpenSQLiteCache(path string) (*SQLiteCache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		cacheSchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
	}
	return &SQLiteCache{db: db}, nil
}

// Get implements Cache.
func (c *SQLiteCache) Get(ctx context.Context, key string) (Place, bool, error) {
	var p Place
	err := c.db.QueryRowContext(ctx,
		"SELECT lat, lon, display FROM places WHERE key = ?", key,
	).Scan(&p.Lat, &p.Lon, &p.Display)
	if errors.Is(err, sql.ErrNoRows) {
		return Place{}, false, nil
	}
	if err != nil {
		return Place{}, false, fmt.Errorf("cache read: %w", err)
	}
	return p, true, nil
}

// Put implements Cache.
func (c *SQLiteCache) Put(ctx context.Context, key string, place Place) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO places (key, lat, lon, display, cached_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET lat = excluded.lat, lon = excluded.lon,
		 display = excluded.display, cached_at = excluded.cached_at`,
		key, place.Lat, place.Lon, place.Display, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

// Len returns the number of cached places.
func (c *SQLiteCache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM places").Scan(&n); err != nil {
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
