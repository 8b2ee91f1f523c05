// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jeranaias/bazi-destiny/internal/config"
)

// =============================================================================
// NOMINATIM
// =============================================================================

func newTestGeocoder(t *testing.T, handler http.HandlerFunc) *Nominatim {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default().Geocode
	cfg.BaseURL = srv.URL
	return NewNominatim(cfg).WithRateLimit(rate.NewLimiter(rate.Inf, 1))
}

func TestLookup_SendsQueryAndParsesFirstResult(t *testing.T) {
	g := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "json", q.Get("format"))
		assert.Equal(t, "1", q.Get("addressdetails"))
		assert.Equal(t, "Beijing", q.Get("city"))
		assert.Equal(t, "China", q.Get("country"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.Equal(t, "BAZI Destiny/1.0 (https://example.com)", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"lat":"39.9057136","lon":"116.3912972","display_name":"Beijing, China"},
			{"lat":"1","lon":"2","display_name":"Elsewhere"}
		]`))
	})

	place, err := g.Lookup(context.Background(), "Beijing", "China")
	require.NoError(t, err)
	assert.InDelta(t, 39.9057136, place.Lat, 1e-9)
	assert.InDelta(t, 116.3912972, place.Lon, 1e-9)
	assert.Equal(t, "Beijing, China", place.Display)
}

func TestLookup_NoResults(t *testing.T) {
	g := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	_, err := g.Lookup(context.Background(), "Nowhereville", "Atlantis")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookup_HTTPError(t *testing.T) {
	g := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})

	_, err := g.Lookup(context.Background(), "Paris", "France")
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Status)
	assert.Contains(t, httpErr.Body, "slow down")
}

func TestLookup_BadCoordinates(t *testing.T) {
	g := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"lat":"north","lon":"2","display_name":"x"}]`))
	})

	_, err := g.Lookup(context.Background(), "Paris", "France")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid latitude")
}

func TestLookup_CacheServesRepeatLookups(t *testing.T) {
	var calls atomic.Int32
	g := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`[{"lat":"48.8566","lon":"2.3522","display_name":"Paris, France"}]`))
	})

	cache, err := OpenSQLiteCache(filepath.Join(t.TempDir(), "places.db"))
	require.NoError(t, err)
	defer cache.Close()
	g.WithCache(cache)

	ctx := context.Background()
	first, err := g.Lookup(ctx, "Paris", "France")
	require.NoError(t, err)
	second, err := g.Lookup(ctx, "  PARIS ", "france")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	n, err := cache.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLookup_ThrottleHonoursContext(t *testing.T) {
	g := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	})
	g.WithRateLimit(rate.NewLimiter(rate.Every(time.Hour), 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.Lookup(ctx, "Paris", "France")
	assert.Error(t, err)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "new york|usa", CacheKey("New  York", " USA "))
	assert.Equal(t, CacheKey("São Paulo", "Brazil"), CacheKey("SÃO PAULO", "brazil"))
	// Fullwidth letters fold to ASCII under NFKC.
	assert.Equal(t, CacheKey("Tokyo", "Japan"), CacheKey("Ｔｏｋｙｏ", "Japan"))
}

// =============================================================================
// SQLITE CACHE
// =============================================================================

func TestSQLiteCache_GetPut(t *testing.T) {
	cache, err := OpenSQLiteCache(filepath.Join(t.TempDir(), "nested", "places.db"))
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	_, ok, err := cache.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Put(ctx, "k", Place{Lat: 1.5, Lon: -2.5, Display: "first"}))
	require.NoError(t, cache.Put(ctx, "k", Place{Lat: 3, Lon: 4, Display: "second"}))

	got, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Place{Lat: 3, Lon: 4, Display: "second"}, got)
}

// =============================================================================
// TIME ZONES
// =============================================================================

func TestToReference(t *testing.T) {
	wall := func(y int, m time.Month, d, h, mi int) time.Time {
		return time.Date(y, m, d, h, mi, 0, 0, time.UTC)
	}

	tests := []struct {
		name      string
		wall      time.Time
		tz        string
		wantLocal string
		wantRef   string
		ambiguous bool
		wantErr   error
	}{
		{
			name:      "new york winter",
			wall:      wall(2000, time.January, 1, 12, 0),
			tz:        "America/New_York",
			wantLocal: "2000-01-01T12:00:00-05:00",
			wantRef:   "2000-01-02T01:00:00+08:00",
		},
		{
			name:      "shanghai is identity",
			wall:      wall(1990, time.May, 15, 8, 30),
			tz:        "Asia/Shanghai",
			wantLocal: "1990-05-15T08:30:00+08:00",
			wantRef:   "1990-05-15T08:30:00+08:00",
		},
		{
			name:      "london summer",
			wall:      wall(2010, time.July, 1, 23, 15),
			tz:        "Europe/London",
			wantLocal: "2010-07-01T23:15:00+01:00",
			wantRef:   "2010-07-02T06:15:00+08:00",
		},
		{
			name:    "spring forward gap",
			wall:    wall(2021, time.March, 14, 2, 30),
			tz:      "America/New_York",
			wantErr: ErrNonexistentTime,
		},
		{
			name:      "fall back overlap takes first occurrence",
			wall:      wall(2021, time.November, 7, 1, 30),
			tz:        "America/New_York",
			wantLocal: "2021-11-07T01:30:00-04:00",
			wantRef:   "2021-11-07T13:30:00+08:00",
			ambiguous: true,
		},
		{
			name:      "london fall back",
			wall:      wall(2021, time.October, 31, 1, 30),
			tz:        "Europe/London",
			wantLocal: "2021-10-31T01:30:00+01:00",
			wantRef:   "2021-10-31T08:30:00+08:00",
			ambiguous: true,
		},
		{
			name:      "hour after overlap is unambiguous",
			wall:      wall(2021, time.November, 7, 2, 30),
			tz:        "America/New_York",
			wantLocal: "2021-11-07T02:30:00-05:00",
			wantRef:   "2021-11-07T15:30:00+08:00",
		},
		{
			name:    "unknown zone",
			wall:    wall(2000, time.January, 1, 0, 0),
			tz:      "Mars/Olympus_Mons",
			wantErr: ErrNoZone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToReference(tt.wall, tt.tz)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLocal, got.LocalISO())
			assert.Equal(t, tt.wantRef, got.ReferenceISO())
			assert.Equal(t, tt.ambiguous, got.Ambiguous)
		})
	}
}

func TestZoneFinder(t *testing.T) {
	if testing.Short() {
		t.Skip("loads the full boundary data set")
	}

	z, err := NewZoneFinder()
	require.NoError(t, err)

	tz, err := z.Zone(39.9042, 116.4074)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Shanghai", tz)

	tz, err = z.Zone(40.7128, -74.0060)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", tz)
}
