// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/jeranaias/bazi-destiny/internal/config"
)

// maxErrorBody is how much of a failed response is kept for the error message.
const maxErrorBody = 200

// Nominatim geocodes city/country pairs through an OpenStreetMap Nominatim
// instance. Lookups are throttled to the configured rate and optionally
// served from a Cache.
type Nominatim struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	cache     Cache
	logger    *zap.Logger
}

// NewNominatim creates a geocoder from the geocode configuration section.
func NewNominatim(cfg config.GeocodeConfig) *Nominatim {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Nominatim{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:    zap.NewNop(),
	}
}

// WithCache enables the lookup cache.
func (n *Nominatim) WithCache(c Cache) *Nominatim {
	n.cache = c
	return n
}

// WithLogger sets the logger.
func (n *Nominatim) WithLogger(l *zap.Logger) *Nominatim {
	if l != nil {
		n.logger = l
	}
	return n
}

// WithHTTPClient replaces the HTTP client.
func (n *Nominatim) WithHTTPClient(c *http.Client) *Nominatim {
	n.client = c
	return n
}

// WithRateLimit replaces the outbound throttle.
func (n *Nominatim) WithRateLimit(l *rate.Limiter) *Nominatim {
	n.limiter = l
	return n
}

// searchResult is one entry of Nominatim's JSON search output.
type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

var fold = cases.Fold()

// CacheKey normalizes a city/country pair so that differently typed
// spellings of the same place share one cache entry.
func CacheKey(city, country string) string {
	normalize := func(s string) string {
		s = norm.NFKC.String(strings.TrimSpace(s))
		return strings.Join(strings.Fields(fold.String(s)), " ")
	}
	return normalize(city) + "|" + normalize(country)
}

// Lookup returns the first match for city and country.
func (n *Nominatim) Lookup(ctx context.Context, city, country string) (Place, error) {
	key := CacheKey(city, country)
	if n.cache != nil {
		if place, ok, err := n.cache.Get(ctx, key); err != nil {
			n.logger.Warn("GEOCODE_CACHE_ERROR", zap.Error(err))
		} else if ok {
			return place, nil
		}
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return Place{}, fmt.Errorf("geocoder throttle: %w", err)
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("addressdetails", "1")
	q.Set("city", city)
	q.Set("country", country)
	q.Set("limit", "5")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return Place{}, fmt.Errorf("failed to create geocode request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := n.client.Do(req)
	if err != nil {
		return Place{}, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	n.logger.Debug("GEOCODE_LOOKUP",
		zap.String("key", key),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Place{}, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}

	var results []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Place{}, fmt.Errorf("failed to decode geocode response: %w", err)
	}
	if len(results) == 0 {
		return Place{}, ErrNotFound
	}

	first := results[0]
	lat, err := strconv.ParseFloat(first.Lat, 64)
	if err != nil {
		return Place{}, fmt.Errorf("invalid latitude %q: %w", first.Lat, err)
	}
	lon, err := strconv.ParseFloat(first.Lon, 64)
	if err != nil {
		return Place{}, fmt.Errorf("invalid longitude %q: %w", first.Lon, err)
	}
	place := Place{Lat: lat, Lon: lon, Display: first.DisplayName}

	if n.cache != nil {
		if err := n.cache.Put(ctx, key, place); err != nil {
			n.logger.Warn("GEOCODE_CACHE_ERROR", zap.Error(err))
		}
	}
	return place, nil
}
