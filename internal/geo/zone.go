// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package geo

import (
	"fmt"
	"time"
	_ "time/tzdata" // zone rules must not depend on the host's zoneinfo

	"github.com/ringsaturn/tzf"
)

// ReferenceZone is the zone the Four Pillars are computed in.
const ReferenceZone = "Asia/Shanghai"

// isoLayout matches Python's datetime.isoformat for whole seconds.
const isoLayout = "2006-01-02T15:04:05-07:00"

// ZoneFinder maps coordinates to an IANA time zone name.
type ZoneFinder struct {
	finder tzf.F
}

// NewZoneFinder loads the embedded boundary data. It takes a moment and a
// fair amount of memory, so build one per process.
func NewZoneFinder() (*ZoneFinder, error) {
	f, err := tzf.NewDefaultFinder()
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone data: %w", err)
	}
	return &ZoneFinder{finder: f}, nil
}

// Zone returns the time zone name at lat/lon.
func (z *ZoneFinder) Zone(lat, lon float64) (string, error) {
	name := z.finder.GetTimezoneName(lon, lat)
	if name == "" {
		return "", ErrNoZone
	}
	return name, nil
}

// Converted is a birth time in its local zone and in the reference zone.
type Converted struct {
	Local     time.Time
	Reference time.Time
	// Ambiguous is set when the wall time occurs twice; Local is then the
	// first occurrence.
	Ambiguous bool
}

// LocalISO formats the local time.
func (c Converted) LocalISO() string { return c.Local.Format(isoLayout) }

// ReferenceISO formats the reference time.
func (c Converted) ReferenceISO() string { return c.Reference.Format(isoLayout) }

// ToReference interprets the wall-clock time wall (its location is ignored)
// in zone tz and converts it to ReferenceZone.
//
// Wall times skipped by a DST transition return ErrNonexistentTime. Wall
// times that occur twice resolve to the earlier instant.
func ToReference(wall time.Time, tz string) (Converted, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Converted{}, fmt.Errorf("%w: %s", ErrNoZone, tz)
	}
	ref, err := time.LoadLocation(ReferenceZone)
	if err != nil {
		return Converted{}, fmt.Errorf("failed to load %s: %w", ReferenceZone, err)
	}

	y, mo, d := wall.Date()
	h, mi, s := wall.Clock()
	local := time.Date(y, mo, d, h, mi, s, 0, loc)

	if local.Hour() != h || local.Minute() != mi || local.Day() != d {
		return Converted{}, ErrNonexistentTime
	}

	conv := Converted{Local: local}
	if alt, ok := otherOccurrence(local, y, mo, d, h, mi, s); ok {
		conv.Ambiguous = true
		if alt.Before(local) {
			conv.Local = alt
		}
	}
	conv.Reference = conv.Local.In(ref)
	return conv, nil
}

// otherOccurrence returns the second instant the same wall time maps to
// under the zone offset in force a few hours before or after, if any.
func otherOccurrence(local time.Time, y int, mo time.Month, d, h, mi, s int) (time.Time, bool) {
	loc := local.Location()
	_, offNow := local.Zone()
	for _, probe := range []time.Duration{-3 * time.Hour, 3 * time.Hour} {
		_, off := local.Add(probe).Zone()
		if off == offNow {
			continue
		}
		alt := time.Date(y, mo, d, h, mi, s, 0, time.FixedZone("", off)).In(loc)
		if !alt.Equal(local) && alt.Hour() == h && alt.Minute() == mi && alt.Day() == d {
			return alt, true
		}
	}
	return time.Time{}, false
}
