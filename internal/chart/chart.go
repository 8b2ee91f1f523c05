// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chart computes a Four Pillars (BaZi) chart from a birth date,
// time and place.
//
// The Calculator geocodes the place, finds its time zone, converts the
// local birth time to Beijing time and reads the pillars from a Calendar.
// Ten Gods, five-element counts, the dominant element and its lucky
// colours and numbers are table lookups on top of the pillars.
package chart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/jeranaias/bazi-destiny/internal/geo"
)

// =============================================================================
// ERRORS
// =============================================================================

// Messages shown to the user for rejected input.
const (
	MsgMissingFields = "Please provide date, time, city, and country."
	MsgBadDateTime   = "Invalid date/time format. Use YYYY-MM-DD and 24-hour HH:MM."
	MsgBadGender     = "Gender must be male, female, or left blank."
	MsgNotFound      = "Could not locate the city/country. Try adding state/province."
	MsgNoZone        = "Unable to detect time zone for this location."
	MsgNoSuchTime    = "This local time does not exist in the location's time zone (daylight saving change). Please adjust the time."
)

// ErrCalendarUnavailable means no Calendar was configured.
var ErrCalendarUnavailable = errors.New("calendar support unavailable")

// InputError is a problem with the request itself. The user must correct
// the input; retrying will not help.
type InputError struct {
	Message string
	Err     error
}

func (e *InputError) Error() string { return e.Message }

func (e *InputError) Unwrap() error { return e.Err }

func inputError(msg string, err error) *InputError {
	return &InputError{Message: msg, Err: err}
}

// GeocodeError is a failure answer from the geocoding service.
type GeocodeError struct {
	Body string
	Err  error
}

func (e *GeocodeError) Error() string { return "Geocoding error: " + e.Body }

func (e *GeocodeError) Unwrap() error { return e.Err }

// =============================================================================
// GENDER
// =============================================================================

// Gender affects the direction of the luck cycles only.
type Gender string

const (
	GenderUnspecified Gender = ""
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
)

// ParseGender accepts male/m/man, female/f/woman (any case) or blank.
func ParseGender(s string) (Gender, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return GenderUnspecified, nil
	case "male", "m", "man":
		return GenderMale, nil
	case "female", "f", "woman":
		return GenderFemale, nil
	}
	return "", fmt.Errorf("unknown gender %q", s)
}

// lunarCode is lunar-go's gender argument. Unspecified counts as female,
// as it always has.
func (g Gender) lunarCode() int {
	if g == GenderMale {
		return 1
	}
	return 0
}

// =============================================================================
// RESULT
// =============================================================================

// Request is the raw chart form.
type Request struct {
	Name    string `json:"name"`
	Gender  string `json:"gender"`
	Date    string `json:"date"`
	Time    string `json:"time"`
	City    string `json:"city"`
	Country string `json:"country"`
}

// Input echoes the resolved request.
type Input struct {
	Name       string  `json:"name"`
	Gender     Gender  `json:"gender"`
	City       string  `json:"city"`
	Country    string  `json:"country"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Timezone   string  `json:"timezone"`
	LocalISO   string  `json:"local_iso"`
	BeijingISO string  `json:"beijing_iso"`

	// AmbiguousTime is set when the local time occurred twice and the
	// first occurrence was used.
	AmbiguousTime bool `json:"ambiguous_time,omitempty"`
}

// Pillar is one stem-branch pair.
type Pillar struct {
	Pillar   string  `json:"pillar"`
	GanZhi   string  `json:"gz"`
	StemCN   string  `json:"stem_cn"`
	BranchCN string  `json:"branch_cn"`
	StemPY   string  `json:"stem_py"`
	BranchPY string  `json:"branch_py"`
	StemEl   Element `json:"stem_el"`
	BranchEl Element `json:"branch_el"`
}

// TenGods relates the other stems to the day stem.
type TenGods struct {
	MonthStem string `json:"MonthStem"`
	YearStem  string `json:"YearStem"`
	HourStem  string `json:"HourStem"`
}

// FiveElements counts stems and branches per element.
type FiveElements struct {
	Wood  int `json:"Wood"`
	Fire  int `json:"Fire"`
	Earth int `json:"Earth"`
	Metal int `json:"Metal"`
	Water int `json:"Water"`
}

func (f *FiveElements) add(e Element) {
	switch e {
	case Wood:
		f.Wood++
	case Fire:
		f.Fire++
	case Earth:
		f.Earth++
	case Metal:
		f.Metal++
	case Water:
		f.Water++
	}
}

// Count returns the tally for e.
func (f FiveElements) Count(e Element) int {
	switch e {
	case Wood:
		return f.Wood
	case Fire:
		return f.Fire
	case Earth:
		return f.Earth
	case Metal:
		return f.Metal
	case Water:
		return f.Water
	}
	return 0
}

// Dominant returns the element with the highest count, earliest in
// Elements on a tie.
func (f FiveElements) Dominant() Element {
	best := Elements[0]
	for _, e := range Elements[1:] {
		if f.Count(e) > f.Count(best) {
			best = e
		}
	}
	return best
}

// Lucky holds the attributes associated with the dominant element.
type Lucky struct {
	Colors  []string `json:"colors"`
	Numbers []int    `json:"numbers"`
}

// LuckCycle is one ten-year period.
type LuckCycle struct {
	Index    int    `json:"index"`
	StartAge int    `json:"start_age"`
	GanZhi   string `json:"gz"`
}

// Result is a computed chart. It is never modified after Compute returns.
type Result struct {
	OK           bool         `json:"ok"`
	Input        Input        `json:"input"`
	Pillars      []Pillar     `json:"pillars"`
	TenGods      TenGods      `json:"ten_gods"`
	FiveElements FiveElements `json:"five_elements"`
	MainElement  Element      `json:"main_element"`
	Lucky        Lucky        `json:"lucky"`
	LuckCycles   []LuckCycle  `json:"luck_cycles"`
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Geocoder resolves a city and country to coordinates.
type Geocoder interface {
	Lookup(ctx context.Context, city, country string) (geo.Place, error)
}

// ZoneLocator maps coordinates to a time zone name.
type ZoneLocator interface {
	Zone(lat, lon float64) (string, error)
}

// Calculator computes charts.
type Calculator struct {
	geocoder Geocoder
	zones    ZoneLocator
	calendar Calendar
	logger   *zap.Logger
}

// NewCalculator wires the collaborators. A nil calendar makes every
// Compute fail with ErrCalendarUnavailable.
func NewCalculator(g Geocoder, z ZoneLocator, c Calendar) *Calculator {
	return &Calculator{geocoder: g, zones: z, calendar: c, logger: zap.NewNop()}
}

// WithLogger sets the logger.
func (c *Calculator) WithLogger(l *zap.Logger) *Calculator {
	if l != nil {
		c.logger = l
	}
	return c
}

// Compute builds the chart for req. Input problems are *InputError.
func (c *Calculator) Compute(ctx context.Context, req Request) (*Result, error) {
	name := strings.TrimSpace(req.Name)
	city := strings.TrimSpace(req.City)
	country := strings.TrimSpace(req.Country)
	date := strings.TrimSpace(req.Date)
	clock := strings.TrimSpace(req.Time)

	if date == "" || clock == "" || city == "" || country == "" {
		return nil, inputError(MsgMissingFields, nil)
	}
	wall, err := time.Parse("2006-01-02 15:04", date+" "+clock)
	if err != nil {
		return nil, inputError(MsgBadDateTime, err)
	}
	gender, err := ParseGender(req.Gender)
	if err != nil {
		return nil, inputError(MsgBadGender, err)
	}

	place, err := c.geocoder.Lookup(ctx, city, country)
	if err != nil {
		var httpErr *geo.HTTPError
		switch {
		case errors.Is(err, geo.ErrNotFound):
			return nil, inputError(MsgNotFound, err)
		case errors.As(err, &httpErr):
			return nil, &GeocodeError{Body: httpErr.Body, Err: err}
		}
		return nil, fmt.Errorf("geocode %s, %s: %w", city, country, err)
	}

	tz, err := c.zones.Zone(place.Lat, place.Lon)
	if err != nil {
		return nil, inputError(MsgNoZone, err)
	}

	conv, err := geo.ToReference(wall, tz)
	switch {
	case errors.Is(err, geo.ErrNonexistentTime):
		return nil, inputError(MsgNoSuchTime, err)
	case errors.Is(err, geo.ErrNoZone):
		return nil, inputError(MsgNoZone, err)
	case err != nil:
		return nil, err
	}

	if c.calendar == nil {
		return nil, ErrCalendarUnavailable
	}
	gz, err := c.calendar.Pillars(conv.Reference)
	if err != nil {
		return nil, err
	}

	res := &Result{
		OK: true,
		Input: Input{
			Name:       name,
			Gender:     gender,
			City:       city,
			Country:    country,
			Lat:        place.Lat,
			Lon:        place.Lon,
			Timezone:   tz,
			LocalISO:   conv.LocalISO(),
			BeijingISO: conv.ReferenceISO(),

			AmbiguousTime: conv.Ambiguous,
		},
		LuckCycles: []LuckCycle{},
	}

	for i, label := range [4]string{"Year", "Month", "Day", "Hour"} {
		p := newPillar(label, gz[i])
		res.Pillars = append(res.Pillars, p)
		res.FiveElements.add(p.StemEl)
		res.FiveElements.add(p.BranchEl)
	}

	day := res.Pillars[2].StemCN
	res.TenGods = TenGods{
		MonthStem: TenGod(day, res.Pillars[1].StemCN),
		YearStem:  TenGod(day, res.Pillars[0].StemCN),
		HourStem:  TenGod(day, res.Pillars[3].StemCN),
	}

	res.MainElement = res.FiveElements.Dominant()
	res.Lucky = Lucky{
		Colors:  luckyColors[res.MainElement],
		Numbers: luckyNumbers[res.MainElement],
	}

	// Luck cycles are optional; a chart without them is still useful.
	if cycles, err := c.calendar.LuckCycles(conv.Reference, gender); err != nil {
		c.logger.Warn("LUCK_CYCLES_FAILED", zap.Error(err))
	} else if cycles != nil {
		res.LuckCycles = cycles
	}

	c.logger.Info("CHART_COMPUTED",
		zap.String("timezone", tz),
		zap.String("day_pillar", res.Pillars[2].GanZhi),
		zap.String("main_element", string(res.MainElement)))
	return res, nil
}

// newPillar splits a stem-branch pair and looks up its attributes.
func newPillar(label, gz string) Pillar {
	p := Pillar{Pillar: label, GanZhi: gz}
	stem, size := utf8.DecodeRuneInString(gz)
	if size == 0 {
		return p
	}
	p.StemCN = string(stem)
	if rest := gz[size:]; rest != "" {
		branch, _ := utf8.DecodeRuneInString(rest)
		p.BranchCN = string(branch)
	}

	s := stems[p.StemCN]
	b := branches[p.BranchCN]
	p.StemPY, p.StemEl = s.pinyin, s.element
	p.BranchPY, p.BranchEl = b.pinyin, b.element
	return p
}
