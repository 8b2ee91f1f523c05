// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chart

import (
	"fmt"
	"time"

	"github.com/6tail/lunar-go/calendar"
)

// LuckCyclesCount is how many ten-year luck cycles a chart lists.
const LuckCyclesCount = 6

// Calendar derives the stem-branch names for a moment in reference time.
type Calendar interface {
	// Pillars returns the year, month, day and hour stem-branch pairs.
	Pillars(t time.Time) ([4]string, error)
	// LuckCycles returns up to LuckCyclesCount ten-year cycles.
	LuckCycles(t time.Time, g Gender) ([]LuckCycle, error)
}

// LunarCalendar is the Calendar backed by lunar-go.
type LunarCalendar struct{}

// Pillars implements Calendar.
func (LunarCalendar) Pillars(t time.Time) (p [4]string, err error) {
	defer recoverCalendar(&err)

	lunar := solar(t).GetLunar()
	return [4]string{
		lunar.GetYearInGanZhi(),
		lunar.GetMonthInGanZhi(),
		lunar.GetDayInGanZhi(),
		lunar.GetTimeInGanZhi(),
	}, nil
}

// LuckCycles implements Calendar. Cycle 0 in lunar-go is the period before
// the first cycle starts, so listing begins at 1.
func (LunarCalendar) LuckCycles(t time.Time, g Gender) (cycles []LuckCycle, err error) {
	defer recoverCalendar(&err)

	yun := solar(t).GetLunar().GetEightChar().GetYun(g.lunarCode())
	daYun := yun.GetDaYun()
	for i := 1; i <= LuckCyclesCount && i < len(daYun); i++ {
		cycles = append(cycles, LuckCycle{
			Index:    i,
			StartAge: daYun[i].GetStartAge(),
			GanZhi:   daYun[i].GetGanZhi(),
		})
	}
	return cycles, nil
}

func solar(t time.Time) *calendar.Solar {
	return calendar.NewSolar(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
}

// lunar-go panics on dates outside its tables.
func recoverCalendar(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("calendar: %v", r)
	}
}
