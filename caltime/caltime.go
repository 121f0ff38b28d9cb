// Package caltime provides the time model shared by the recurrence
// engine and the instance materializer: conversion between wall-clock
// civil time and absolute instants, Julian-day bucketing, and RFC 5545
// duration handling.
package caltime

import (
	"fmt"
	"time"

	"github.com/emersion/go-ical"
)

// epochJulianDay is the Julian day number of 1970-01-01.
const epochJulianDay = 2440588

// millisPerDay is the length of a civil day in milliseconds, ignoring
// DST (day arithmetic here always goes through civil dates, never
// through instant division).
const millisPerDay = 24 * 60 * 60 * 1000

// CivilToInstant converts a wall-clock civil time in loc to an absolute
// instant. For all-day values the location is forced to UTC and the
// time-of-day to zero, so the same calendar date always maps to the
// same instant regardless of viewer timezone.
//
// Nonexistent or ambiguous local times (DST transitions) resolve via
// time.Date normalization: a spring-forward gap time shifts into the
// later offset, a fall-back time takes its first occurrence. This is
// deterministic and never an error.
func CivilToInstant(year int, month time.Month, day, hour, min, sec int, loc *time.Location, allDay bool) time.Time {
	if allDay {
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(year, month, day, hour, min, sec, 0, loc)
}

// InstantToCivil is the inverse of CivilToInstant for timed values.
func InstantToCivil(t time.Time, loc *time.Location) (year int, month time.Month, day, hour, min, sec int) {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	year, month, day = local.Date()
	hour, min, sec = local.Clock()
	return
}

// JulianDay returns the day-bucket key for an instant, computed from
// the local civil date in loc. Consecutive local days map to
// consecutive Julian days even across DST transitions, where the
// instant-space day length is 23 or 25 hours.
func JulianDay(t time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	year, month, day := t.In(loc).Date()
	civil := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return int(civil.UnixMilli()/millisPerDay) + epochJulianDay
}

// DayStart returns the instant at which Julian day jd begins in loc.
func DayStart(jd int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	civil := time.UnixMilli(int64(jd-epochJulianDay) * millisPerDay).UTC()
	year, month, day := civil.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// DaySpan returns the Julian day of begin and the number of local days
// the closed range [begin, end] touches in loc. A degenerate range
// spans one day.
func DaySpan(begin, end time.Time, loc *time.Location) (startDay, numDays int) {
	startDay = JulianDay(begin, loc)
	endDay := JulianDay(end, loc)
	if endDay < startDay {
		return startDay, 1
	}
	return startDay, endDay - startDay + 1
}

// ParseDuration decodes an RFC 5545 DUR-VALUE string such as "PT1H",
// "P1D" or "-PT30M" into a fixed duration. Decoding is delegated to
// go-ical's property parser so the accepted grammar matches what the
// iCalendar adapter produces.
func ParseDuration(value string) (time.Duration, error) {
	prop := ical.NewProp(ical.PropDuration)
	prop.Value = value
	d, err := prop.Duration()
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return d, nil
}
