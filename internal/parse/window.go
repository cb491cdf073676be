// Package parse turns client-supplied booking windows into instants and
// derives the availability-slot key of a window.
package parse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"parking-booking-backend/internal/apperr"
)

const dateLayout = "2006-01-02"

var clockRe = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

// Slot identifies an availability slot of a space: a local date plus
// HH:MM start and end.
type Slot struct {
	Date      string
	StartTime string
	EndTime   string
}

// ParseClock parses an "HH:MM" (or "H:MM") wall clock time.
func ParseClock(raw string) (hour, minute int, err error) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0, 0, apperr.Validation("invalid time %q, expected HH:MM", raw)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	return hour, minute, nil
}

// ParseWindow combines a local date with start and end clock times in loc.
// The end must be strictly after the start; there is no overnight roll.
func ParseWindow(date, start, end string, loc *time.Location) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.Validation("invalid date %q, expected YYYY-MM-DD", date)
	}
	sh, sm, err := ParseClock(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	eh, em, err := ParseClock(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	from := time.Date(day.Year(), day.Month(), day.Day(), sh, sm, 0, 0, loc)
	to := time.Date(day.Year(), day.Month(), day.Day(), eh, em, 0, 0, loc)
	if !to.After(from) {
		return time.Time{}, time.Time{}, apperr.Validation("end time must be after start time")
	}
	return from.UTC(), to.UTC(), nil
}

// ParseInstants parses an RFC3339 start and end.
func ParseInstants(start, end string) (time.Time, time.Time, error) {
	from, err := time.Parse(time.RFC3339, strings.TrimSpace(start))
	if err != nil {
		return time.Time{}, time.Time{}, apperr.Validation("invalid startTime %q", start)
	}
	to, err := time.Parse(time.RFC3339, strings.TrimSpace(end))
	if err != nil {
		return time.Time{}, time.Time{}, apperr.Validation("invalid endTime %q", end)
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, apperr.Validation("end time must be after start time")
	}
	return from.UTC(), to.UTC(), nil
}

// SlotOf returns the slot key of a window as seen in loc.
func SlotOf(start, end time.Time, loc *time.Location) Slot {
	s := start.In(loc)
	e := end.In(loc)
	return Slot{
		Date:      s.Format(dateLayout),
		StartTime: s.Format("15:04"),
		EndTime:   e.Format("15:04"),
	}
}
