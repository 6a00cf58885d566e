// Package timeutil normalizes wire date/time input into absolute instants.
package timeutil

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

var ErrInvalidTime = errors.New("invalid date/time")

// Offset-qualified layouts are accepted as is.
var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
}

// Local layouts lack an offset and are read in the tenant's zone.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseInstant parses an ISO-8601 instant. Input without an offset is
// interpreted in loc. Anything else (date-only, 12-hour clocks, locale
// formats) is rejected.
func ParseInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTime)
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
}

// ParseDate accepts YYYY-MM-DD or a full instant and returns local midnight of
// that calendar day in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.UTC
	}
	if d, err := time.ParseInLocation(DateLayout, s, loc); err == nil {
		return d, nil
	}
	t, err := ParseInstant(s, loc)
	if err != nil {
		return time.Time{}, err
	}
	return StartOfDay(t, loc), nil
}

func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// AtMinute returns the instant minute minutes after local midnight of day.
// Wall-clock construction keeps DST days correct.
func AtMinute(day time.Time, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, day.Location())
}

// Format renders t on the wire: RFC 3339 with the explicit offset of loc.
func Format(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(time.RFC3339)
}

// ClockString renders minutes since midnight as HH:MM.
func ClockString(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
