package plan

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dayKeyLayout = "2006-01-02"

// DayKey formats t as a calendar date key (YYYY-MM-DD) in t's location.
func DayKey(t time.Time) string {
	return t.Format(dayKeyLayout)
}

// ParseDayKey parses a YYYY-MM-DD key as midnight in loc.
func ParseDayKey(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(dayKeyLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDayKey, key)
	}
	return t, nil
}

// ActiveDay returns the business day key that is open at now.
//
// offset shifts the start of the day away from midnight. A positive offset
// (e.g. 4h) keeps the previous date active until 04:00; a negative offset
// (e.g. -2h) opens the next date at 22:00 the evening before.
func ActiveDay(now time.Time, offset time.Duration) string {
	return DayKey(now.Add(-offset))
}

// DayStart returns the instant at which the business day key opens.
func DayStart(key string, offset time.Duration, loc *time.Location) (time.Time, error) {
	midnight, err := ParseDayKey(key, loc)
	if err != nil {
		return time.Time{}, err
	}
	return midnight.Add(offset), nil
}

// ParseClock validates an HH:MM (or H:MM) time of day and returns hours and minutes.
func ParseClock(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	h, m, ok := strings.Cut(s, ":")
	if !ok || len(h) == 0 || len(h) > 2 || len(m) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return hour, minute, nil
}

// FormatClock renders hour and minute as zero-padded HH:MM.
func FormatClock(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// ScheduledAt resolves a day-local HH:MM into an absolute instant within the
// business day key. Clock times before the day start belong to the following
// calendar date; with a negative offset, clock times at or after the next
// day start belong to the preceding calendar date.
func ScheduledAt(key, clock string, offset time.Duration, loc *time.Location) (time.Time, error) {
	hour, minute, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	midnight, err := ParseDayKey(key, loc)
	if err != nil {
		return time.Time{}, err
	}
	start := midnight.Add(offset)
	at := time.Date(midnight.Year(), midnight.Month(), midnight.Day(), hour, minute, 0, 0, midnight.Location())
	if at.Before(start) {
		at = at.AddDate(0, 0, 1)
	}
	if !at.Before(start.AddDate(0, 0, 1)) {
		at = at.AddDate(0, 0, -1)
	}
	return at, nil
}
