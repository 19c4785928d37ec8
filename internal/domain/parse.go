package domain

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptySlots    = errors.New("no dosing times")
	ErrDuplicateSlot = errors.New("duplicate dosing time")
	ErrInvalidTime   = errors.New("invalid time of day")
)

// ParseHHMM parses "HH:MM" into minutes since midnight (0..1439).
func ParseHHMM(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: expected HH:MM, got %q", ErrInvalidTime, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: invalid hour in %q", ErrInvalidTime, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: invalid minute in %q", ErrInvalidTime, s)
	}
	return h*60 + m, nil
}

// ParseSlots parses a whitespace- or comma-separated list of HH:MM times
// into a sorted slice of unique minutes since midnight.
// Examples: "08:00 20:00", "8:00, 14:30, 20:00".
func ParseSlots(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == ';' || r == '\n' || r == '\t'
	})
	if len(fields) == 0 {
		return nil, ErrEmptySlots
	}
	seen := make(map[int]bool, len(fields))
	slots := make([]int, 0, len(fields))
	for _, f := range fields {
		m, err := ParseHHMM(f)
		if err != nil {
			return nil, err
		}
		if seen[m] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSlot, FormatMinutes(m))
		}
		seen[m] = true
		slots = append(slots, m)
	}
	sort.Ints(slots)
	return slots, nil
}

// NormalizeSlots sorts and deduplicates an accumulated slot list
// (the button-driven add flow may collect repeated taps).
func NormalizeSlots(slots []int) []int {
	seen := make(map[int]bool, len(slots))
	out := make([]int, 0, len(slots))
	for _, m := range slots {
		if m < 0 || m > 1439 || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	sort.Ints(out)
	return out
}

// FormatMinutes returns HH:MM for minutes since midnight (00:00..23:59).
func FormatMinutes(mins int) string {
	if mins < 0 {
		mins = 0
	}
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}

// FormatSlots renders a slot list as "08:00, 20:00".
func FormatSlots(slots []int) string {
	parts := make([]string, len(slots))
	for i, m := range slots {
		parts[i] = FormatMinutes(m)
	}
	return strings.Join(parts, ", ")
}

// ValidateTZ checks that tz is a valid IANA location.
func ValidateTZ(tz string) (*time.Location, error) {
	return time.LoadLocation(tz)
}

// Day returns the calendar date of t as YYYY-MM-DD. ISO dates compare
// lexicographically, which the stale-record sweep relies on.
func Day(t time.Time) string {
	return t.Format("2006-01-02")
}

// MinuteOfDay returns minutes since midnight for t in its own location.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
