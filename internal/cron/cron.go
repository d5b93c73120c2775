// Package cron parses standard 5-field cron expressions and answers whether
// a given minute matches. Field sets are stored as bitmasks; minute
// resolution is the finest granularity.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed cron expression.
type Schedule struct {
	minutes     uint64 // bits 0-59
	hours       uint64 // bits 0-23
	daysOfMonth uint64 // bits 1-31
	months      uint64 // bits 1-12
	daysOfWeek  uint64 // bits 0-6, 0=Sunday

	// restricted fields participate in the day-of-month/day-of-week OR rule
	domRestricted bool
	dowRestricted bool

	expr string
}

// field describes one position of the expression
type field struct {
	name string
	min  int
	max  int
}

var fields = [5]field{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Parse parses a 5-field cron expression (minute hour day-of-month month
// day-of-week). Supported syntax per field: "*", single values, ranges
// (1-5), lists (1,3,5 with range members), and steps (*/5, 1-10/2).
func Parse(expr string) (*Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(parts))
	}

	var masks [5]uint64
	for i, f := range fields {
		mask, err := parseField(parts[i], f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field %q: %w", f.name, parts[i], err)
		}
		masks[i] = mask
	}

	s := &Schedule{
		minutes:     masks[0],
		hours:       masks[1],
		daysOfMonth: masks[2],
		months:      masks[3],
		daysOfWeek:  masks[4],
		expr:        expr,
	}
	s.domRestricted = parts[2] != "*"
	s.dowRestricted = parts[4] != "*"

	if err := s.validateReachable(); err != nil {
		return nil, err
	}
	return s, nil
}

// String returns the original expression.
func (s *Schedule) String() string {
	return s.expr
}

// Matches reports whether the schedule fires at t, evaluated at minute
// precision in t's location.
func (s *Schedule) Matches(t time.Time) bool {
	if !bit(s.minutes, t.Minute()) || !bit(s.hours, t.Hour()) || !bit(s.months, int(t.Month())) {
		return false
	}
	return s.matchesDay(t)
}

// matchesDay applies the standard cron day rule: when both day-of-month and
// day-of-week are restricted, either one matching is enough; otherwise the
// single restricted field decides.
func (s *Schedule) matchesDay(t time.Time) bool {
	domMatch := bit(s.daysOfMonth, t.Day())
	dowMatch := bit(s.daysOfWeek, int(t.Weekday()))

	switch {
	case s.domRestricted && s.dowRestricted:
		return domMatch || dowMatch
	case s.domRestricted:
		return domMatch
	case s.dowRestricted:
		return dowMatch
	default:
		return true
	}
}

// Next returns the first firing time strictly after t, or the zero time if
// none exists within five years (unreachable for expressions that pass
// Parse validation).
func (s *Schedule) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.AddDate(5, 0, 0)

	for t.Before(limit) {
		// Skip whole months and days that can never match before
		// scanning minutes.
		if !bit(s.months, int(t.Month())) {
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
			continue
		}
		if !s.matchesDay(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
			continue
		}
		if !bit(s.hours, t.Hour()) {
			t = t.Truncate(time.Hour).Add(time.Hour)
			continue
		}
		if !bit(s.minutes, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

// validateReachable rejects expressions that can never fire, such as
// "0 0 31 2 *".
func (s *Schedule) validateReachable() error {
	if s.dowRestricted {
		// A restricted day-of-week always has firing days.
		return nil
	}
	for month := 1; month <= 12; month++ {
		if !bit(s.months, month) {
			continue
		}
		for day := 1; day <= maxDaysIn(month); day++ {
			if bit(s.daysOfMonth, day) {
				return nil
			}
		}
	}
	return fmt.Errorf("impossible cron expression %q: no month contains a matching day", s.expr)
}

// maxDaysIn returns the largest day number a month can have; February
// counts 29 so leap-day schedules parse.
func maxDaysIn(month int) int {
	switch month {
	case 2:
		return 29
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}

func parseField(spec string, min, max int) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return 0, fmt.Errorf("empty list element")
		}

		step := 1
		if base, stepStr, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid step %q", stepStr)
			}
			step = n
			part = base
			// A bare value with a step means "from value to max".
			if part != "*" && !strings.Contains(part, "-") {
				part = part + "-" + strconv.Itoa(max)
			}
		}

		lo, hi := min, max
		if part != "*" {
			var err error
			lo, hi, err = parseRange(part, min, max)
			if err != nil {
				return 0, err
			}
		}

		for v := lo; v <= hi; v += step {
			mask |= 1 << uint(v)
		}
	}
	return mask, nil
}

func parseRange(part string, min, max int) (int, int, error) {
	loStr, hiStr, isRange := strings.Cut(part, "-")

	lo, err := strconv.Atoi(loStr)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid value %q", loStr)
	}
	hi := lo
	if isRange {
		hi, err = strconv.Atoi(hiStr)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid range end %q", hiStr)
		}
	}

	if lo < min || hi > max {
		return 0, 0, fmt.Errorf("value out of bounds [%d, %d]", min, max)
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("range start %d after end %d", lo, hi)
	}
	return lo, hi, nil
}

func bit(mask uint64, v int) bool {
	return mask&(1<<uint(v)) != 0
}
