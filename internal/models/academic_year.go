package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AcademicYear is a two calendar-year span written "2024-2025".
type AcademicYear struct {
	Start int
}

// ParseAcademicYear validates the "YYYY-YYYY" form with consecutive years.
func ParseAcademicYear(raw string) (AcademicYear, error) {
	parts := strings.Split(strings.TrimSpace(raw), "-")
	if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 4 {
		return AcademicYear{}, fmt.Errorf("academic year %q must look like 2024-2025", raw)
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return AcademicYear{}, fmt.Errorf("academic year %q: %w", raw, err)
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return AcademicYear{}, fmt.Errorf("academic year %q: %w", raw, err)
	}
	if end != start+1 {
		return AcademicYear{}, fmt.Errorf("academic year %q must span consecutive years", raw)
	}
	return AcademicYear{Start: start}, nil
}

func (y AcademicYear) String() string {
	return fmt.Sprintf("%d-%d", y.Start, y.Start+1)
}

// Before reports whether y ends no later than other begins.
func (y AcademicYear) Before(other AcademicYear) bool {
	return y.Start < other.Start
}

// Next returns the following academic year.
func (y AcademicYear) Next() AcademicYear {
	return AcademicYear{Start: y.Start + 1}
}

// RolloverAt is the first instant of rolloverMonth in the year's second
// calendar year, when the next academic year begins.
func (y AcademicYear) RolloverAt(rolloverMonth int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(y.Start+1, time.Month(rolloverMonth), 1, 0, 0, 0, 0, loc)
}
