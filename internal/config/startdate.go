package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidDate is returned for start-date arguments that are neither a
// date nor a number of days.
var ErrInvalidDate = errors.New("invalid start date")

// DateLayout is the accepted absolute date format.
const DateLayout = "2006-01-02"

// StartDate resolves the run's start date from the command-line argument.
// An empty argument means today, "2024-03-01" is taken as-is, and an
// integer N means N days before today. Dates are UTC midnights, matching the
// day partitions CloudTrail writes.
func StartDate(arg string, now time.Time) (time.Time, error) {
	today := Day(now)
	if arg == "" {
		return today, nil
	}

	if n, err := strconv.Atoi(arg); err == nil {
		if n < 0 {
			return time.Time{}, fmt.Errorf("%w: %q: days back must not be negative", ErrInvalidDate, arg)
		}
		return today.AddDate(0, 0, -n), nil
	}

	d, err := time.Parse(DateLayout, arg)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: want %s or a number of days", ErrInvalidDate, arg, DateLayout)
	}
	if d.After(today) {
		return time.Time{}, fmt.Errorf("%w: %q is in the future", ErrInvalidDate, arg)
	}
	return d, nil
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
