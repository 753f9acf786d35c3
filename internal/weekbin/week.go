// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package weekbin persists artifacts into an ISO-week keyed directory layout
// under the data directory: media/{YYYY}-W{WW}/{videos|transcripts|pdfs|podcasts}.
package weekbin

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Week is an ISO-8601 year/week pair. Note the ISO year can differ from the
// calendar year at the boundaries (2021-01-01 belongs to 2020-W53).
type Week struct {
	Year int `json:"year"`
	Week int `json:"week"`
}

// WeekOf returns the ISO week containing t.
func WeekOf(t time.Time) Week {
	y, w := t.ISOWeek()
	return Week{Year: y, Week: w}
}

// String formats the week as its directory name, e.g. "2025-W07".
func (w Week) String() string {
	return fmt.Sprintf("%d-W%02d", w.Year, w.Week)
}

// Before reports whether w is an earlier week than other.
func (w Week) Before(other Week) bool {
	if w.Year != other.Year {
		return w.Year < other.Year
	}
	return w.Week < other.Week
}

var weekIDPattern = regexp.MustCompile(`^(\d{4})-W(\d{2})$`)

// ParseWeek parses a week id of the form "2025-W07".
func ParseWeek(id string) (Week, error) {
	m := weekIDPattern.FindStringSubmatch(id)
	if m == nil {
		return Week{}, fmt.Errorf("invalid week id: %q", id)
	}
	year, _ := strconv.Atoi(m[1])
	week, _ := strconv.Atoi(m[2])
	if week < 1 || week > 53 {
		return Week{}, fmt.Errorf("invalid week id: %q", id)
	}
	return Week{Year: year, Week: week}, nil
}
