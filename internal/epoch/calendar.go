package epoch

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Clock abstracts wall-clock time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// Calendar maps instants to epochs in a fixed timezone with a fixed daily cutover.
type Calendar struct {
	loc    *time.Location
	hour   int
	minute int
}

// NewCalendar builds a calendar. cutover is "HH:MM".
func NewCalendar(timezone, cutover string) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	t, err := time.Parse("15:04", cutover)
	if err != nil {
		return nil, fmt.Errorf("parse cutover %q: %w", cutover, err)
	}
	return &Calendar{loc: loc, hour: t.Hour(), minute: t.Minute()}, nil
}

// Location returns the market timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Cutover renders the cutover as HH:MM.
func (c *Calendar) Cutover() string {
	return fmt.Sprintf("%02d:%02d", c.hour, c.minute)
}

// Of returns the epoch containing now.
func (c *Calendar) Of(now time.Time) Epoch {
	local := now.In(c.loc)
	return Epoch{Date: local.Format(dateLayout), Late: c.PastCutover(local)}
}

// PastCutover reports whether now's local time of day is at or after the cutover.
func (c *Calendar) PastCutover(now time.Time) bool {
	local := now.In(c.loc)
	return !local.Before(c.cutoverOn(local))
}

// NextBoundary returns the first instant after now at which Of changes.
func (c *Calendar) NextBoundary(now time.Time) time.Time {
	local := now.In(c.loc)
	cut := c.cutoverOn(local)
	if local.Before(cut) {
		return cut
	}
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, c.loc)
}

func (c *Calendar) cutoverOn(local time.Time) time.Time {
	y, m, d := local.Date()
	return time.Date(y, m, d, c.hour, c.minute, 0, 0, c.loc)
}
