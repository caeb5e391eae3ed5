package epoch

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout = "2006-01-02"
	lateSuffix = "-late"
)

// Epoch is a cache-validity window: one calendar date split in two by the cutover.
type Epoch struct {
	Date string
	Late bool
}

// String renders the epoch as "2006-01-02" or "2006-01-02-late".
func (e Epoch) String() string {
	if e.Late {
		return e.Date + lateSuffix
	}
	return e.Date
}

// IsZero reports whether the epoch carries no date.
func (e Epoch) IsZero() bool {
	return e.Date == ""
}

// Equal reports whether both epochs denote the same window.
func (e Epoch) Equal(other Epoch) bool {
	return e.Date == other.Date && e.Late == other.Late
}

// Before orders epochs by time. Dates compare lexically in ISO form.
func (e Epoch) Before(other Epoch) bool {
	if e.Date != other.Date {
		return e.Date < other.Date
	}
	return !e.Late && other.Late
}

// Parse is the inverse of String.
func Parse(s string) (Epoch, error) {
	s = strings.TrimSpace(s)
	late := strings.HasSuffix(s, lateSuffix)
	date := strings.TrimSuffix(s, lateSuffix)
	if _, err := time.Parse(dateLayout, date); err != nil {
		return Epoch{}, fmt.Errorf("parse epoch %q: %w", s, err)
	}
	return Epoch{Date: date, Late: late}, nil
}

// MarshalText lets epochs be used as JSON map keys and log fields.
func (e Epoch) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText parses the textual form produced by MarshalText.
func (e *Epoch) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
