package storage

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"deviation-screener/internal/epoch"
	"deviation-screener/internal/market"
)

// ErrInvalidAddress marks a subscriber address that does not parse.
var ErrInvalidAddress = errors.New("storage: invalid subscriber address")

// NotificationRecord marks an epoch as notified. Records are write-once.
type NotificationRecord struct {
	Epoch epoch.Epoch `json:"epoch"`
	// Instruments is the opportunity set at delivery time; it is the next delta baseline.
	Instruments []market.Instrument `json:"instruments"`
	Attempted   int                 `json:"attempted"`
	Delivered   int                 `json:"delivered"`
	CreatedAt   time.Time           `json:"created_at"`
}

// NormalizeAddress validates an email address and returns its canonical lower-case form.
func NormalizeAddress(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidAddress
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	if addr.Address != trimmed {
		return "", fmt.Errorf("%w: %q must be a bare address", ErrInvalidAddress, raw)
	}
	return strings.ToLower(addr.Address), nil
}
