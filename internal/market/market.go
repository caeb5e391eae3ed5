package market

import (
	"sort"
	"strings"
	"time"
)

// Instrument is an opaque instrument code such as "THYAO".
type Instrument string

// Normalize trims and upper-cases the code.
func Normalize(code string) Instrument {
	return Instrument(strings.ToUpper(strings.TrimSpace(code)))
}

// Instruments converts raw codes, dropping blanks and duplicates while keeping order.
func Instruments(codes []string) []Instrument {
	out := make([]Instrument, 0, len(codes))
	seen := make(map[Instrument]struct{}, len(codes))
	for _, c := range codes {
		inst := Normalize(c)
		if inst == "" {
			continue
		}
		if _, ok := seen[inst]; ok {
			continue
		}
		seen[inst] = struct{}{}
		out = append(out, inst)
	}
	return out
}

// Sorted returns a sorted copy.
func Sorted(in []Instrument) []Instrument {
	out := append([]Instrument(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Difference returns the members of a not present in b, in a's order.
func Difference(a, b []Instrument) []Instrument {
	exclude := make(map[Instrument]struct{}, len(b))
	for _, inst := range b {
		exclude[inst] = struct{}{}
	}
	out := make([]Instrument, 0, len(a))
	for _, inst := range a {
		if _, ok := exclude[inst]; !ok {
			out = append(out, inst)
		}
	}
	return out
}

// RawSample is one (timestamp, price) observation as delivered by the source.
type RawSample struct {
	Time  time.Time `json:"t"`
	Price float64   `json:"p"`
}
