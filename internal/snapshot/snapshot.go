package snapshot

import (
	"time"

	"deviation-screener/internal/epoch"
	"deviation-screener/internal/market"
	"deviation-screener/internal/series"
	"deviation-screener/internal/summary"
)

// Snapshot is the published result of one refresh cycle. It must not be mutated after
// it is handed to the cache manager.
type Snapshot struct {
	Epoch         epoch.Epoch                         `json:"epoch"`
	BuiltAt       time.Time                           `json:"built_at"`
	Instruments   []market.Instrument                 `json:"instruments"`
	Series        map[market.Instrument]series.Series `json:"series"`
	Tables        summary.Tables                      `json:"tables"`
	Opportunities []market.Instrument                 `json:"opportunities"`
	// PreviousOpportunities is the opportunity set of the snapshot this one superseded.
	PreviousOpportunities []market.Instrument `json:"previous_opportunities,omitempty"`
	Failed                []market.Instrument `json:"failed,omitempty"`
}

// OpportunitySet returns a copy of the opportunity set.
func (s *Snapshot) OpportunitySet() []market.Instrument {
	if s == nil {
		return nil
	}
	return append([]market.Instrument(nil), s.Opportunities...)
}

// NewOpportunities returns opportunities absent from the superseded snapshot.
func (s *Snapshot) NewOpportunities() []market.Instrument {
	if s == nil {
		return nil
	}
	return market.Difference(s.Opportunities, s.PreviousOpportunities)
}

// Lookup returns the series of one instrument.
func (s *Snapshot) Lookup(inst market.Instrument) (series.Series, bool) {
	if s == nil {
		return series.Series{}, false
	}
	ser, ok := s.Series[inst]
	return ser, ok
}
