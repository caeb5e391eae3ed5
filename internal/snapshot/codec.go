package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
)

// formatVersion is bumped whenever the persisted layout changes incompatibly.
const formatVersion = 1

// ErrCorrupt marks a persisted blob that cannot be decoded.
var ErrCorrupt = errors.New("snapshot: corrupt cache payload")

type envelope struct {
	Version  int       `json:"version"`
	Epoch    string    `json:"epoch"`
	Snapshot *Snapshot `json:"snapshot"`
}

// Encode serialises a snapshot with its epoch tag.
func Encode(s *Snapshot) ([]byte, error) {
	if s == nil {
		return nil, errors.New("snapshot: nil snapshot")
	}
	payload, err := json.Marshal(envelope{Version: formatVersion, Epoch: s.Epoch.String(), Snapshot: s})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return payload, nil
}

// Decode parses a blob produced by Encode. Any structural problem yields ErrCorrupt.
func Decode(payload []byte) (*Snapshot, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, env.Version)
	}
	if env.Snapshot == nil || env.Snapshot.Epoch.IsZero() {
		return nil, fmt.Errorf("%w: missing snapshot", ErrCorrupt)
	}
	if env.Snapshot.Epoch.String() != env.Epoch {
		return nil, fmt.Errorf("%w: epoch tag %q does not match snapshot %q", ErrCorrupt, env.Epoch, env.Snapshot.Epoch)
	}
	return env.Snapshot, nil
}
