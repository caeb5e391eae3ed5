package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"deviation-screener/internal/epoch"
)

var errCorruptLog = errors.New("storage: notification log corrupt")

// Blob is a single persisted payload; cache.FileStore satisfies it.
type Blob interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, payload []byte) error
}

// FileLog keeps the notification log in a blob so the per-epoch dedup survives restarts
// without a database. Every call re-reads the blob, so sequential processes observe each
// other's records.
type FileLog struct {
	mu   sync.Mutex
	blob Blob
}

// NewFileLog wraps a blob as a NotificationLog.
func NewFileLog(blob Blob) *FileLog {
	return &FileLog{blob: blob}
}

func (l *FileLog) load(ctx context.Context) (map[epoch.Epoch]NotificationRecord, error) {
	payload, err := l.blob.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("read notification log: %w", err)
	}
	records := make(map[epoch.Epoch]NotificationRecord)
	if len(payload) == 0 {
		return records, nil
	}
	var list []NotificationRecord
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptLog, err)
	}
	for _, rec := range list {
		if _, ok := records[rec.Epoch]; !ok {
			records[rec.Epoch] = rec
		}
	}
	return records, nil
}

// NotificationExists reports whether an epoch was already notified.
func (l *FileLog) NotificationExists(ctx context.Context, e epoch.Epoch) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	records, err := l.load(ctx)
	if err != nil {
		return false, err
	}
	_, ok := records[e]
	return ok, nil
}

// RecordNotification stores the first record per epoch and ignores later ones. A corrupt
// log is replaced.
func (l *FileLog) RecordNotification(ctx context.Context, rec NotificationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	records, err := l.load(ctx)
	switch {
	case errors.Is(err, errCorruptLog):
		records = make(map[epoch.Epoch]NotificationRecord)
	case err != nil:
		return err
	}
	if _, ok := records[rec.Epoch]; ok {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	records[rec.Epoch] = rec

	payload, err := json.MarshalIndent(sortedRecords(records), "", "  ")
	if err != nil {
		return fmt.Errorf("encode notification log: %w", err)
	}
	if err := l.blob.Save(ctx, payload); err != nil {
		return fmt.Errorf("write notification log: %w", err)
	}
	return nil
}

// ListRecentNotifications lists the newest records first.
func (l *FileLog) ListRecentNotifications(ctx context.Context, limit int) ([]NotificationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	records, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	out := sortedRecords(records)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortedRecords(records map[epoch.Epoch]NotificationRecord) []NotificationRecord {
	out := make([]NotificationRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Epoch.Before(out[i].Epoch) })
	return out
}

var _ NotificationLog = (*FileLog)(nil)
