package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"deviation-screener/internal/epoch"
)

// Memory is a process-local stand-in for Store, used when no database is configured.
type Memory struct {
	mu          sync.Mutex
	subscribers map[string]struct{}
	log         map[epoch.Epoch]NotificationRecord
	blob        []byte
}

// NewMemory seeds an in-memory store with subscriber addresses. Invalid seeds are skipped.
func NewMemory(seed []string) *Memory {
	m := &Memory{
		subscribers: make(map[string]struct{}, len(seed)),
		log:         make(map[epoch.Epoch]NotificationRecord),
	}
	for _, raw := range seed {
		if addr, err := NormalizeAddress(raw); err == nil {
			m.subscribers[addr] = struct{}{}
		}
	}
	return m
}

// ListSubscribers returns every address, sorted.
func (m *Memory) ListSubscribers(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subscribers))
	for addr := range m.subscribers {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out, nil
}

// AddSubscriber inserts an address; false means it already existed.
func (m *Memory) AddSubscriber(_ context.Context, address string) (bool, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[addr]; ok {
		return false, nil
	}
	m.subscribers[addr] = struct{}{}
	return true, nil
}

// RemoveSubscriber deletes an address; false means it was not present.
func (m *Memory) RemoveSubscriber(_ context.Context, address string) (bool, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[addr]; !ok {
		return false, nil
	}
	delete(m.subscribers, addr)
	return true, nil
}

// NotificationExists reports whether an epoch was already notified.
func (m *Memory) NotificationExists(_ context.Context, e epoch.Epoch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.log[e]
	return ok, nil
}

// RecordNotification stores the first record per epoch and ignores later ones.
func (m *Memory) RecordNotification(_ context.Context, rec NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.log[rec.Epoch]; ok {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.log[rec.Epoch] = rec
	return nil
}

// ListRecentNotifications lists the newest records first.
func (m *Memory) ListRecentNotifications(_ context.Context, limit int) ([]NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := sortedRecords(m.log)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Load returns the stored snapshot blob.
func (m *Memory) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blob == nil {
		return nil, nil
	}
	return append([]byte(nil), m.blob...), nil
}

// Save replaces the stored snapshot blob.
func (m *Memory) Save(_ context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = append([]byte(nil), payload...)
	return nil
}

var (
	_ SubscriberStore = (*Memory)(nil)
	_ NotificationLog = (*Memory)(nil)
)
