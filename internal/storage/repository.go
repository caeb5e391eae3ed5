package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deviation-screener/internal/epoch"
	"deviation-screener/internal/market"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const latestKey = "latest"

const (
	listSubscribersSQL = `SELECT address FROM subscribers ORDER BY address;`

	addSubscriberSQL = `INSERT INTO subscribers (address) VALUES ($1)
    ON CONFLICT (address) DO NOTHING;`

	removeSubscriberSQL = `DELETE FROM subscribers WHERE address = $1;`

	notificationExistsSQL = `SELECT EXISTS (SELECT 1 FROM notification_log WHERE epoch = $1);`

	insertNotificationSQL = `INSERT INTO notification_log (
        epoch,
        instruments,
        attempted,
        delivered
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (epoch) DO NOTHING;`

	listRecentNotificationsSQL = `SELECT
        epoch,
        instruments,
        attempted,
        delivered,
        created_at
    FROM notification_log
    ORDER BY created_at DESC
    LIMIT $1;`

	loadSnapshotSQL = `SELECT payload FROM snapshot_cache WHERE key = $1;`

	saveSnapshotSQL = `INSERT INTO snapshot_cache (key, epoch, payload, updated_at)
    VALUES ($1,$2,$3,now())
    ON CONFLICT (key) DO UPDATE
    SET epoch      = EXCLUDED.epoch,
        payload    = EXCLUDED.payload,
        updated_at = EXCLUDED.updated_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SubscriberStore manages notification recipients. Uniqueness is enforced by the store.
type SubscriberStore interface {
	ListSubscribers(ctx context.Context) ([]string, error)
	AddSubscriber(ctx context.Context, address string) (bool, error)
	RemoveSubscriber(ctx context.Context, address string) (bool, error)
}

// NotificationLog is the append-only per-epoch dedup record.
type NotificationLog interface {
	NotificationExists(ctx context.Context, e epoch.Epoch) (bool, error)
	RecordNotification(ctx context.Context, rec NotificationRecord) error
	ListRecentNotifications(ctx context.Context, limit int) ([]NotificationRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates subscribers, the notification log and the snapshot blob in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the connection is recycled
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// ListSubscribers returns every address, sorted.
func (s *Store) ListSubscribers(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSubscribersSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list subscribers: %w", queryErr)
	}
	addresses, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan subscribers: %w", err)
	}
	return addresses, nil
}

// AddSubscriber inserts an address; false means it already existed.
func (s *Store) AddSubscriber(ctx context.Context, address string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, addSubscriberSQL, normalized)
	if execErr != nil {
		return false, fmt.Errorf("add subscriber: %w", execErr)
	}
	return tag.RowsAffected() == 1, nil
}

// RemoveSubscriber deletes an address; false means it was not present.
func (s *Store) RemoveSubscriber(ctx context.Context, address string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, removeSubscriberSQL, normalized)
	if execErr != nil {
		return false, fmt.Errorf("remove subscriber: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// NotificationExists reports whether an epoch was already notified.
func (s *Store) NotificationExists(ctx context.Context, e epoch.Epoch) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if scanErr := pool.QueryRow(ctx, notificationExistsSQL, e.String()).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("check notification log: %w", scanErr)
	}
	return exists, nil
}

// RecordNotification appends a record; an existing record for the epoch is left untouched.
func (s *Store) RecordNotification(ctx context.Context, rec NotificationRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	instruments := make([]string, len(rec.Instruments))
	for i, inst := range rec.Instruments {
		instruments[i] = string(inst)
	}
	if _, execErr := pool.Exec(ctx, insertNotificationSQL, rec.Epoch.String(), instruments, rec.Attempted, rec.Delivered); execErr != nil {
		return fmt.Errorf("record notification: %w", execErr)
	}
	return nil
}

// ListRecentNotifications lists the newest records first.
func (s *Store) ListRecentNotifications(ctx context.Context, limit int) ([]NotificationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentNotificationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list notifications: %w", queryErr)
	}
	defer rows.Close()

	records := make([]NotificationRecord, 0, limit)
	for rows.Next() {
		var (
			epochStr    string
			instruments []string
			rec         NotificationRecord
		)
		if err := rows.Scan(&epochStr, &instruments, &rec.Attempted, &rec.Delivered, &rec.CreatedAt); err != nil {
			return nil, err
		}
		parsed, parseErr := epoch.Parse(epochStr)
		if parseErr != nil {
			return nil, parseErr
		}
		rec.Epoch = parsed
		rec.Instruments = market.Instruments(instruments)
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// Load returns the persisted snapshot blob, or nil when none exists.
func (s *Store) Load(ctx context.Context) ([]byte, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	var payload []byte
	scanErr := pool.QueryRow(ctx, loadSnapshotSQL, latestKey).Scan(&payload)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, nil
	}
	if scanErr != nil {
		return nil, fmt.Errorf("load snapshot: %w", scanErr)
	}
	return payload, nil
}

// Save upserts the snapshot blob under the "latest" key. The epoch column is informational.
func (s *Store) Save(ctx context.Context, payload []byte) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, saveSnapshotSQL, latestKey, epochTag(payload), payload); execErr != nil {
		return fmt.Errorf("save snapshot: %w", execErr)
	}
	return nil
}

func epochTag(payload []byte) string {
	var head struct {
		Epoch string `json:"epoch"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return ""
	}
	return head.Epoch
}

var (
	_ SubscriberStore = (*Store)(nil)
	_ NotificationLog = (*Store)(nil)
	_ AdvisoryLocker  = (*Store)(nil)
)
