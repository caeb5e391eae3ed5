package storage

import (
	"context"
	"errors"
	"testing"

	"deviation-screener/internal/epoch"
)

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress("  Alice@Example.COM ")
	if err != nil || got != "alice@example.com" {
		t.Fatalf("unexpected %q %v", got, err)
	}
	for _, bad := range []string{"", "not-an-address", "Alice <alice@example.com>"} {
		if _, err := NormalizeAddress(bad); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("%q should be rejected, got %v", bad, err)
		}
	}
}

func TestMemorySubscribers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory([]string{"b@x.com", "bogus"})

	added, err := m.AddSubscriber(ctx, "A@x.com")
	if err != nil || !added {
		t.Fatalf("add should succeed: %v %v", added, err)
	}
	added, err = m.AddSubscriber(ctx, "a@x.com")
	if err != nil || added {
		t.Fatalf("duplicate add should report false: %v %v", added, err)
	}

	list, _ := m.ListSubscribers(ctx)
	if len(list) != 2 || list[0] != "a@x.com" || list[1] != "b@x.com" {
		t.Fatalf("unexpected list %v", list)
	}

	removed, err := m.RemoveSubscriber(ctx, "b@x.com")
	if err != nil || !removed {
		t.Fatalf("remove should succeed: %v %v", removed, err)
	}
	removed, _ = m.RemoveSubscriber(ctx, "b@x.com")
	if removed {
		t.Fatal("second remove should report false")
	}
}

func TestMemoryNotificationLogIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	e := epoch.Epoch{Date: "2026-10-18", Late: true}

	exists, _ := m.NotificationExists(ctx, e)
	if exists {
		t.Fatal("log should start empty")
	}
	if err := m.RecordNotification(ctx, NotificationRecord{Epoch: e, Delivered: 1, Attempted: 2}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := m.RecordNotification(ctx, NotificationRecord{Epoch: e, Delivered: 5, Attempted: 5}); err != nil {
		t.Fatalf("second record: %v", err)
	}
	exists, _ = m.NotificationExists(ctx, e)
	if !exists {
		t.Fatal("epoch should be recorded")
	}

	_ = m.RecordNotification(ctx, NotificationRecord{Epoch: epoch.Epoch{Date: "2026-10-19"}})
	recent, _ := m.ListRecentNotifications(ctx, 10)
	if len(recent) != 2 || recent[0].Epoch.Date != "2026-10-19" {
		t.Fatalf("unexpected ordering %#v", recent)
	}
	if recent[1].Delivered != 1 {
		t.Fatal("records must not be overwritten")
	}
}

func TestMemoryBlob(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	if payload, err := m.Load(ctx); payload != nil || err != nil {
		t.Fatalf("empty store should load nil, got %v %v", payload, err)
	}
	_ = m.Save(ctx, []byte(`{"epoch":"2026-10-18"}`))
	payload, _ := m.Load(ctx)
	if string(payload) != `{"epoch":"2026-10-18"}` {
		t.Fatalf("unexpected payload %s", payload)
	}
	if epochTag(payload) != "2026-10-18" {
		t.Fatalf("epoch tag not extracted")
	}
}
