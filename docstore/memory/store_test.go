package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/godamri/helix-triggers/docstore"
	"github.com/godamri/helix-triggers/docstore/memory"
	"github.com/godamri/helix-triggers/trigger"
)

func TestStore_CRUD(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if _, err := s.Get(ctx, "orders", "missing"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("Get missing: err = %v, want ErrNotFound", err)
	}

	if err := s.Create(ctx, "orders", "o1", docstore.Fields{"resId": "r1", "total": 42.5}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, "orders", "o1", docstore.Fields{"resId": "other"}); !errors.Is(err, docstore.ErrAlreadyExists) {
		t.Fatalf("Create duplicate: err = %v, want ErrAlreadyExists", err)
	}

	if err := s.Update(ctx, "orders", "o1", docstore.Fields{"status": "cancelled"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update(ctx, "orders", "nope", docstore.Fields{"status": "cancelled"}); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("Update missing: err = %v, want ErrNotFound", err)
	}

	snap, err := s.Get(ctx, "orders", "o1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.String("resId") != "r1" || snap.String("status") != "cancelled" {
		t.Errorf("unexpected data %v", snap.Data)
	}

	// Snapshots must not alias stored state.
	snap.Data["status"] = "tampered"
	again, _ := s.Get(ctx, "orders", "o1")
	if again.String("status") != "cancelled" {
		t.Errorf("snapshot mutation leaked into store: %v", again.Data)
	}
}

func TestStore_ServerTimestampsAreMonotonic(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := memory.New(memory.WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	var prev time.Time
	for i := 0; i < 5; i++ {
		id, err := s.Add(ctx, "adminLogs", docstore.Fields{"timestamp": docstore.ServerTimestamp})
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		snap, err := s.Get(ctx, "adminLogs", id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		ts, ok := snap.Data["timestamp"].(time.Time)
		if !ok {
			t.Fatalf("timestamp not resolved: %T", snap.Data["timestamp"])
		}
		if !ts.After(prev) {
			t.Fatalf("timestamp %v not after %v", ts, prev)
		}
		prev = ts
	}
}

func TestStore_Watch(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	events, cancel := s.Watch()
	defer cancel()

	if err := s.Create(ctx, "restaurants", "r1", docstore.Fields{"status": "open"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Update(ctx, "restaurants", "r1", docstore.Fields{"status": "closed"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	created := receive(t, events)
	if created.Operation != trigger.OpCreate || created.DocumentID != "r1" || created.Before != nil {
		t.Errorf("create event = %+v", created)
	}
	updated := receive(t, events)
	if updated.Operation != trigger.OpUpdate {
		t.Fatalf("operation = %q, want update", updated.Operation)
	}
	if updated.Before["status"] != "open" || updated.After["status"] != "closed" {
		t.Errorf("before/after = %v / %v", updated.Before, updated.After)
	}
	if updated.ID == "" || updated.ID == created.ID {
		t.Errorf("event ids must be unique and non-empty: %q, %q", created.ID, updated.ID)
	}
}

func TestStore_FailNext(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	boom := errors.New("boom")

	s.FailNext("add", "adminLogs", boom)
	if _, err := s.Add(ctx, "adminLogs", docstore.Fields{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, err := s.Add(ctx, "adminLogs", docstore.Fields{}); err != nil {
		t.Fatalf("second Add should succeed: %v", err)
	}
}

func receive(t *testing.T, ch <-chan trigger.ChangeEvent) trigger.ChangeEvent {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatal("watch channel closed")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
	return trigger.ChangeEvent{}
}
