package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryDeduper(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := NewMemoryDeduper(time.Hour)
	d.now = func() time.Time { return now }

	claim := func(want bool) {
		t.Helper()
		got, err := d.Claim(ctx, "onOrderCreated:chg_1")
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if got != want {
			t.Fatalf("Claim = %v, want %v", got, want)
		}
	}

	claim(true)
	claim(false) // in flight

	_ = d.Release(ctx, "onOrderCreated:chg_1")
	claim(true) // released after a failure

	_ = d.Complete(ctx, "onOrderCreated:chg_1")
	claim(false)

	now = now.Add(2 * time.Hour)
	claim(true) // done marker expired
}

func TestMemoryDeduper_StaleClaimExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	d := NewMemoryDeduper(0)
	d.now = func() time.Time { return now }

	if ok, _ := d.Claim(ctx, "k"); !ok {
		t.Fatal("first claim refused")
	}
	now = now.Add(31 * time.Second)
	if ok, _ := d.Claim(ctx, "k"); !ok {
		t.Error("claim held by a dead worker should expire")
	}
}
