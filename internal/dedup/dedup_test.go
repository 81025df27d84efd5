package dedup

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_ClaimOnce(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	ok, err := s.Claim(ctx, "OWNER#u1/TASK#t1@1")
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v; want true, nil", ok, err)
	}
	ok, _ = s.Claim(ctx, "OWNER#u1/TASK#t1@1")
	if ok {
		t.Error("second claim of the same id should fail")
	}
	ok, _ = s.Claim(ctx, "OWNER#u1/TASK#t1@2")
	if !ok {
		t.Error("a different sequence should be claimable")
	}
}

func TestMemoryStore_Release(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	s.Claim(ctx, "id")
	s.Release(ctx, "id")

	if ok, _ := s.Claim(ctx, "id"); !ok {
		t.Error("released id should be claimable again")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(time.Minute)
	s.clock = func() time.Time { return now }
	ctx := context.Background()

	s.Claim(ctx, "a")
	s.Claim(ctx, "b")

	now = now.Add(2 * time.Minute)
	if ok, _ := s.Claim(ctx, "a"); !ok {
		t.Error("expired claim should be reclaimable")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after sweep", s.Len())
	}
}
