package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLeaseRepo(t *testing.T) (*miniredis.Miniredis, LeaseRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewLeaseRepository(client)
}

func TestLeaseAcquireIsExclusive(t *testing.T) {
	mr, leases := newLeaseRepo(t)
	ctx := context.Background()

	first, ok, err := leases.Acquire(ctx, "etl-cycle", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if got, _ := mr.Get(leaseKeyPrefix + "etl-cycle"); got != first.Token {
		t.Fatalf("stored token = %q, want %q", got, first.Token)
	}
	if ttl := mr.TTL(leaseKeyPrefix + "etl-cycle"); ttl != time.Minute {
		t.Fatalf("ttl = %s, want 1m", ttl)
	}

	if _, ok, err := leases.Acquire(ctx, "etl-cycle", time.Minute); err != nil || ok {
		t.Fatalf("second acquire while held: ok=%v err=%v", ok, err)
	}
	if _, ok, err := leases.Acquire(ctx, "other", time.Minute); err != nil || !ok {
		t.Fatalf("unrelated name: ok=%v err=%v", ok, err)
	}
}

func TestLeaseExpiresAndCanBeReacquired(t *testing.T) {
	mr, leases := newLeaseRepo(t)
	ctx := context.Background()

	first, ok, err := leases.Acquire(ctx, "etl-cycle", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	mr.FastForward(31 * time.Second)

	second, ok, err := leases.Acquire(ctx, "etl-cycle", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("reacquire after expiry: ok=%v err=%v", ok, err)
	}
	if second.Token == first.Token {
		t.Fatalf("successor reused token %q", first.Token)
	}
}

func TestLeaseStaleReleaseKeepsSuccessor(t *testing.T) {
	mr, leases := newLeaseRepo(t)
	ctx := context.Background()

	stale, _, err := leases.Acquire(ctx, "etl-cycle", 10*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(11 * time.Second)
	successor, ok, err := leases.Acquire(ctx, "etl-cycle", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("successor acquire: ok=%v err=%v", ok, err)
	}

	if err := leases.Release(ctx, stale); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if got, err := mr.Get(leaseKeyPrefix + "etl-cycle"); err != nil || got != successor.Token {
		t.Fatalf("successor lease lost: value=%q err=%v", got, err)
	}

	if err := leases.Release(ctx, successor); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists(leaseKeyPrefix + "etl-cycle") {
		t.Fatalf("lease still present after holder released it")
	}
	if _, ok, err := leases.Acquire(ctx, "etl-cycle", 10*time.Second); err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}
