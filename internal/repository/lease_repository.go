package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const leaseKeyPrefix = "lease:"

// Lease is a time-bounded exclusive claim. It expires on its own if the
// holder crashes without releasing it.
type Lease struct {
	Name      string
	Token     string
	ExpiresAt time.Time
}

// LeaseRepository grants single-flight leases.
type LeaseRepository interface {
	// Acquire claims name for ttl. ok is false while another holder's lease is live.
	Acquire(ctx context.Context, name string, ttl time.Duration) (lease Lease, ok bool, err error)
	// Release drops the lease if it is still held by this token.
	Release(ctx context.Context, lease Lease) error
}

// releaseScript deletes the key only when it still carries our token, so a
// holder whose lease expired cannot release a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

type leaseRepository struct {
	client *redis.Client
}

// NewLeaseRepository builds a Redis-backed lease store.
func NewLeaseRepository(client *redis.Client) LeaseRepository {
	return &leaseRepository{client: client}
}

func (r *leaseRepository) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	lease := Lease{
		Name:      name,
		Token:     uuid.NewString(),
		ExpiresAt: time.Now().Add(ttl),
	}
	ok, err := r.client.SetNX(ctx, leaseKeyPrefix+name, lease.Token, ttl).Result()
	if err != nil {
		return Lease{}, false, err
	}
	if !ok {
		return Lease{}, false, nil
	}
	return lease, true, nil
}

func (r *leaseRepository) Release(ctx context.Context, lease Lease) error {
	return releaseScript.Run(ctx, r.client, []string{leaseKeyPrefix + lease.Name}, lease.Token).Err()
}
