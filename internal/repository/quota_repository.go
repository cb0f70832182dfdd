package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// QuotaRepository tracks weekly per-guardian send counts in Redis. Reserve is
// a true reservation: the INCR is atomic, so two concurrent sends can never
// both squeeze past the cap.
type QuotaRepository struct {
	client *redis.Client
}

// NewQuotaRepository constructs the repository.
func NewQuotaRepository(client *redis.Client) *QuotaRepository {
	return &QuotaRepository{client: client}
}

// Reserve atomically claims one send slot for the guardian's current ISO
// week. When the cap is already spent the claim is rolled back and false is
// returned.
func (r *QuotaRepository) Reserve(ctx context.Context, guardianID string, limit int, now time.Time) (bool, error) {
	key := r.key(guardianID, now)
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("reserve weekly quota: %w", err)
	}
	if n == 1 {
		// First send this week; the counter expires on its own after two
		// weeks so stale keys do not accumulate.
		if err := r.client.Expire(ctx, key, 14*24*time.Hour).Err(); err != nil {
			return false, fmt.Errorf("expire weekly quota: %w", err)
		}
	}
	if int(n) > limit {
		if err := r.client.Decr(ctx, key).Err(); err != nil {
			return false, fmt.Errorf("rollback weekly quota: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// Check reports whether a slot is still available this week without claiming
// one. Used by admission previews so a dry run never spends quota.
func (r *QuotaRepository) Check(ctx context.Context, guardianID string, limit int, now time.Time) (bool, error) {
	n, err := r.client.Get(ctx, r.key(guardianID, now)).Int()
	if err != nil {
		if err == redis.Nil {
			return true, nil
		}
		return false, fmt.Errorf("check weekly quota: %w", err)
	}
	return n < limit, nil
}

// Release returns one reserved slot, used when an admitted send is cancelled
// before any transport attempt.
func (r *QuotaRepository) Release(ctx context.Context, guardianID string, now time.Time) error {
	if err := r.client.Decr(ctx, r.key(guardianID, now)).Err(); err != nil {
		return fmt.Errorf("release weekly quota: %w", err)
	}
	return nil
}

func (r *QuotaRepository) key(guardianID string, now time.Time) string {
	year, week := now.UTC().ISOWeek()
	return fmt.Sprintf("notify:quota:%s:%d-%02d", guardianID, year, week)
}
