// Package quota publishes a user's resolved entitlement ceilings to the
// shared cache, where the upload and gallery paths enforce them without
// touching the database.
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/LensVaultHQ/LensVault/internal/pkg/cache"
	"github.com/LensVaultHQ/LensVault/internal/pkg/entitlements"
)

const (
	storageKeyPrefix = "quota:user:"
	limitsKeyPrefix  = "quota:limits:"

	// Unlimited is the sentinel stored when no storage ceiling applies.
	Unlimited int64 = -1
)

// RedisUpdater writes quota ceilings to Redis. It satisfies the billing
// reconciler's QuotaUpdater.
type RedisUpdater struct {
	client *redis.Client
}

func NewRedisUpdater() *RedisUpdater {
	return &RedisUpdater{client: cache.GetClient()}
}

// ApplyLimits stores the storage ceiling and the full limit set. Keys
// have no TTL; every reconciled subscription event rewrites them.
func (u *RedisUpdater) ApplyLimits(ctx context.Context, userID uint, limits entitlements.Limits) error {
	storage := Unlimited
	if limits.StorageBytes != nil {
		storage = *limits.StorageBytes
	}

	if err := u.client.Set(ctx, storageKey(userID), storage, 0).Err(); err != nil {
		return fmt.Errorf("store storage quota for user %d: %w", userID, err)
	}

	blob, err := json.Marshal(limits)
	if err != nil {
		return fmt.Errorf("marshal limits for user %d: %w", userID, err)
	}
	if err := u.client.Set(ctx, limitsKey(userID), blob, 0).Err(); err != nil {
		return fmt.Errorf("store limits for user %d: %w", userID, err)
	}
	return nil
}

// StorageCeiling returns the cached storage ceiling in bytes, or
// Unlimited. Missing keys report found=false; callers fall back to
// resolving from the database.
func (u *RedisUpdater) StorageCeiling(ctx context.Context, userID uint) (bytes int64, found bool, err error) {
	val, err := u.client.Get(ctx, storageKey(userID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt quota value for user %d: %w", userID, err)
	}
	return n, true, nil
}

// Limits returns the cached full limit set, if present.
func (u *RedisUpdater) Limits(ctx context.Context, userID uint) (entitlements.Limits, bool, error) {
	val, err := u.client.Get(ctx, limitsKey(userID)).Result()
	if err == redis.Nil {
		return entitlements.Limits{}, false, nil
	}
	if err != nil {
		return entitlements.Limits{}, false, err
	}
	var limits entitlements.Limits
	if err := json.Unmarshal([]byte(val), &limits); err != nil {
		return entitlements.Limits{}, false, fmt.Errorf("corrupt limits for user %d: %w", userID, err)
	}
	return limits, true, nil
}

// Invalidate drops the cached ceilings, forcing a DB resolve next read.
func (u *RedisUpdater) Invalidate(ctx context.Context, userID uint) error {
	return u.client.Del(ctx, storageKey(userID), limitsKey(userID)).Err()
}

func storageKey(userID uint) string { return storageKeyPrefix + strconv.FormatUint(uint64(userID), 10) }
func limitsKey(userID uint) string  { return limitsKeyPrefix + strconv.FormatUint(uint64(userID), 10) }
