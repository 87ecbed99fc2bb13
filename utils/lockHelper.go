package utils

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"github.com/bsm/redislock"
)

// Lock keys follow "kind:company:..." so unrelated resources never collide.
func StockLockKey(companyId string, locationId int, itemId int) string {
	return fmt.Sprintf("stock:%s:%d:%d", companyId, locationId, itemId)
}

func DocumentLockKey(docType string, companyId string, id int) string {
	return fmt.Sprintf("%s:post:%s:%d", docType, companyId, id)
}

const (
	lockRetryLimit      = 8
	lockRetryBackoffMin = 50 * time.Millisecond
	lockRetryBackoffMax = 800 * time.Millisecond
)

// WithLock acquires every key (sorted, so concurrent multi-key acquisitions
// cannot deadlock), runs fn while heartbeat renewals keep the leases alive,
// then releases. Releases and renewals are token-checked server-side by
// redislock, so a slow operation's lock cannot be stolen or released by
// another holder.
//
// Degradation: when the lock backend is unreachable, fn runs WITHOUT the
// distributed lock. Correctness then rests on the caller's row-level locking
// (SELECT ... FOR UPDATE); the redis lock only reduces contention failures.
func WithLock(ctx context.Context, keys []string, ttl time.Duration, fn func(ctx context.Context) error) error {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		config.LogError(logger, "lockHelper.go", "WithLock", "redis lock not initialized, proceeding without lock", keys, ErrorLockServiceDown)
		return fn(ctx)
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	sorted := UniqueSlice(keys)
	sort.Strings(sorted)

	locks := make([]*redislock.Lock, 0, len(sorted))
	releaseAll := func() {
		// release in reverse acquisition order
		for i := len(locks) - 1; i >= 0; i-- {
			_ = locks[i].Release(context.WithoutCancel(ctx))
		}
	}

	for _, key := range sorted {
		// LimitRetry keeps an attempt counter, so each key gets a fresh strategy.
		retry := redislock.LimitRetry(jitterBackoff{min: lockRetryBackoffMin, max: lockRetryBackoffMax}, lockRetryLimit)
		lock, err := locker.Obtain(ctx, key, ttl, &redislock.Options{RetryStrategy: retry})
		if err == redislock.ErrNotObtained {
			releaseAll()
			return ErrorResourceLocked
		} else if err != nil {
			// Lock backend unhealthy: roll back partial acquisition and degrade.
			releaseAll()
			config.LogError(logger, "lockHelper.go", "WithLock", "lock backend error, proceeding without lock", key, err)
			return fn(ctx)
		}
		locks = append(locks, lock)
	}

	// Heartbeat: refresh each lease before it expires for as long as fn runs.
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go func() {
		interval := ttl / 3
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				for _, lock := range locks {
					if err := lock.Refresh(heartbeatCtx, ttl, nil); err != nil {
						config.LogError(logger, "lockHelper.go", "WithLock", "lock heartbeat refresh failed", lock.Key(), err)
					}
				}
			}
		}
	}()

	defer releaseAll()
	return fn(ctx)
}

// jitterBackoff implements redislock.RetryStrategy with stateless uniform
// jitter: every attempt draws from [min, max).
type jitterBackoff struct {
	min time.Duration
	max time.Duration
}

func (b jitterBackoff) NextBackoff() time.Duration {
	spread := b.max - b.min
	if spread <= 0 {
		return b.min
	}
	return b.min + time.Duration(rand.Int63n(int64(spread)))
}
