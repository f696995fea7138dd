package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// redis_rate stores its counters under this prefix
const redisRatePrefix = "rate:"

// InvalidateUser removes all rate limit state for a user
func (rl *RateLimiter) InvalidateUser(ctx context.Context, userID string) error {
	prefix := fmt.Sprintf("%suser:%s:", keyPrefix, userID)
	if !rl.redisClient.IsEnabled() {
		n := rl.deleteFallbackPrefix(prefix)
		slog.Info("Invalidated user rate limits (in-memory)", "user_id", userID, "count", n)
		return nil
	}
	return rl.deleteByPattern(ctx, prefix+"*")
}

// InvalidateIP removes all rate limit state for an IP address
func (rl *RateLimiter) InvalidateIP(ctx context.Context, ip string) error {
	key := ipKey(ip)
	if !rl.redisClient.IsEnabled() {
		n := rl.deleteFallbackPrefix(key)
		slog.Info("Invalidated IP rate limits (in-memory)", "ip", ip, "count", n)
		return nil
	}
	return rl.deleteByPattern(ctx, key+"*")
}

// InvalidateAll removes every rate limit key
func (rl *RateLimiter) InvalidateAll(ctx context.Context) error {
	if !rl.redisClient.IsEnabled() {
		rl.fallbackMutex.Lock()
		count := len(rl.fallbackLimiters)
		rl.fallbackLimiters = make(map[string]*fallbackEntry)
		rl.fallbackMutex.Unlock()

		slog.Warn("Invalidated all rate limits (in-memory)", "count", count)
		return nil
	}

	slog.Warn("Invalidating ALL rate limits", "pattern", keyPrefix+"*")
	return rl.deleteByPattern(ctx, keyPrefix+"*")
}

// GetKeyCount returns the number of tracked rate limit keys
func (rl *RateLimiter) GetKeyCount(ctx context.Context) (int, error) {
	if !rl.redisClient.IsEnabled() {
		rl.fallbackMutex.Lock()
		defer rl.fallbackMutex.Unlock()
		return len(rl.fallbackLimiters), nil
	}

	var (
		cursor uint64
		count  int
	)
	client := rl.redisClient.GetClient()
	for {
		keys, next, err := client.Scan(ctx, cursor, redisRatePrefix+keyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan keys: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

func (rl *RateLimiter) deleteFallbackPrefix(prefix string) int {
	rl.fallbackMutex.Lock()
	defer rl.fallbackMutex.Unlock()

	n := 0
	for key := range rl.fallbackLimiters {
		if strings.HasPrefix(key, prefix) {
			delete(rl.fallbackLimiters, key)
			n++
		}
	}
	return n
}

// deleteByPattern deletes all Redis keys matching a pattern
func (rl *RateLimiter) deleteByPattern(ctx context.Context, pattern string) error {
	client := rl.redisClient.GetClient()

	var (
		cursor       uint64
		deletedCount int
	)
	for {
		keys, nextCursor, err := client.Scan(ctx, cursor, redisRatePrefix+pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			deleted, err := client.Del(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("failed to delete keys: %w", err)
			}
			deletedCount += int(deleted)
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	slog.Info("Deleted rate limit keys by pattern", "pattern", pattern, "count", deletedCount)
	return nil
}
