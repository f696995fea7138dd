package influence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ZanzyTHEbar/idea-forge/internal/cache"
	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

const leaderboardPrefix = "leaderboard:"

// LeaderboardCache holds rendered leaderboards until the next award
type LeaderboardCache struct {
	cache *cache.Cache
}

// NewLeaderboardCache creates a cache whose entries also expire after ttl
func NewLeaderboardCache(ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{cache: cache.NewCache(ttl)}
}

func (lc *LeaderboardCache) key(window types.Window, limit int) string {
	return fmt.Sprintf("%s%s:%d", leaderboardPrefix, window, limit)
}

// Get returns a cached leaderboard
func (lc *LeaderboardCache) Get(window types.Window, limit int) (*Leaderboard, bool) {
	key := lc.key(window, limit)
	data, found := lc.cache.Get(key)
	if !found {
		return nil, false
	}

	var board Leaderboard
	if err := json.Unmarshal(data, &board); err != nil {
		slog.Error("Failed to unmarshal cached leaderboard", "error", err, "key", key)
		return nil, false
	}
	return &board, true
}

// Set caches board
func (lc *LeaderboardCache) Set(window types.Window, limit int, board *Leaderboard) {
	data, err := json.Marshal(board)
	if err != nil {
		slog.Error("Failed to marshal leaderboard for cache", "error", err, "window", window)
		return
	}
	lc.cache.Set(lc.key(window, limit), data)
}

// InvalidateAll drops every cached leaderboard
func (lc *LeaderboardCache) InvalidateAll() {
	if n := lc.cache.DeletePrefix(leaderboardPrefix); n > 0 {
		slog.Debug("Leaderboard cache invalidated", "entries", n)
	}
}

// GetStats returns cache statistics
func (lc *LeaderboardCache) GetStats() map[string]interface{} {
	return lc.cache.Stats()
}

// Close stops the cache's cleanup goroutine
func (lc *LeaderboardCache) Close() {
	lc.cache.Close()
}
