package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exhaust(t *testing.T, limiter *RateLimiter, key string, r Rate) {
	t.Helper()
	for i := 0; i < r.Limit; i++ {
		_, err := limiter.Allow(context.Background(), key, r)
		require.NoError(t, err)
	}
	result, err := limiter.Allow(context.Background(), key, r)
	require.NoError(t, err)
	require.False(t, result.Allowed)
}

func TestInvalidateUser(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, Config{IPLimitPerMin: 60, SubmissionsPerDay: 2, BurstMultiplier: 1})
	ctx := context.Background()

	for _, user := range []string{"user1", "user2"} {
		for i := 0; i < 2; i++ {
			_, err := limiter.AllowSubmission(ctx, user)
			require.NoError(t, err)
		}
	}

	require.NoError(t, limiter.InvalidateUser(ctx, "user1"))

	result, err := limiter.AllowSubmission(ctx, "user1")
	require.NoError(t, err)
	assert.True(t, result.Allowed, "user1 starts over")

	result, err = limiter.AllowSubmission(ctx, "user2")
	require.NoError(t, err)
	assert.False(t, result.Allowed, "user2 keeps its usage")
}

func TestInvalidateUser_DoesNotMatchLongerIDs(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, Config{IPLimitPerMin: 60, SubmissionsPerDay: 1, BurstMultiplier: 1})
	ctx := context.Background()

	_, err := limiter.AllowSubmission(ctx, "user10")
	require.NoError(t, err)
	require.NoError(t, limiter.InvalidateUser(ctx, "user1"))

	result, err := limiter.AllowSubmission(ctx, "user10")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestInvalidateIP(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, Config{IPLimitPerMin: 1, SubmissionsPerDay: 1, BurstMultiplier: 1})
	ctx := context.Background()

	exhaust(t, limiter, ipKey("198.51.100.7"), Rate{Limit: 1, Burst: 1, Period: time.Minute})
	require.NoError(t, limiter.InvalidateIP(ctx, "198.51.100.7"))

	result, err := limiter.AllowIP(ctx, "198.51.100.7")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestInvalidateAllAndKeyCount(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, DefaultConfig())
	ctx := context.Background()
	r := Rate{Limit: 2, Period: time.Minute}

	count, err := limiter.GetKeyCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	for _, key := range []string{"k1", "k2", "k3"} {
		exhaust(t, limiter, key, r)
	}
	count, err = limiter.GetKeyCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, limiter.InvalidateAll(ctx))
	count, err = limiter.GetKeyCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	result, err := limiter.Allow(ctx, "k1", r)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestAdminHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter, _ := newFallbackLimiter(t, Config{IPLimitPerMin: 60, SubmissionsPerDay: 1, BurstMultiplier: 1})
	ctx := context.Background()

	_, err := limiter.AllowSubmission(ctx, "u1")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/ratelimit", limiter.HandleRateLimitStatus())
	router.GET("/admin/ratelimit", limiter.HandleAdminRateLimits())
	router.DELETE("/admin/ratelimit/users/:userID", limiter.HandleAdminInvalidateUser())
	router.DELETE("/admin/ratelimit/ips/:ip", limiter.HandleAdminInvalidateIP())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/ratelimit", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["total_keys"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/admin/ratelimit/users/u1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	result, err := limiter.AllowSubmission(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/admin/ratelimit/ips/10.1.1.1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ratelimit", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "submissions_per_day")
}
