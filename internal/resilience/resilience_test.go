package resilience

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:     attempts,
		InitialDelay:    time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		BackoffFactor:   2.0,
		RetryableErrors: errors.IsRetryableError,
	}
}

func TestRetryWithConfig(t *testing.T) {
	tests := []struct {
		name          string
		failures      int
		err           error
		expectedCalls int
		expectErr     bool
	}{
		{"succeeds first try", 0, nil, 1, false},
		{"recovers after retryable failures", 2, errors.NewNetworkError("reset", nil), 3, false},
		{"gives up after max attempts", 5, errors.NewTimeoutError("slow", nil), 3, true},
		{"does not retry validation errors", 5, errors.NewValidationError("bad"), 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := RetryWithConfig(context.Background(), fastRetry(3), func() error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})

			assert.Equal(t, tt.expectedCalls, calls)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetryWithConfig_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryWithConfig(ctx, fastRetry(3), func() error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestCalculateDelay(t *testing.T) {
	config := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2.0}

	assert.Equal(t, 100*time.Millisecond, calculateDelay(config, 0))
	assert.Equal(t, 400*time.Millisecond, calculateDelay(config, 2))
	assert.Equal(t, time.Second, calculateDelay(config, 10))

	config.JitterEnabled = true
	d := calculateDelay(config, 0)
	assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	assert.Less(t, d, 110*time.Millisecond)
}

func TestRetryManager_Policies(t *testing.T) {
	rm := NewRetryManager()

	assert.Equal(t, "ai", rm.GetPolicy(ServiceAIAnalysis).Name)
	assert.Equal(t, "ai", rm.GetPolicy(ServiceEmbeddings).Name)
	assert.Equal(t, "standard", rm.GetPolicy("unknown").Name)

	rm.RegisterPolicy("custom", RetryPolicy{Name: "custom", Config: fastRetry(2)})
	calls := 0
	err := rm.Execute(context.Background(), "custom", func() error {
		calls++
		return errors.NewNetworkError("down", nil)
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute, SuccessThreshold: 1})
	cb.now = func() time.Time { return now }

	failing := func() error { return stderrors.New("boom") }

	assert.Error(t, cb.Call(failing))
	assert.Equal(t, StateClosed, cb.State())
	assert.Error(t, cb.Call(failing))
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Call(func() error { return nil })
	var cbErr *CircuitBreakerError
	require.ErrorAs(t, err, &cbErr)
	assert.Equal(t, StateOpen, cbErr.State)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Second})
	cb.now = func() time.Time { return now }

	cb.Record(false)
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.Record(false)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerRegistry(t *testing.T) {
	r := NewCircuitBreakerRegistry()
	a := r.GetOrCreate("ai", CircuitBreakerConfig{})
	b := r.GetOrCreate("ai", CircuitBreakerConfig{FailureThreshold: 99})
	assert.Same(t, a, b)

	a.Record(false)
	stats := r.GetStats()
	assert.Equal(t, map[string]interface{}{"state": "closed", "failures": 1}, stats["ai"])

	r.ResetAll()
	assert.Equal(t, 0, a.Failures())

	_, ok := r.Get("missing")
	assert.False(t, ok)
}

func TestDegradationManager_Levels(t *testing.T) {
	config := DefaultDegradationConfig()
	dm := NewDegradationManager(config)
	dm.RegisterService(ServiceAIAnalysis, nil)

	for i := 0; i < 4; i++ {
		dm.RecordRequest(ServiceAIAnalysis, false)
	}
	health, ok := dm.GetServiceHealth(ServiceAIAnalysis)
	require.True(t, ok)
	assert.Equal(t, LevelNormal, health.Level, "below minimum request count")

	dm.RecordRequest(ServiceAIAnalysis, false)
	health, _ = dm.GetServiceHealth(ServiceAIAnalysis)
	assert.Equal(t, LevelEmergency, health.Level)
	assert.False(t, dm.IsServiceAvailable(ServiceAIAnalysis))
	assert.True(t, dm.IsServiceAvailable("unregistered"))

	dm.ResetService(ServiceAIAnalysis)
	assert.True(t, dm.IsServiceAvailable(ServiceAIAnalysis))
}

func TestDegradationManager_WindowResets(t *testing.T) {
	now := time.Now()
	dm := NewDegradationManager(DefaultDegradationConfig())
	dm.now = func() time.Time { return now }
	dm.RegisterService(ServiceEmbeddings, nil)

	for i := 0; i < 10; i++ {
		dm.RecordError(ServiceEmbeddings, stderrors.New("upstream 500"))
	}
	assert.False(t, dm.IsServiceAvailable(ServiceEmbeddings))

	now = now.Add(10 * time.Minute)
	dm.RecordRequest(ServiceEmbeddings, true)

	health, _ := dm.GetServiceHealth(ServiceEmbeddings)
	assert.Equal(t, int64(1), health.TotalRequests)
	assert.Equal(t, int64(0), health.ErrorCount)
	assert.Equal(t, LevelNormal, health.Level)
	assert.Equal(t, "upstream 500", health.LastError)
}

func TestBreakerTransport(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	dm := NewDegradationManager(DefaultDegradationConfig())
	dm.RegisterService(ServiceAIAnalysis, nil)
	breaker := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour})
	transport := NewBreakerTransport(ServiceAIAnalysis, DefaultTransportConfig(), breaker, dm)
	defer transport.Close()
	client := transport.Client(5 * time.Second)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, StateClosed, breaker.State())

	status.Store(http.StatusServiceUnavailable)
	for i := 0; i < 2; i++ {
		resp, err = client.Get(server.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, StateOpen, breaker.State())

	_, err = client.Get(server.URL)
	require.Error(t, err)
	var cbErr *CircuitBreakerError
	assert.ErrorAs(t, err, &cbErr)

	stats := transport.GetStats()
	assert.Equal(t, int64(3), stats["requests"])
	assert.Equal(t, int64(1), stats["rejected"])

	health, _ := dm.GetServiceHealth(ServiceAIAnalysis)
	assert.Equal(t, int64(3), health.TotalRequests)
	assert.Equal(t, int64(2), health.ErrorCount)
}

func TestGuard_ReturnsValue(t *testing.T) {
	g := NewGuard[string](ServiceAIAnalysis, fastRetry(3), nil)

	out := g.Do(context.Background(), "k", func(ctx context.Context) (string, error) {
		return "live", nil
	}, func(error) string { return "fallback" })

	assert.Equal(t, "live", out.Value)
	assert.False(t, out.Fallback)
	assert.NoError(t, out.Err)
}

func TestGuard_FallsBackAfterRetries(t *testing.T) {
	g := NewGuard[[]string](ServiceAIAnalysis, fastRetry(3), nil)

	calls := 0
	out := g.Do(context.Background(), "k", func(ctx context.Context) ([]string, error) {
		calls++
		return nil, errors.NewUpstreamServiceError(ServiceAIAnalysis, nil)
	}, func(error) []string { return []string{"static"} })

	assert.Equal(t, 3, calls)
	assert.True(t, out.Fallback)
	assert.Equal(t, []string{"static"}, out.Value)
	assert.True(t, errors.Is(out.Err, errors.CategoryUpstreamService))
}

func TestGuard_SkipsDegradedService(t *testing.T) {
	dm := NewDegradationManager(DefaultDegradationConfig())
	dm.RegisterService(ServiceAIAnalysis, nil)
	for i := 0; i < 10; i++ {
		dm.RecordRequest(ServiceAIAnalysis, false)
	}

	g := NewGuard[int](ServiceAIAnalysis, fastRetry(3), dm)
	called := false
	out := g.Do(context.Background(), "k", func(ctx context.Context) (int, error) {
		called = true
		return 1, nil
	}, func(error) int { return -1 })

	assert.False(t, called)
	assert.True(t, out.Fallback)
	assert.Equal(t, -1, out.Value)
}

func TestGuard_CollapsesConcurrentCalls(t *testing.T) {
	g := NewGuard[int](ServiceAIAnalysis, fastRetry(1), nil)

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	fn := func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]Outcome[int], 5)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = g.Do(context.Background(), "same", fn, func(error) int { return 0 })
	}()
	<-started

	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = g.Do(context.Background(), "same", fn, func(error) int { return 0 })
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, 42, r.Value)
		assert.False(t, r.Fallback)
	}
}

func TestGuard_SharedCallSurvivesFirstCallerCancel(t *testing.T) {
	g := NewGuard[int](ServiceAIAnalysis, fastRetry(1), nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	fn := func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return 7, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan Outcome[int], 1)
	go func() {
		first <- g.Do(firstCtx, "same", fn, func(error) int { return -1 })
	}()
	<-started

	second := make(chan Outcome[int], 1)
	go func() {
		second <- g.Do(context.Background(), "same", fn, func(error) int { return -1 })
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	abandoned := <-first
	assert.True(t, abandoned.Fallback)
	assert.ErrorIs(t, abandoned.Err, context.Canceled)

	close(release)
	out := <-second
	assert.False(t, out.Fallback)
	assert.Equal(t, 7, out.Value)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGuard_SharedCallKeepsDeadline(t *testing.T) {
	g := NewGuard[int](ServiceAIAnalysis, fastRetry(1), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var sawDeadline atomic.Bool
	out := g.Do(ctx, "k", func(ctx context.Context) (int, error) {
		_, ok := ctx.Deadline()
		sawDeadline.Store(ok)
		<-ctx.Done()
		return 0, ctx.Err()
	}, func(error) int { return -1 })

	assert.Eventually(t, sawDeadline.Load, time.Second, 5*time.Millisecond)
	assert.True(t, out.Fallback)
	assert.Equal(t, -1, out.Value)
}
