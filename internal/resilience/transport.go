package resilience

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// TransportConfig sizes the pooled transport used for upstream AI calls
type TransportConfig struct {
	MaxIdle     int
	MaxActive   int
	IdleTimeout time.Duration
	Timeout     time.Duration
}

// DefaultTransportConfig returns pool limits suited to a single AI provider
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdle:     20,
		MaxActive:   50,
		IdleTimeout: 90 * time.Second,
		Timeout:     60 * time.Second,
	}
}

// BreakerTransport is an http.RoundTripper over a pooled transport. Transport
// errors and 5xx/429 responses count as failures against the breaker and the
// degradation manager.
type BreakerTransport struct {
	service     string
	base        http.RoundTripper
	breaker     *CircuitBreaker
	degradation *DegradationManager

	inFlight atomic.Int64
	requests atomic.Int64
	rejected atomic.Int64
}

// NewBreakerTransport builds a pooled transport for one upstream service.
// degradation may be nil.
func NewBreakerTransport(service string, config TransportConfig, breaker *CircuitBreaker, degradation *DegradationManager) *BreakerTransport {
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          config.MaxIdle,
		MaxConnsPerHost:       config.MaxActive,
		MaxIdleConnsPerHost:   config.MaxIdle,
		IdleConnTimeout:       config.IdleTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return newBreakerTransport(service, base, breaker, degradation)
}

func newBreakerTransport(service string, base http.RoundTripper, breaker *CircuitBreaker, degradation *DegradationManager) *BreakerTransport {
	if breaker == nil {
		breaker = NewCircuitBreaker(CircuitBreakerConfig{})
	}
	return &BreakerTransport{
		service:     service,
		base:        base,
		breaker:     breaker,
		degradation: degradation,
	}
}

// RoundTrip implements http.RoundTripper
func (t *BreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.breaker.Allow(); err != nil {
		t.rejected.Add(1)
		return nil, fmt.Errorf("%s: %w", t.service, err)
	}

	t.requests.Add(1)
	t.inFlight.Add(1)
	defer t.inFlight.Add(-1)

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	failed := err != nil || resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests

	t.breaker.Record(!failed)
	if t.degradation != nil {
		if err != nil {
			t.degradation.RecordError(t.service, err)
		} else {
			t.degradation.RecordRequest(t.service, !failed)
		}
	}

	if failed {
		slog.Warn("Upstream request failed",
			"service", t.service,
			"url", req.URL.Redacted(),
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
	}
	return resp, err
}

// Client returns an *http.Client using this transport
func (t *BreakerTransport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

// GetStats returns transport statistics
func (t *BreakerTransport) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"service":               t.service,
		"in_flight":             t.inFlight.Load(),
		"requests":              t.requests.Load(),
		"rejected":              t.rejected.Load(),
		"circuit_breaker_state": t.breaker.State().String(),
	}
}

// Close drops idle pooled connections
func (t *BreakerTransport) Close() error {
	if closer, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
	return nil
}
