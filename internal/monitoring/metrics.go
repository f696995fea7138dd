package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds application counters exposed on /metrics
type Metrics struct {
	RequestCount        int64
	ErrorCount          int64
	CacheHits           int64
	CacheMisses         int64
	AverageResponseTime int64 // in nanoseconds
	StartTime           time.Time

	IdeasSubmitted  int64
	FallbackScores  int64
	RemixesCreated  int64
	RemixWarnings   int64
	AwardsGranted   int64
	AwardsFailed    int64
	PointsAwarded   int64
	FeedEvents      int64
	FeedDropped     int64
	ScoresRepaired  int64
	Combinations    int64
	EmbeddingsSaved int64

	ResponseTimes      []time.Duration
	ResponseTimesMutex sync.RWMutex

	RequestCountByStatus map[int]int64
	StatusMutex          sync.RWMutex

	ExternalAPIRequests   map[string]int64
	ExternalAPIErrorCount map[string]int64
	ExternalAPIMutex      sync.RWMutex

	RateLimitIPBlocks      int64
	RateLimitUserBlocks    int64
	RateLimitRedisErrors   int64
	RateLimitFallbackCount int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime:             time.Now(),
		ResponseTimes:         make([]time.Duration, 0, 1000),
		RequestCountByStatus:  make(map[int]int64),
		ExternalAPIRequests:   make(map[string]int64),
		ExternalAPIErrorCount: make(map[string]int64),
	}
}

func (m *Metrics) IncrementRequest()   { atomic.AddInt64(&m.RequestCount, 1) }
func (m *Metrics) IncrementError()     { atomic.AddInt64(&m.ErrorCount, 1) }
func (m *Metrics) IncrementCacheHit()  { atomic.AddInt64(&m.CacheHits, 1) }
func (m *Metrics) IncrementCacheMiss() { atomic.AddInt64(&m.CacheMisses, 1) }

// RecordSubmission counts a scored idea; fallback marks a guaranteed score.
func (m *Metrics) RecordSubmission(fallback bool) {
	atomic.AddInt64(&m.IdeasSubmitted, 1)
	if fallback {
		atomic.AddInt64(&m.FallbackScores, 1)
	}
}

// RecordRemix counts a created remix and the warnings it produced
func (m *Metrics) RecordRemix(warnings int) {
	atomic.AddInt64(&m.RemixesCreated, 1)
	atomic.AddInt64(&m.RemixWarnings, int64(warnings))
}

// RecordAward counts a ledger write attempt
func (m *Metrics) RecordAward(points int, err error) {
	if err != nil {
		atomic.AddInt64(&m.AwardsFailed, 1)
		return
	}
	atomic.AddInt64(&m.AwardsGranted, 1)
	atomic.AddInt64(&m.PointsAwarded, int64(points))
}

// RecordFeedEvent counts a published change event; dropped counts slow subscribers.
func (m *Metrics) RecordFeedEvent(dropped int) {
	atomic.AddInt64(&m.FeedEvents, 1)
	atomic.AddInt64(&m.FeedDropped, int64(dropped))
}

func (m *Metrics) AddScoresRepaired(n int)  { atomic.AddInt64(&m.ScoresRepaired, int64(n)) }
func (m *Metrics) IncrementCombinations()   { atomic.AddInt64(&m.Combinations, 1) }
func (m *Metrics) AddEmbeddingsSaved(n int) { atomic.AddInt64(&m.EmbeddingsSaved, int64(n)) }

func (m *Metrics) IncrementRateLimitIPBlock()    { atomic.AddInt64(&m.RateLimitIPBlocks, 1) }
func (m *Metrics) IncrementRateLimitUserBlock()  { atomic.AddInt64(&m.RateLimitUserBlocks, 1) }
func (m *Metrics) IncrementRateLimitRedisError() { atomic.AddInt64(&m.RateLimitRedisErrors, 1) }
func (m *Metrics) IncrementRateLimitFallback()   { atomic.AddInt64(&m.RateLimitFallbackCount, 1) }

// RecordResponseTime records response time for averaging and percentiles
func (m *Metrics) RecordResponseTime(duration time.Duration) {
	current := atomic.LoadInt64(&m.AverageResponseTime)
	atomic.StoreInt64(&m.AverageResponseTime, (current+duration.Nanoseconds())/2)

	// keep the last 1000 samples
	m.ResponseTimesMutex.Lock()
	m.ResponseTimes = append(m.ResponseTimes, duration)
	if len(m.ResponseTimes) > 1000 {
		m.ResponseTimes = m.ResponseTimes[1:]
	}
	m.ResponseTimesMutex.Unlock()
}

// RecordRequestByStatus records request count by HTTP status code
func (m *Metrics) RecordRequestByStatus(statusCode int) {
	m.StatusMutex.Lock()
	defer m.StatusMutex.Unlock()
	m.RequestCountByStatus[statusCode]++
}

// RecordExternalAPIRequest records a call to the AI or embedding provider
func (m *Metrics) RecordExternalAPIRequest(apiName string, success bool) {
	m.ExternalAPIMutex.Lock()
	defer m.ExternalAPIMutex.Unlock()

	m.ExternalAPIRequests[apiName]++
	if !success {
		m.ExternalAPIErrorCount[apiName]++
	}
}

// GetPercentileResponseTime calculates percentile response time
func (m *Metrics) GetPercentileResponseTime(percentile float64) time.Duration {
	m.ResponseTimesMutex.RLock()
	times := make([]time.Duration, len(m.ResponseTimes))
	copy(times, m.ResponseTimes)
	m.ResponseTimesMutex.RUnlock()

	if len(times) == 0 {
		return 0
	}

	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	index := int(float64(len(times)-1) * percentile / 100.0)
	if index >= len(times) {
		index = len(times) - 1
	}
	return times[index]
}

// GetExternalAPIStats returns per-provider request and error counts
func (m *Metrics) GetExternalAPIStats() map[string]interface{} {
	m.ExternalAPIMutex.RLock()
	defer m.ExternalAPIMutex.RUnlock()

	stats := make(map[string]interface{})
	for api, requests := range m.ExternalAPIRequests {
		errs := m.ExternalAPIErrorCount[api]
		errorRate := float64(0)
		if requests > 0 {
			errorRate = float64(errs) / float64(requests) * 100
		}
		stats[api] = map[string]interface{}{
			"requests":   requests,
			"errors":     errs,
			"error_rate": errorRate,
		}
	}
	return stats
}

// GetStats returns current metrics statistics
func (m *Metrics) GetStats() map[string]interface{} {
	requests := atomic.LoadInt64(&m.RequestCount)
	errs := atomic.LoadInt64(&m.ErrorCount)
	cacheHits := atomic.LoadInt64(&m.CacheHits)
	cacheMisses := atomic.LoadInt64(&m.CacheMisses)

	errorRate := float64(0)
	if requests > 0 {
		errorRate = float64(errs) / float64(requests) * 100
	}

	cacheHitRate := float64(0)
	if total := cacheHits + cacheMisses; total > 0 {
		cacheHitRate = float64(cacheHits) / float64(total) * 100
	}

	m.StatusMutex.RLock()
	statusDist := make(map[int]int64, len(m.RequestCountByStatus))
	for code, count := range m.RequestCountByStatus {
		statusDist[code] = count
	}
	m.StatusMutex.RUnlock()

	return map[string]interface{}{
		"uptime_seconds":           time.Since(m.StartTime).Seconds(),
		"total_requests":           requests,
		"error_count":              errs,
		"error_rate_percent":       errorRate,
		"cache_hit_rate_percent":   cacheHitRate,
		"avg_response_time_ms":     float64(atomic.LoadInt64(&m.AverageResponseTime)) / 1e6,
		"p95_response_time_ms":     float64(m.GetPercentileResponseTime(95)) / 1e6,
		"status_code_distribution": statusDist,
		"external_api_stats":       m.GetExternalAPIStats(),

		"ideas_submitted":  atomic.LoadInt64(&m.IdeasSubmitted),
		"fallback_scores":  atomic.LoadInt64(&m.FallbackScores),
		"remixes_created":  atomic.LoadInt64(&m.RemixesCreated),
		"remix_warnings":   atomic.LoadInt64(&m.RemixWarnings),
		"awards_granted":   atomic.LoadInt64(&m.AwardsGranted),
		"awards_failed":    atomic.LoadInt64(&m.AwardsFailed),
		"points_awarded":   atomic.LoadInt64(&m.PointsAwarded),
		"feed_events":      atomic.LoadInt64(&m.FeedEvents),
		"feed_dropped":     atomic.LoadInt64(&m.FeedDropped),
		"scores_repaired":  atomic.LoadInt64(&m.ScoresRepaired),
		"combinations":     atomic.LoadInt64(&m.Combinations),
		"embeddings_saved": atomic.LoadInt64(&m.EmbeddingsSaved),

		"ratelimit": map[string]interface{}{
			"ip_blocks":      atomic.LoadInt64(&m.RateLimitIPBlocks),
			"user_blocks":    atomic.LoadInt64(&m.RateLimitUserBlocks),
			"redis_errors":   atomic.LoadInt64(&m.RateLimitRedisErrors),
			"fallback_count": atomic.LoadInt64(&m.RateLimitFallbackCount),
		},
	}
}
