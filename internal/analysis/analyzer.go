package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/resilience"
	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

// Client is the AI analysis service
type Client interface {
	AnalyzeIdea(ctx context.Context, text, language string) (*types.Analysis, error)
}

type lockedRand struct {
	mu  sync.Mutex
	rng Rand
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// NewRand returns a time-seeded source safe for concurrent use
func NewRand() Rand {
	return &lockedRand{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Analyzer scores ideas with the AI analysis service and falls back to the
// guaranteed score when the service fails or exceeds its timeout.
type Analyzer struct {
	client  Client
	timeout time.Duration
	guard   *resilience.Guard[*types.Analysis]
	rng     Rand
}

// NewAnalyzer creates an analyzer. client may be nil, in which case every
// idea gets the guaranteed score. guard may be nil for a single attempt.
func NewAnalyzer(client Client, timeout time.Duration, guard *resilience.Guard[*types.Analysis], rng Rand) *Analyzer {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if rng == nil {
		rng = NewRand()
	} else if _, ok := rng.(*lockedRand); !ok {
		rng = &lockedRand{rng: rng}
	}
	if guard == nil {
		cfg := resilience.DefaultRetryConfig()
		cfg.MaxAttempts = 1
		guard = resilience.NewGuard[*types.Analysis](resilience.ServiceAIAnalysis, cfg, nil)
	}
	return &Analyzer{client: client, timeout: timeout, guard: guard, rng: rng}
}

// Rand exposes the analyzer's jitter source
func (a *Analyzer) Rand() Rand {
	return a.rng
}

func analysisKey(text, language string) string {
	sum := sha256.Sum256([]byte(language + "\x00" + text))
	return "analyze:" + hex.EncodeToString(sum[:8])
}

// Analyze never returns a zero score
func (a *Analyzer) Analyze(ctx context.Context, text, language string) Result {
	start := time.Now()

	if a.client == nil {
		return a.fallback(text, language, errors.NewConfigurationError("AI analysis client not configured", nil), start)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out := a.guard.Do(ctx, analysisKey(text, language), func(ctx context.Context) (*types.Analysis, error) {
		res, err := a.client.AnalyzeIdea(ctx, text, language)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, errors.NewUpstreamServiceError(resilience.ServiceAIAnalysis, nil)
		}
		return res, nil
	}, func(error) *types.Analysis { return nil })

	if out.Fallback || out.Value == nil {
		err := out.Err
		if err == nil {
			err = errors.NewUpstreamServiceError(resilience.ServiceAIAnalysis, nil)
		}
		return a.fallback(text, language, err, start)
	}

	analysis := *out.Value
	breakdown := ScoreBreakdown(text, &analysis, a.rng)
	return Result{
		Score:     breakdown.Final,
		Status:    types.StatusScored,
		Analysis:  analysis,
		Breakdown: &breakdown,
		Duration:  time.Since(start),
	}
}

func (a *Analyzer) fallback(text, language string, cause error, start time.Time) Result {
	if !errors.Is(cause, errors.CategoryUpstreamService) && !errors.Is(cause, errors.CategoryConfiguration) {
		cause = errors.NewUpstreamServiceError(resilience.ServiceAIAnalysis, cause)
	}

	score := GuaranteedScore(text, a.rng)
	slog.Warn("AI analysis unavailable, using guaranteed score",
		"score", score,
		"error", cause,
		"duration_ms", time.Since(start).Milliseconds())

	return Result{
		Score:    score,
		Status:   types.StatusAnalysisFailed,
		Analysis: placeholderAnalysis(language),
		Fallback: true,
		Duration: time.Since(start),
		Err:      cause,
	}
}
