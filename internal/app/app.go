// Package app builds the object graph shared by the HTTP server and ideactl.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ZanzyTHEbar/idea-forge/internal/adapters"
	"github.com/ZanzyTHEbar/idea-forge/internal/analysis"
	"github.com/ZanzyTHEbar/idea-forge/internal/combination"
	"github.com/ZanzyTHEbar/idea-forge/internal/config"
	"github.com/ZanzyTHEbar/idea-forge/internal/database"
	"github.com/ZanzyTHEbar/idea-forge/internal/embeddings"
	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/ideas"
	"github.com/ZanzyTHEbar/idea-forge/internal/influence"
	"github.com/ZanzyTHEbar/idea-forge/internal/monitoring"
	"github.com/ZanzyTHEbar/idea-forge/internal/ratelimit"
	"github.com/ZanzyTHEbar/idea-forge/internal/realtime"
	"github.com/ZanzyTHEbar/idea-forge/internal/remix"
	"github.com/ZanzyTHEbar/idea-forge/internal/resilience"
	"github.com/ZanzyTHEbar/idea-forge/internal/streak"
	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

// combinationHistoryLimit bounds the past combinations novelty is scored against
const combinationHistoryLimit = 1000

// App holds every service. AI is nil when no API key is configured; the
// analyzer then serves guaranteed scores and modules get static questions.
type App struct {
	Config  *config.Config
	Logger  *monitoring.Logger
	Metrics *monitoring.Metrics

	DB          *database.DB
	Repo        *database.Repository
	Users       *database.UserService
	Degradation *resilience.DegradationManager
	AI          *adapters.OpenAIClient
	Redis       *ratelimit.RedisClient
	Limiter     *ratelimit.RateLimiter
	Bus         realtime.Bus
	Hub         *realtime.Hub
	Vectors     *embeddings.CachedStore

	Influence    *influence.Service
	Streaks      *streak.Service
	Ideas        *ideas.Service
	Remixes      *remix.Service
	Modules      *ideas.ModuleService
	Invitations  *ideas.InvitationService
	Combinations *combination.Service
	Repairer     *ideas.Repairer
}

// New opens the database and wires the services. Redis and the AI service
// are optional: a failed Redis ping degrades to in-process limiting and feed.
func New(cfg *config.Config, logger *monitoring.Logger) (*App, error) {
	if logger == nil {
		logger = monitoring.NewLogger(monitoring.ParseLevel(cfg.Log.Level))
	}
	a := &App{
		Config:      cfg,
		Logger:      logger,
		Metrics:     monitoring.NewMetrics(),
		Degradation: resilience.NewDegradationManager(resilience.DefaultDegradationConfig()),
	}

	db, err := database.NewDB(cfg.Database.DataDir)
	if err != nil {
		return nil, errors.NewConfigurationError("failed to open database", err)
	}
	a.DB = db
	a.Repo = database.NewRepository(db)
	a.Users = database.NewUserService(a.Repo, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	if cfg.AI.APIKey != "" {
		a.AI, err = adapters.NewOpenAIClient(adapters.OpenAIConfig{
			APIKey:         cfg.AI.APIKey,
			BaseURL:        cfg.AI.BaseURL,
			Model:          cfg.AI.Model,
			EmbeddingModel: cfg.Embeddings.Model,
			Dimensions:     cfg.Embeddings.Dimensions,
			Timeout:        cfg.AI.Timeout,
			MaxConnections: cfg.AI.MaxConnections,
		}, a.Degradation)
		if err != nil {
			db.Close()
			return nil, err
		}
	} else {
		slog.Warn("AI API key not configured; ideas get guaranteed scores and static questions")
	}

	a.Redis, err = ratelimit.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		slog.Warn("Continuing without Redis", "error", err)
	}
	a.Limiter = ratelimit.NewRateLimiter(a.Redis, ratelimit.Config{
		IPLimitPerMin:     cfg.RateLimit.IPLimitPerMin,
		SubmissionsPerDay: cfg.RateLimit.SubmissionsPerDay,
		BurstMultiplier:   cfg.RateLimit.BurstMultiplier,
		CleanupInterval:   time.Hour,
	}, a.Metrics)

	if a.Redis.IsEnabled() {
		a.Bus = realtime.NewRedisBus(a.Redis.GetClient(), cfg.Redis.Channel)
	} else {
		a.Bus = realtime.NewMemoryBus()
	}
	a.Hub = realtime.NewHub(cfg.Feed.Heartbeat, cfg.Feed.Buffer)

	store := embeddings.NewSQLStore(a.Repo, cfg.Embeddings.Dimensions)
	a.Vectors, err = embeddings.NewCachedStore(store, cfg.Embeddings.CacheSize)
	if err != nil {
		a.Close()
		return nil, errors.NewConfigurationError("invalid embeddings.cache_size", err)
	}

	rng := analysis.NewRand()
	retry := resilience.DefaultRetryConfig()

	a.Influence = influence.NewService(a.Repo, influence.NewLeaderboardCache(cfg.Leaderboard.CacheTTL), a.Bus, logger, a.Metrics)
	a.Streaks = streak.NewService(a.Repo, a.Influence, a.Bus)

	var client analysis.Client
	var generator ideas.QuestionGenerator
	if a.AI != nil {
		client = a.AI
		generator = a.AI
	}
	analyzer := analysis.NewAnalyzer(client, cfg.AI.Timeout,
		resilience.NewGuard[*types.Analysis](resilience.ServiceAIAnalysis, retry, a.Degradation), rng)

	a.Ideas = ideas.NewService(a.Repo, analyzer, a.Streaks, a.Influence, a.Bus, logger, a.Metrics)
	a.Remixes = remix.NewService(a.Repo, a.Influence, a.Bus, a.Metrics, rng)
	a.Modules = ideas.NewModuleService(a.Repo, generator,
		resilience.NewGuard[[]string](resilience.ServiceAIAnalysis, retry, a.Degradation), a.Vectors.Forget)
	a.Invitations = ideas.NewInvitationService(a.Repo, a.Influence, a.Bus)
	a.Combinations = combination.NewService(a.Repo, a.Vectors, combinationHistoryLimit)
	a.Repairer = ideas.NewRepairer(a.Repo, rng, a.Metrics)

	a.registerHealthChecks()
	return a, nil
}

func (a *App) registerHealthChecks() {
	a.Degradation.RegisterService("database", a.Repo.Ping)
	if a.Redis.IsEnabled() {
		a.Degradation.RegisterService(resilience.ServiceFeedBus, a.Redis.HealthCheck)
	}
	if a.AI != nil {
		a.Degradation.RegisterService(resilience.ServiceAIAnalysis, nil)
		a.Degradation.RegisterService(resilience.ServiceEmbeddings, nil)
	}
}

// Start runs the feed forwarder and health checks until ctx ends
func (a *App) Start(ctx context.Context) error {
	if err := a.Bus.Start(ctx, func(ev realtime.Event) {
		a.Metrics.RecordFeedEvent(a.Hub.Broadcast(ev))
	}); err != nil {
		return fmt.Errorf("failed to start feed bus: %w", err)
	}
	go a.Degradation.StartHealthChecks(ctx)
	a.Logger.SystemLogger("app_started", fmt.Sprintf("redis=%t ai=%t", a.Redis.IsEnabled(), a.AI != nil))
	return nil
}

// BackfillEmbeddings embeds modules that have no vector yet
func (a *App) BackfillEmbeddings(ctx context.Context, req types.BackfillRequest) (*embeddings.BackfillReport, error) {
	if a.AI == nil {
		return nil, errors.NewConfigurationError("embeddings need ai.api_key", nil)
	}
	if req.BatchSize <= 0 {
		req.BatchSize = a.Config.Embeddings.BatchSize
	}
	report, err := embeddings.Backfill(ctx, a.Vectors, a.AI, embeddings.BackfillOptions{
		BatchSize: req.BatchSize,
		Limit:     req.Limit,
	})
	if err != nil {
		return nil, err
	}
	a.Metrics.AddEmbeddingsSaved(report.Embedded)
	return report, nil
}

// Close releases the limiter, clients and database
func (a *App) Close() {
	if a.Limiter != nil {
		a.Limiter.Close()
	}
	if a.AI != nil {
		errors.SafeClose(a.AI, "openai client")
	}
	if a.Redis != nil {
		errors.SafeClose(a.Redis, "redis client")
	}
	if a.DB != nil {
		errors.SafeClose(a.DB, "database")
	}
}
