package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/ZanzyTHEbar/idea-forge/internal/analysis"
	"github.com/ZanzyTHEbar/idea-forge/internal/app"
	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/monitoring"
	"github.com/ZanzyTHEbar/idea-forge/internal/resilience"
	"github.com/ZanzyTHEbar/idea-forge/internal/security"
)

const version = "1.0.0"

type server struct {
	app      *app.App
	security *security.SecurityMiddleware
}

func newServer(a *app.App) *server {
	cfg := security.DefaultSecurityConfig()
	cfg.MaxInputLength = analysis.MaxTextLength
	cfg.AdminToken = a.Config.Server.AdminToken
	if a.Config.Server.RequestTimeout > 0 {
		cfg.RequestTimeout = a.Config.Server.RequestTimeout
	}
	return &server{app: a, security: security.NewSecurityMiddleware(cfg, a.Users)}
}

// router builds the gin engine with every route
func (s *server) router() *gin.Engine {
	a := s.app
	r := gin.New()

	r.Use(errors.RecoveryHandler())
	r.Use(monitoring.MonitoringMiddleware(a.Metrics, a.Logger))
	r.Use(monitoring.SecurityMonitoringMiddleware(a.Logger))
	r.Use(errors.ErrorHandler())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     a.Config.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", security.AdminTokenHeader},
		ExposeHeaders:    []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(s.security.SecurityHeaders)
	r.Use(s.security.LimitBody)
	r.Use(s.security.ValidateContentType)

	r.GET("/health", s.health)
	r.GET("/health/services", s.healthServices)
	r.GET("/metrics", s.metrics)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api", a.Limiter.IPRateLimitMiddleware(), s.security.Authenticate)

	// the feed is long-lived and stays outside the request timeout
	api.GET("/feed", s.feed)

	timed := api.Group("", s.security.RequestTimeout)
	timed.POST("/session", s.startSession)
	timed.GET("/ratelimit", a.Limiter.HandleRateLimitStatus())
	timed.GET("/ideas/:id", s.getIdea)
	timed.GET("/ideas/:id/lineage", s.lineage)
	timed.GET("/ideas/:id/remixes", s.children)
	timed.GET("/modules/:id", s.getModule)
	timed.GET("/users/:id/influence", s.influence)
	timed.GET("/users/:id/influence/history", s.influenceHistory)
	timed.GET("/users/:id/streak", s.streak)
	timed.GET("/leaderboard", s.leaderboard)
	timed.GET("/challenges/today", s.todayChallenge)
	timed.GET("/invitations/:code", s.getInvitation)

	user := timed.Group("", s.security.RequireUser)
	user.POST("/ideas", a.Limiter.SubmissionRateLimitMiddleware(), s.submitIdea)
	user.POST("/ideas/:id/remix", a.Limiter.SubmissionRateLimitMiddleware(), s.createRemix)
	user.POST("/ideas/:id/vc-interest", s.vcInterest)
	user.POST("/modules", s.createModule)
	user.PUT("/modules/:id", s.updateModule)
	user.POST("/modules/:id/questions", s.moduleQuestions)
	user.POST("/combinations/evaluate", s.evaluateCombination)
	user.POST("/combinations", s.saveCombination)
	user.POST("/invitations", s.createInvitation)
	user.POST("/invitations/:code/accept", s.acceptInvitation)

	admin := r.Group("/admin", s.security.RequireAdmin, s.security.RequestTimeout)
	admin.POST("/repair-scores", s.repairScores)
	admin.POST("/challenges", s.setChallenge)
	admin.POST("/embeddings/backfill", s.backfillEmbeddings)
	admin.POST("/influence/recompute", s.recomputeInfluence)
	admin.GET("/ratelimit", a.Limiter.HandleAdminRateLimits())
	admin.DELETE("/ratelimit/users/:userID", a.Limiter.HandleAdminInvalidateUser())
	admin.DELETE("/ratelimit/ips/:ip", a.Limiter.HandleAdminInvalidateIP())

	return r
}

func (s *server) health(c *gin.Context) {
	services := s.app.Degradation.GetAllServiceHealth()

	response := gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   version,
		"services":  services,
		"redis":     s.app.Redis.IsEnabled(),
		"ai":        s.app.AI != nil,
	}

	for _, service := range services {
		if service.Level == resilience.LevelEmergency {
			response["status"] = "degraded"
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
	}

	c.JSON(http.StatusOK, response)
}

func (s *server) healthServices(c *gin.Context) {
	a := s.app
	response := gin.H{
		"services":         a.Degradation.GetAllServiceHealth(),
		"circuit_breakers": resilience.GetCircuitBreakerStats(),
		"database":         a.DB.GetPoolStats(),
		"redis":            a.Redis.GetPoolStats(),
		"rate_limiter":     a.Limiter.GetStats(),
		"embedding_cache":  a.Vectors.Stats(),
		"leaderboard":      a.Influence.GetCacheStats(),
		"feed":             a.Hub.Stats(),
		"timestamp":        time.Now().Format(time.RFC3339),
	}
	if a.AI != nil {
		response["ai"] = a.AI.GetStats()
	}
	c.JSON(http.StatusOK, response)
}

func (s *server) metrics(c *gin.Context) {
	stats := s.app.Metrics.GetStats()
	stats["feed"] = s.app.Hub.Stats()
	c.JSON(http.StatusOK, stats)
}
