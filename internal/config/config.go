package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration for the server and ideactl
type Config struct {
	Server struct {
		Port           string
		RequestTimeout time.Duration
		AllowedOrigins []string
		AdminToken     string
	}
	Database struct {
		DataDir string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
		Channel  string
	}
	AI struct {
		APIKey         string
		BaseURL        string
		Model          string
		Timeout        time.Duration
		Language       string
		MaxConnections int
	}
	Embeddings struct {
		Model      string
		Dimensions int
		BatchSize  int
		CacheSize  int
	}
	RateLimit struct {
		IPLimitPerMin     int
		SubmissionsPerDay int
		BurstMultiplier   int
	}
	Auth struct {
		JWTSecret string
		TokenTTL  time.Duration
	}
	Feed struct {
		Heartbeat time.Duration
		Buffer    int
	}
	Leaderboard struct {
		CacheTTL time.Duration
	}
	Log struct {
		Level string
	}
}

// Load reads configuration from defaults, an optional yaml file and the
// environment. path may be empty to search ./config.yaml and ./config/.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.SetEnvPrefix("IDEAFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}

	cfg.Server.Port = v.GetString("server.port")
	cfg.Server.RequestTimeout = v.GetDuration("server.request_timeout")
	cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	cfg.Server.AdminToken = v.GetString("server.admin_token")

	cfg.Database.DataDir = v.GetString("database.data_dir")

	cfg.Redis.Addr = v.GetString("redis.addr")
	cfg.Redis.Password = v.GetString("redis.password")
	cfg.Redis.DB = v.GetInt("redis.db")
	cfg.Redis.Channel = v.GetString("redis.channel")

	cfg.AI.APIKey = v.GetString("ai.api_key")
	cfg.AI.BaseURL = v.GetString("ai.base_url")
	cfg.AI.Model = v.GetString("ai.model")
	cfg.AI.Timeout = v.GetDuration("ai.timeout")
	cfg.AI.Language = v.GetString("ai.language")
	cfg.AI.MaxConnections = v.GetInt("ai.max_connections")

	cfg.Embeddings.Model = v.GetString("embeddings.model")
	cfg.Embeddings.Dimensions = v.GetInt("embeddings.dimensions")
	cfg.Embeddings.BatchSize = v.GetInt("embeddings.batch_size")
	cfg.Embeddings.CacheSize = v.GetInt("embeddings.cache_size")

	cfg.RateLimit.IPLimitPerMin = v.GetInt("ratelimit.ip_limit_per_min")
	cfg.RateLimit.SubmissionsPerDay = v.GetInt("ratelimit.submissions_per_day")
	cfg.RateLimit.BurstMultiplier = v.GetInt("ratelimit.burst_multiplier")

	cfg.Auth.JWTSecret = v.GetString("auth.jwt_secret")
	cfg.Auth.TokenTTL = v.GetDuration("auth.token_ttl")

	cfg.Feed.Heartbeat = v.GetDuration("feed.heartbeat")
	cfg.Feed.Buffer = v.GetInt("feed.buffer")

	cfg.Leaderboard.CacheTTL = v.GetDuration("leaderboard.cache_ttl")

	cfg.Log.Level = v.GetString("log.level")

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.request_timeout", 45*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:3000"})

	v.SetDefault("database.data_dir", "./data")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "ideaforge:feed")

	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.timeout", 20*time.Second)
	v.SetDefault("ai.language", "ko")
	v.SetDefault("ai.max_connections", 20)

	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.dimensions", 1536)
	v.SetDefault("embeddings.batch_size", 32)
	v.SetDefault("embeddings.cache_size", 2048)

	v.SetDefault("ratelimit.ip_limit_per_min", 60)
	v.SetDefault("ratelimit.submissions_per_day", 20)
	v.SetDefault("ratelimit.burst_multiplier", 2)

	v.SetDefault("auth.jwt_secret", "change-me-in-production")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("feed.heartbeat", 15*time.Second)
	v.SetDefault("feed.buffer", 16)

	v.SetDefault("leaderboard.cache_ttl", 5*time.Minute)

	v.SetDefault("log.level", "info")
}

// bindLegacyEnv keeps the plain variable names used by existing deployments.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("server.port", "IDEAFORGE_SERVER_PORT", "PORT")
	_ = v.BindEnv("database.data_dir", "IDEAFORGE_DATABASE_DATA_DIR", "DATA_DIR")
	_ = v.BindEnv("auth.jwt_secret", "IDEAFORGE_AUTH_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("redis.addr", "IDEAFORGE_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("ai.api_key", "IDEAFORGE_AI_API_KEY", "OPENAI_API_KEY")
}

func validate(cfg *Config) error {
	if cfg.Database.DataDir == "" {
		return fmt.Errorf("database.data_dir is required")
	}
	if cfg.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive")
	}
	if cfg.AI.Timeout <= 0 {
		return fmt.Errorf("ai.timeout must be positive")
	}
	if cfg.RateLimit.SubmissionsPerDay <= 0 {
		return fmt.Errorf("ratelimit.submissions_per_day must be positive")
	}
	return nil
}
