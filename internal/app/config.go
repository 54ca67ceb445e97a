package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stridelab/coach-backend/internal/pkg/envutil"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
)

type Config struct {
	ServiceName string
	Environment string
	Version     string

	Port         string
	AllowOrigins []string

	ServiceTokenSecret   string
	ServiceTokenAudience string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GenerationModel string

	WorkerPollInterval time.Duration
	WorkerMaxAttempts  int
	WorkerRetryDelay   time.Duration
	WorkerStaleRunning time.Duration
}

// fileConfig is the optional YAML overlay (CONFIG_FILE). Environment
// variables still win over the file; the file wins over defaults.
type fileConfig struct {
	Server struct {
		Port         string   `yaml:"port"`
		AllowOrigins []string `yaml:"allow_origins"`
	} `yaml:"server"`
	Auth struct {
		TokenSecret   string `yaml:"token_secret"`
		TokenAudience string `yaml:"token_audience"`
	} `yaml:"auth"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Worker struct {
		PollInterval time.Duration `yaml:"poll_interval"`
		MaxAttempts  int           `yaml:"max_attempts"`
		RetryDelay   time.Duration `yaml:"retry_delay"`
		StaleRunning time.Duration `yaml:"stale_running"`
	} `yaml:"worker"`
}

func LoadConfig(log *logger.Logger) Config {
	var fc fileConfig
	if path := envutil.String("CONFIG_FILE", ""); path != "" {
		if err := readFileConfig(path, &fc); err != nil {
			log.Warn("config file ignored", "path", path, "error", err)
		}
	}

	cfg := Config{
		ServiceName: envutil.String("SERVICE_NAME", "coach-backend"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),

		Port:         envutil.String("PORT", strOr(fc.Server.Port, "8080")),
		AllowOrigins: splitCSV(envutil.String("CORS_ALLOW_ORIGINS", "")),

		ServiceTokenSecret:   envutil.String("SERVICE_TOKEN_SECRET", fc.Auth.TokenSecret),
		ServiceTokenAudience: envutil.String("SERVICE_TOKEN_AUDIENCE", strOr(fc.Auth.TokenAudience, "coach-backend")),

		RedisAddr:     envutil.String("REDIS_ADDR", fc.Redis.Addr),
		RedisPassword: envutil.String("REDIS_PASSWORD", fc.Redis.Password),
		RedisDB:       envutil.Int("REDIS_DB", fc.Redis.DB),

		GenerationModel: envutil.String("OPENAI_MODEL", "gpt-4o-mini"),

		WorkerPollInterval: envutil.Duration("WORKER_POLL_INTERVAL", durOr(fc.Worker.PollInterval, time.Second)),
		WorkerMaxAttempts:  envutil.Int("WORKER_MAX_ATTEMPTS", intOr(fc.Worker.MaxAttempts, 5)),
		WorkerRetryDelay:   envutil.Duration("WORKER_RETRY_DELAY", durOr(fc.Worker.RetryDelay, 30*time.Second)),
		WorkerStaleRunning: envutil.Duration("WORKER_STALE_RUNNING", durOr(fc.Worker.StaleRunning, 2*time.Minute)),
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowOrigins = fc.Server.AllowOrigins
	}
	if cfg.ServiceTokenSecret == "" {
		log.Warn("SERVICE_TOKEN_SECRET not set, using insecure default")
		cfg.ServiceTokenSecret = "defaultsecret"
	}
	return cfg
}

func readFileConfig(path string, out *fileConfig) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	return nil
}

func strOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func durOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
