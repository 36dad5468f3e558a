package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	DBPath          string
	ServerPort      string
	LogLevel        string
	HiscoresBaseURL string

	Review ReviewConfig
	Jobs   JobsConfig
}

// ReviewConfig holds the tunable thresholds of the auto-review and
// flagged-snapshot engines. The bundle window and approved share are
// empirically tuned values, so they live here rather than in code.
type ReviewConfig struct {
	BundleWindow         time.Duration
	BundleApprovedShare  float64
	BaseTransitionHours  float64
	BonusTransitionHours float64
	BonusTransitionExp   int64
	MinTotalLevel        int
	RollbackHoursCap     float64
	RollbackShare        float64
	MergeActivityWindow  time.Duration
}

type JobsConfig struct {
	Workers             int
	QueueSize           int
	MaxAttempts         int
	RetryBackoff        time.Duration
	ReviewInterval      time.Duration
	UpdateInterval      time.Duration
	FlaggedRecheckEvery time.Duration
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		DBPath:          getEnv("DB_PATH", "runetrack.db"),
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		HiscoresBaseURL: getEnv("HISCORES_BASE_URL", "https://secure.runescape.com/m=hiscore_oldschool"),
		Review: ReviewConfig{
			BundleWindow:         getEnvDuration("REVIEW_BUNDLE_WINDOW", 250*time.Millisecond),
			BundleApprovedShare:  getEnvFloat("REVIEW_BUNDLE_APPROVED_SHARE", 0.5),
			BaseTransitionHours:  getEnvFloat("REVIEW_BASE_TRANSITION_HOURS", 504),
			BonusTransitionHours: getEnvFloat("REVIEW_BONUS_TRANSITION_HOURS", 168),
			BonusTransitionExp:   2_000_000,
			MinTotalLevel:        getEnvInt("REVIEW_MIN_TOTAL_LEVEL", 700),
			RollbackHoursCap:     24,
			RollbackShare:        0.2,
			MergeActivityWindow:  getEnvDuration("REVIEW_MERGE_ACTIVITY_WINDOW", 24*time.Hour),
		},
		Jobs: JobsConfig{
			Workers:             getEnvInt("JOBS_WORKERS", 4),
			QueueSize:           getEnvInt("JOBS_QUEUE_SIZE", 1024),
			MaxAttempts:         getEnvInt("JOBS_MAX_ATTEMPTS", 5),
			RetryBackoff:        getEnvDuration("JOBS_RETRY_BACKOFF", 2*time.Second),
			ReviewInterval:      getEnvDuration("JOBS_REVIEW_INTERVAL", 5*time.Second),
			UpdateInterval:      getEnvDuration("JOBS_UPDATE_INTERVAL", 5*time.Second),
			FlaggedRecheckEvery: getEnvDuration("JOBS_FLAGGED_RECHECK_EVERY", 30*time.Minute),
		},
	}

	if cfg.Review.BundleApprovedShare <= 0 || cfg.Review.BundleApprovedShare > 1 {
		return nil, fmt.Errorf("REVIEW_BUNDLE_APPROVED_SHARE must be in (0, 1]")
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Str("hiscores_base_url", cfg.HiscoresBaseURL).
		Dur("bundle_window", cfg.Review.BundleWindow).
		Int("jobs_workers", cfg.Jobs.Workers).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

var Module = fx.Provide(Load)
