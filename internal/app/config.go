package app

import (
	"time"

	"github.com/avarra/reelforge/internal/platform/envutil"
	"github.com/avarra/reelforge/internal/platform/logger"
)

// Config is the small set of process-level settings not owned by a
// specific client (those read their own env in their constructors).
type Config struct {
	JWTSecret   string
	AccessTTL   time.Duration
	Environment string
	Version     string
	MetricsAddr string
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		JWTSecret:   envutil.GetEnv("JWT_SECRET_KEY", "", log),
		AccessTTL:   envutil.GetEnvAsDuration("JWT_ACCESS_TTL", time.Hour, log),
		Environment: envutil.GetEnv("ENVIRONMENT", "development", log),
		Version:     envutil.GetEnv("SERVICE_VERSION", "dev", log),
		MetricsAddr: envutil.GetEnv("METRICS_ADDR", ":9091", log),
	}
}
