// Package envutil reads process environment variables with typed
// fallbacks, logging at Warn whenever a default is used so missing
// configuration shows up in logs instead of failing silently.
package envutil

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/avarra/reelforge/internal/platform/logger"
)

// GetEnv returns the trimmed value of key, or def if unset/blank.
func GetEnv(key, def string, log *logger.Logger) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v != "" {
		return v
	}
	warnFallback(log, key, def)
	return def
}

// GetEnvAsInt parses key as an int, falling back to def on missing or
// unparseable values.
func GetEnvAsInt(key string, def int, log *logger.Logger) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		warnFallback(log, key, def)
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		warnInvalid(log, key, v, def)
		return def
	}
	return i
}

// GetEnvAsBool parses key with strconv.ParseBool semantics ("1", "t",
// "true", "0", "f", "false", case-insensitive), falling back to def.
func GetEnvAsBool(key string, def bool, log *logger.Logger) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		warnFallback(log, key, def)
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		warnInvalid(log, key, v, def)
		return def
	}
	return b
}

// GetEnvAsFloat parses key as a float64, falling back to def on missing
// or unparseable values.
func GetEnvAsFloat(key string, def float64, log *logger.Logger) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		warnFallback(log, key, def)
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		warnInvalid(log, key, v, def)
		return def
	}
	return f
}

// GetEnvAsDuration parses key with time.ParseDuration ("30s", "5m"),
// falling back to def.
func GetEnvAsDuration(key string, def time.Duration, log *logger.Logger) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		warnFallback(log, key, def)
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		warnInvalid(log, key, v, def)
		return def
	}
	return d
}

// Int is retained for callers that only need a bare default-int lookup
// without logging context.
func Int(name string, def int) int {
	return GetEnvAsInt(name, def, nil)
}

func warnFallback(log *logger.Logger, key string, def any) {
	if log == nil {
		return
	}
	log.Warn("envutil: falling back to default", "key", key, "default", def)
}

func warnInvalid(log *logger.Logger, key, raw string, def any) {
	if log == nil {
		return
	}
	log.Warn("envutil: invalid value, falling back to default", "key", key, "value", raw, "default", def)
}
