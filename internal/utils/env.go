// Package utils holds the small process-boot helpers cmd/main.go needs
// before the wiring root (internal/app) exists to own anything.
package utils

import (
	"github.com/avarra/reelforge/internal/platform/envutil"
	"github.com/avarra/reelforge/internal/platform/logger"
)

// GetEnv returns the trimmed value of key, or def if unset/blank,
// warning through log when the fallback is used.
func GetEnv(key, def string, log *logger.Logger) string {
	return envutil.GetEnv(key, def, log)
}
