// Package logging provides the package-wide slog.Logger accessor shared by
// every other package in this module.
package logging

import (
	"log/slog"
	"sync"
)

var (
	logger     *slog.Logger
	loggerOnce sync.Once
	mu         sync.RWMutex
)

// Set installs a custom logger. Call it before the cache starts handling
// requests; it is safe to call concurrently with Get but changing loggers
// mid-flight is not a supported pattern.
func Set(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// Get returns the configured logger, defaulting to slog.Default() the first
// time it's called with none set.
func Get() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}
	loggerOnce.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if logger == nil {
			logger = slog.Default()
		}
	})
	mu.RLock()
	defer mu.RUnlock()
	return logger
}
