// Package logging provides categorized structured logging for synapse.
// Each subsystem logs under its own named logger so the embedding process
// can route or silence categories independently. Logging is a no-op until
// Initialize is called; the core never writes to stdout/stderr on its own.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a logging subsystem.
type Category string

const (
	CategoryGRPO     Category = "grpo"      // group-relative evaluation
	CategoryTools    Category = "toollearn" // tool selection learning
	CategoryMemory   Category = "memory"    // memory stores and search
	CategorySelfEval Category = "selfeval"  // self evaluation
	CategoryTransfer Category = "transfer"  // promotion/demotion, hot-swap
	CategoryLifelong Category = "lifelong"  // orchestration pipeline
	CategoryStorage  Category = "storage"   // JSON file primitives
)

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	sugared = make(map[Category]*zap.SugaredLogger)
)

// Initialize installs the given zap logger as the root for all categories.
// Passing nil resets logging to a no-op.
func Initialize(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = zap.NewNop()
	}
	root = logger
	sugared = make(map[Category]*zap.SugaredLogger)
}

// Development initializes a human-readable logger at the given level.
// Intended for tests and local debugging of the embedding process.
func Development(level zapcore.Level) error {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	Initialize(logger)
	return nil
}

// Get returns the sugared logger for a category.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if s, ok := sugared[cat]; ok {
		mu.RUnlock()
		return s
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if s, ok := sugared[cat]; ok {
		return s
	}
	s := root.Named(string(cat)).Sugar()
	sugared[cat] = s
	return s
}

// Sync flushes buffered log entries, if any.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
