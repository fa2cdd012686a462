// Package config holds the tunable parameters of the learning core.
// Values resolve in three layers: compiled defaults, an optional config file
// (JSON or YAML, selected by extension), then SYNAPSE_* environment
// overrides. The embedding process owns the resulting Config and passes it
// down; no package reads configuration on its own.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries every cap, threshold and rate the subsystems use.
type Config struct {
	// StateDir is the root of all persisted state, typically
	// <workspace>/.synapse.
	StateDir string `json:"state_dir" yaml:"state_dir"`

	// LearningRate scales relative-advantage weight nudges.
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`

	// DecayHalfLife is the half-life of usage-record recency weighting.
	DecayHalfLife time.Duration `json:"decay_half_life" yaml:"decay_half_life"`

	// FlushDebounce is the write-back buffer delay for the tool learner.
	FlushDebounce time.Duration `json:"flush_debounce" yaml:"flush_debounce"`

	// RetentionWindow bounds usage records, memory context/error entries and
	// recency scoring.
	RetentionWindow time.Duration `json:"retention_window" yaml:"retention_window"`

	// ExperienceCap bounds the rolling experience log.
	ExperienceCap int `json:"experience_cap" yaml:"experience_cap"`

	// EvaluationCap bounds the evaluation log.
	EvaluationCap int `json:"evaluation_cap" yaml:"evaluation_cap"`

	// AuditCap bounds the knowledge-transfer audit log.
	AuditCap int `json:"audit_cap" yaml:"audit_cap"`

	// LockMaxWait and LockStaleAfter govern the hot-swap lock.
	LockMaxWait    time.Duration `json:"lock_max_wait" yaml:"lock_max_wait"`
	LockStaleAfter time.Duration `json:"lock_stale_after" yaml:"lock_stale_after"`
}

// Default returns the compiled defaults rooted at dir.
func Default(dir string) Config {
	return Config{
		StateDir:        dir,
		LearningRate:    0.1,
		DecayHalfLife:   7 * 24 * time.Hour,
		FlushDebounce:   5 * time.Second,
		RetentionWindow: 90 * 24 * time.Hour,
		ExperienceCap:   1000,
		EvaluationCap:   500,
		AuditCap:        200,
		LockMaxWait:     5 * time.Second,
		LockStaleAfter:  30 * time.Second,
	}
}

// Load resolves a Config for the given workspace. A missing config file is
// not an error; a malformed one is, since it means the operator wrote
// something that would otherwise be silently ignored.
func Load(workspace string) (Config, error) {
	cfg := Default(filepath.Join(workspace, ".synapse"))

	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		path := filepath.Join(cfg.StateDir, name)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if filepath.Ext(name) == ".json" {
			err = json.Unmarshal(data, &cfg)
		} else {
			err = yaml.Unmarshal(data, &cfg)
		}
		if err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
		break
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv layers SYNAPSE_* overrides on top of file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("SYNAPSE_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("SYNAPSE_LEARNING_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.LearningRate = f
		}
	}
	if v := os.Getenv("SYNAPSE_FLUSH_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.FlushDebounce = d
		}
	}
	if v := os.Getenv("SYNAPSE_RETENTION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RetentionWindow = d
		}
	}
	if v := os.Getenv("SYNAPSE_EXPERIENCE_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ExperienceCap = n
		}
	}
}
