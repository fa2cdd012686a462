// Package synapse is the self-optimizing decision layer behind a coding
// assistant: it observes outcomes, scores them with deterministic
// comparative rules, and converts stable winners into fast lookups. This
// package wires the subsystems together; the embedding process owns the
// resulting Core and drives it at session boundaries.
package synapse

import (
	"context"

	"synapse/internal/config"
	"synapse/internal/grpo"
	"synapse/internal/lifelong"
	"synapse/internal/memory"
	"synapse/internal/selfeval"
	"synapse/internal/storage"
	"synapse/internal/toollearn"
	"synapse/internal/transfer"
)

// Core bundles every learning subsystem over one shared state directory.
type Core struct {
	Config   config.Config
	GRPO     *grpo.Evaluator
	Tools    *toollearn.Learner
	Memory   *memory.Manager
	SelfEval *selfeval.Evaluator
	Transfer *transfer.Engine
	Lifelong *lifelong.Learner
}

// Open resolves configuration for the workspace (defaults, then an optional
// config file under .synapse/, then SYNAPSE_* env) and constructs every
// subsystem on the shared state directory.
func Open(workspace string) (*Core, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	return OpenWith(cfg)
}

// OpenWith constructs a Core from an explicit configuration.
func OpenWith(cfg config.Config) (*Core, error) {
	store, err := storage.NewStore(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	mem, err := memory.NewManager(store)
	if err != nil {
		return nil, err
	}
	engine, err := transfer.NewEngine(store, transfer.Config{
		AuditCap:       cfg.AuditCap,
		LockMaxWait:    cfg.LockMaxWait,
		LockStaleAfter: cfg.LockStaleAfter,
	})
	if err != nil {
		return nil, err
	}
	learner, err := lifelong.NewLearner(store, engine, cfg.ExperienceCap)
	if err != nil {
		return nil, err
	}

	return &Core{
		Config:   cfg,
		GRPO:     grpo.NewEvaluator(store, cfg.LearningRate),
		Tools:    toollearn.NewLearner(store, cfg.FlushDebounce, cfg.DecayHalfLife, cfg.LearningRate),
		Memory:   mem,
		SelfEval: selfeval.NewEvaluator(store, cfg.EvaluationCap),
		Transfer: engine,
		Lifelong: learner,
	}, nil
}

// SessionEnd drains buffered tool history and runs the full learning
// pipeline. Stage failures are isolated into the summary; the call itself
// fails only when the write-back buffer cannot be drained.
func (c *Core) SessionEnd(ctx context.Context, session lifelong.SessionData) (lifelong.SessionSummary, error) {
	if err := c.Tools.Flush(); err != nil {
		return lifelong.SessionSummary{}, err
	}
	return c.Lifelong.RunSessionEnd(ctx, session), nil
}

// Close drains buffers and releases background resources.
func (c *Core) Close() error {
	return c.Tools.Close()
}
