package engine

import (
	"log/slog"

	"github.com/roach88/symspace/internal/compiler"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics reports scheduler activity to m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithRecorder persists every run and firing to r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithRunIDGenerator sets the run ID source. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.runIDs = g
		}
	}
}

// WithClock sets the clock that stamps firings. Use NewClockAt to continue
// numbering from an existing trace.
func WithClock(c SeqClock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithPlanner shares a clause planner between engines.
func WithPlanner(p *compiler.Planner) Option {
	return func(e *Engine) {
		if p != nil {
			e.planner = p
		}
	}
}

// WithMaxCycles sets the cycle limit used when a Budget leaves MaxCycles
// zero. Default: DefaultMaxCycles.
func WithMaxCycles(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxCycles = n
		}
	}
}

// WithMaxSteps sets the matcher step limit used when a Budget leaves
// MaxSteps zero. Default: DefaultMaxSteps.
func WithMaxSteps(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithGCInterval collects garbage after every n cycles. Zero keeps the
// default and a negative n disables collection during runs.
// Default: DefaultGCInterval.
func WithGCInterval(n int) Option {
	return func(e *Engine) {
		if n != 0 {
			e.gcInterval = n
		}
	}
}

// WithRunMode sets the conflict-resolution policy. Default: RunModeSaturate.
func WithRunMode(mode RunMode) Option {
	return func(e *Engine) {
		if mode != "" {
			e.mode = mode
		}
	}
}

// WithRefraction prevents a rule from firing twice on the same bindings
// within one run.
func WithRefraction() Option {
	return func(e *Engine) {
		e.refractor = NewRefractor()
	}
}

// WithControl installs a callback consulted after every firing. Returning
// Stop halts the run in StateStopped once the current cycle commits.
func WithControl(fn ControlFunc) Option {
	return func(e *Engine) {
		e.control = fn
	}
}
