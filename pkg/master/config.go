package master

import (
	"fmt"
	"time"

	"github.com/viniolvs/mwfaas/pkg/strategy"
	"github.com/viniolvs/mwfaas/pkg/types"
)

// FailureMode selects how a run with failed positions is reported.
type FailureMode string

const (
	// FailureModePerPosition returns the RunResult with failed positions
	// marked and no error.
	FailureModePerPosition FailureMode = "per_position"
	// FailureModeAggregate also returns one error listing every failed position.
	FailureModeAggregate FailureMode = "aggregate"
)

// SubmitFailurePolicy selects what happens when Backend.Submit fails.
type SubmitFailurePolicy string

const (
	// SubmitAbort fails the run at the first submission error. Tasks already
	// submitted keep running.
	SubmitAbort SubmitFailurePolicy = "abort"
	// SubmitRecord records the error at that position and keeps dispatching.
	SubmitRecord SubmitFailurePolicy = "record"
)

// Config holds the configuration for a Master.
type Config struct {
	// Strategy is passed to Strategy.Split.
	Strategy strategy.Config

	// FailureMode selects per-position or aggregate failure reporting.
	FailureMode FailureMode

	// SubmitFailurePolicy selects abort or record on submission errors.
	SubmitFailurePolicy SubmitFailurePolicy

	// AwaitTimeout bounds the wait for each result. Zero waits without limit.
	AwaitTimeout time.Duration

	// RunTimeout bounds the whole run. Zero waits without limit.
	RunTimeout time.Duration

	// MaxConcurrentWaits bounds concurrent Await calls. Zero means one per chunk.
	MaxConcurrentWaits int
}

// DefaultConfig returns a default master configuration.
func DefaultConfig() *Config {
	return &Config{
		Strategy:            strategy.Config{ItemsPerChunk: 1},
		FailureMode:         FailureModePerPosition,
		SubmitFailurePolicy: SubmitAbort,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.FailureMode {
	case FailureModePerPosition, FailureModeAggregate:
	default:
		return types.NewInvalidConfigurationError("unknown failure mode %q", c.FailureMode)
	}
	switch c.SubmitFailurePolicy {
	case SubmitAbort, SubmitRecord:
	default:
		return types.NewInvalidConfigurationError("unknown submit failure policy %q", c.SubmitFailurePolicy)
	}
	if c.AwaitTimeout < 0 {
		return types.NewInvalidConfigurationError("await timeout must not be negative")
	}
	if c.RunTimeout < 0 {
		return types.NewInvalidConfigurationError("run timeout must not be negative")
	}
	if c.MaxConcurrentWaits < 0 {
		return types.NewInvalidConfigurationError("max concurrent waits must not be negative")
	}
	return nil
}

// ParseFailureMode parses a failure mode name.
func ParseFailureMode(s string) (FailureMode, error) {
	switch m := FailureMode(s); m {
	case FailureModePerPosition, FailureModeAggregate:
		return m, nil
	}
	return "", fmt.Errorf("unknown failure mode %q", s)
}

// ParseSubmitFailurePolicy parses a submit failure policy name.
func ParseSubmitFailurePolicy(s string) (SubmitFailurePolicy, error) {
	switch p := SubmitFailurePolicy(s); p {
	case SubmitAbort, SubmitRecord:
		return p, nil
	}
	return "", fmt.Errorf("unknown submit failure policy %q", s)
}
