package config

import (
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/viniolvs/mwfaas/pkg/backend"
	"github.com/viniolvs/mwfaas/pkg/backend/remote"
	"github.com/viniolvs/mwfaas/pkg/master"
	"github.com/viniolvs/mwfaas/pkg/strategy"
	"github.com/viniolvs/mwfaas/pkg/types"
)

// MasterOptions builds the master configuration.
func (c *Config) MasterOptions() (*master.Config, error) {
	mode, err := master.ParseFailureMode(c.Master.FailureMode)
	if err != nil {
		return nil, types.NewInvalidConfigurationError("%v", err)
	}
	policy, err := master.ParseSubmitFailurePolicy(c.Master.SubmitFailurePolicy)
	if err != nil {
		return nil, types.NewInvalidConfigurationError("%v", err)
	}
	cfg := &master.Config{
		Strategy: strategy.Config{
			ItemsPerChunk: c.Master.ItemsPerChunk,
			NumChunks:     c.Master.NumChunks,
		},
		FailureMode:         mode,
		SubmitFailurePolicy: policy,
		AwaitTimeout:        c.Master.AwaitTimeout,
		RunTimeout:          c.Master.RunTimeout,
		MaxConcurrentWaits:  c.Master.MaxConcurrentWaits,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Strategy returns the configured strategy.
func (c *Config) Strategy() (strategy.Strategy, error) {
	return strategy.New(c.Master.Strategy)
}

// NewBackend builds the configured backend.
func (c *Config) NewBackend(log *zap.Logger) (backend.Backend, error) {
	switch c.Backend.Type {
	case BackendMemory:
		mem, err := backend.NewMemory(&backend.MemoryConfig{
			Endpoints:      c.Backend.LocalEndpoints,
			PoolSize:       c.Backend.PoolSize,
			RoundTrip:      true,
			ReleaseTimeout: c.Backend.RequestTimeout,
			Logger:         log,
		})
		if err != nil {
			return nil, types.NewInvalidConfigurationError("memory backend: %v", err)
		}
		return mem, nil
	case BackendHTTP:
		rb, err := remote.New(&remote.Config{
			Endpoints:       c.Endpoints(),
			APIKey:          c.Backend.APIKey,
			RequestTimeout:  c.Backend.RequestTimeout,
			PollInterval:    c.Backend.PollInterval,
			MaxPollFailures: remote.DefaultConfig().MaxPollFailures,
			Clock:           clockwork.NewRealClock(),
			Logger:          log,
		})
		if err != nil {
			return nil, types.NewInvalidConfigurationError("http backend: %v", err)
		}
		return rb, nil
	default:
		return nil, types.NewInvalidConfigurationError("unknown backend type %q", c.Backend.Type)
	}
}
