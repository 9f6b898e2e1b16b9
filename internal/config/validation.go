package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/viniolvs/mwfaas/pkg/master"
	"github.com/viniolvs/mwfaas/pkg/strategy"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Validate validates the entire configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	v.validateMasterConfig(&cfg.Master)
	v.validateBackendConfig(&cfg.Backend)
	v.validateWorkerConfig(cfg)
	if err := cfg.Logging.Validate(); err != nil {
		v.addError("logging", err.Error())
	}

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateMasterConfig(cfg *MasterConfig) {
	switch cfg.Strategy {
	case strategy.NameList:
		if cfg.ItemsPerChunk <= 0 {
			v.addError("master.items_per_chunk", "must be positive for the list strategy")
		}
	case strategy.NameBalanced:
		if cfg.NumChunks <= 0 {
			v.addError("master.num_chunks", "must be positive for the balanced strategy")
		}
	case strategy.NameSingle:
	default:
		v.addError("master.strategy", fmt.Sprintf("must be one of %s", strings.Join(strategy.Names(), ", ")))
	}

	if _, err := master.ParseFailureMode(cfg.FailureMode); err != nil {
		v.addError("master.failure_mode", "must be per_position or aggregate")
	}
	if _, err := master.ParseSubmitFailurePolicy(cfg.SubmitFailurePolicy); err != nil {
		v.addError("master.submit_failure_policy", "must be abort or record")
	}
	if cfg.AwaitTimeout < 0 {
		v.addError("master.await_timeout", "must not be negative")
	}
	if cfg.RunTimeout < 0 {
		v.addError("master.run_timeout", "must not be negative")
	}
	if cfg.MaxConcurrentWaits < 0 {
		v.addError("master.max_concurrent_waits", "must not be negative")
	}
}

func (v *Validator) validateBackendConfig(cfg *BackendConfig) {
	switch cfg.Type {
	case BackendMemory:
		if cfg.PoolSize <= 0 {
			v.addError("backend.pool_size", "must be positive")
		}
		if cfg.LocalEndpoints < 0 {
			v.addError("backend.local_endpoints", "must not be negative")
		}
	case BackendHTTP:
		if cfg.RequestTimeout <= 0 {
			v.addError("backend.request_timeout", "must be positive")
		}
		if cfg.PollInterval <= 0 {
			v.addError("backend.poll_interval", "must be positive")
		}
	default:
		v.addError("backend.type", "must be memory or http")
	}

	seen := make(map[string]bool, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		field := fmt.Sprintf("backend.endpoints[%d]", i)
		if ep.ID == "" {
			v.addError(field+".id", "id is required")
		} else if seen[ep.ID] {
			v.addError(field+".id", fmt.Sprintf("duplicate endpoint id %q", ep.ID))
		}
		seen[ep.ID] = true
		if !isValidURL(ep.URL) {
			v.addError(field+".url", "must be an http or https url")
		}
	}
}

func (v *Validator) validateWorkerConfig(cfg *Config) {
	if cfg.Worker.Address == "" {
		v.addError("worker.address", "address is required")
	} else if !isValidAddress(cfg.Worker.Address) {
		v.addError("worker.address", "invalid address format, expected host:port or :port")
	}
	if err := cfg.Worker.Validate(); err != nil {
		v.addError("worker", err.Error())
	}
}

// isValidAddress checks if the address is a valid host:port format.
func isValidAddress(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return false
	}
	return host == "" || net.ParseIP(host) != nil || !strings.ContainsAny(host, " /")
}

func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}

// LoadAndValidate loads configuration from path and validates it.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
