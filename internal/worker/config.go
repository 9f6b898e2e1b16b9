package worker

import (
	"fmt"
	"os"
	"time"
)

// Config holds the configuration for a worker endpoint.
type Config struct {
	// Name identifies the worker in health responses and logs.
	Name string `yaml:"name" env:"WORKER_NAME"`

	// Address is the address to listen on (e.g., ":8090").
	Address string `yaml:"address" env:"WORKER_ADDRESS"`

	// APIKey, when set, is required in the X-API-Key header of every task request.
	APIKey string `yaml:"api_key" env:"WORKER_API_KEY"`

	// PoolSize bounds concurrently executing tasks.
	PoolSize int `yaml:"pool_size" env:"WORKER_POOL_SIZE"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"WORKER_READ_TIMEOUT"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WORKER_WRITE_TIMEOUT"`

	// TaskTimeout bounds a single task execution. Zero means no limit.
	TaskTimeout time.Duration `yaml:"task_timeout" env:"WORKER_TASK_TIMEOUT"`

	// ResultTTL is how long a finished task is kept if nobody deletes it.
	ResultTTL time.Duration `yaml:"result_ttl" env:"WORKER_RESULT_TTL"`

	// CleanupInterval is how often expired tasks are dropped.
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"WORKER_CLEANUP_INTERVAL"`
}

// DefaultConfig returns a default worker configuration.
func DefaultConfig() *Config {
	name, _ := os.Hostname()
	return &Config{
		Name:            name,
		Address:         ":8090",
		PoolSize:        16,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ResultTTL:       10 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.PoolSize <= 0 {
		return fmt.Errorf("worker pool_size must be positive, got %d", c.PoolSize)
	}
	if c.ResultTTL <= 0 {
		return fmt.Errorf("worker result_ttl must be positive, got %v", c.ResultTTL)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("worker cleanup_interval must be positive, got %v", c.CleanupInterval)
	}
	return nil
}
