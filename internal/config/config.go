package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	"gopkg.in/yaml.v3"

	"github.com/viniolvs/mwfaas/internal/logger"
	"github.com/viniolvs/mwfaas/internal/worker"
)

// EnvPrefix prefixes every environment variable read by the Loader.
const EnvPrefix = "MWFAAS_"

// Config represents the complete mwfaas configuration.
type Config struct {
	Master  MasterConfig  `yaml:"master"`
	Backend BackendConfig `yaml:"backend"`
	Worker  worker.Config `yaml:"worker"`
	Logging logger.Config `yaml:"logging"`
}

// MasterConfig holds the run configuration.
type MasterConfig struct {
	Strategy            string        `yaml:"strategy" env:"MASTER_STRATEGY"`
	ItemsPerChunk       int           `yaml:"items_per_chunk" env:"MASTER_ITEMS_PER_CHUNK"`
	NumChunks           int           `yaml:"num_chunks" env:"MASTER_NUM_CHUNKS"`
	FailureMode         string        `yaml:"failure_mode" env:"MASTER_FAILURE_MODE"`
	SubmitFailurePolicy string        `yaml:"submit_failure_policy" env:"MASTER_SUBMIT_FAILURE_POLICY"`
	AwaitTimeout        time.Duration `yaml:"await_timeout" env:"MASTER_AWAIT_TIMEOUT"`
	RunTimeout          time.Duration `yaml:"run_timeout" env:"MASTER_RUN_TIMEOUT"`
	MaxConcurrentWaits  int           `yaml:"max_concurrent_waits" env:"MASTER_MAX_CONCURRENT_WAITS"`
}

// BackendConfig selects and configures the execution backend.
type BackendConfig struct {
	// Type is memory or http.
	Type           string           `yaml:"type" env:"BACKEND_TYPE"`
	APIKey         string           `yaml:"api_key" env:"BACKEND_API_KEY"`
	RequestTimeout time.Duration    `yaml:"request_timeout" env:"BACKEND_REQUEST_TIMEOUT"`
	PollInterval   time.Duration    `yaml:"poll_interval" env:"BACKEND_POLL_INTERVAL"`
	PoolSize       int              `yaml:"pool_size" env:"BACKEND_POOL_SIZE"`
	LocalEndpoints int              `yaml:"local_endpoints" env:"BACKEND_LOCAL_ENDPOINTS"`
	Endpoints      []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig is one entry of the endpoint inventory.
type EndpointConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// Backend types.
const (
	BackendMemory = "memory"
	BackendHTTP   = "http"
)

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Master: MasterConfig{
			Strategy:            "list",
			ItemsPerChunk:       2,
			FailureMode:         "per_position",
			SubmitFailurePolicy: "abort",
		},
		Backend: BackendConfig{
			Type:           BackendMemory,
			RequestTimeout: 10 * time.Second,
			PollInterval:   200 * time.Millisecond,
			PoolSize:       8,
			LocalEndpoints: 2,
			Endpoints:      []EndpointConfig{},
		},
		Worker:  *worker.DefaultConfig(),
		Logging: *logger.DefaultConfig(),
	}
}

// DefaultPath returns $HOME/.mwfaas/config.yaml, or mwfaas.yaml when the
// home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "mwfaas.yaml"
	}
	return filepath.Join(home, ".mwfaas", "config.yaml")
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	cmdArgs    map[string]string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
		cmdArgs:   make(map[string]string),
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the prefix for environment variables.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithCmdArgs sets dot-path overrides such as "master.items_per_chunk".
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < YAML file < environment variables < command-line overrides.
// A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := l.applyCmdOverrides(cfg); err != nil {
		return nil, fmt.Errorf("apply command-line overrides: %w", err)
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", l.configPath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", l.configPath, err)
	}
	return nil
}

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	return l.applyEnvToStruct(reflect.ValueOf(cfg).Elem())
}

// applyEnvToStruct recursively applies environment variables to tagged fields.
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		name := l.envPrefix + envTag
		envValue, ok := os.LookupEnv(name)
		if !ok {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	return nil
}

func (l *Loader) applyCmdOverrides(cfg *Config) error {
	for key, value := range l.cmdArgs {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a value by its dot-separated yaml path.
func setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		field, ok := fieldByYAMLName(v, part)
		if !ok {
			return fmt.Errorf("unknown config path %q", path)
		}

		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}

		if field.Kind() != reflect.Struct {
			return fmt.Errorf("%s is a %s, not a section", part, field.Kind())
		}
		v = field
	}

	return nil
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if tag == name || strings.EqualFold(t.Field(i).Name, strings.ReplaceAll(name, "_", "")) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}

	return nil
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig parses a YAML configuration over the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file path.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}

// ReadFile loads path over the defaults without environment overrides, so
// the result can be saved back without persisting values from the
// environment. A missing file yields the defaults.
func ReadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	l := &Loader{configPath: path}
	if err := l.loadFromFile(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories. The
// file holds the API key, so it is only readable by its owner.
func (c *Config) Save(path string) error {
	data, err := c.Serialize()
	if err != nil {
		return fmt.Errorf("serialize config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := &Config{}
	if err := copier.CopyWithOption(clone, c, copier.Option{DeepCopy: true}); err != nil {
		data, _ := c.Serialize()
		clone, _ = ParseConfig(data)
	}
	return clone
}
