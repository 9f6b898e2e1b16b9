// Package logger builds the process-wide zap logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	log     *zap.Logger
	helpers *zap.Logger
	once    sync.Once
)

// Config holds the logging configuration. Level is debug, info, warn or
// error; Format is json or console; Output is stdout, stderr, file or both
// (stderr and file). MaxSize is in megabytes and MaxAge in days.
type Config struct {
	Level      string `yaml:"level" json:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" json:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" json:"output" env:"LOG_OUTPUT"`
	FilePath   string `yaml:"file_path" json:"file_path" env:"LOG_FILE_PATH"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// DefaultConfig returns console logging at info level on stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "console",
		Output:     "stderr",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
	}
}

// Validate checks the logging configuration.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid log level %q", c.Level)
	}
	switch c.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q", c.Format)
	}
	switch c.Output {
	case "stdout", "stderr", "":
	case "file", "both":
		if c.FilePath == "" {
			return fmt.Errorf("log output %q requires a file path", c.Output)
		}
	default:
		return fmt.Errorf("invalid log output %q", c.Output)
	}
	return nil
}

// Init sets the process-wide logger. Only the first call has an effect.
func Init(cfg *Config) {
	once.Do(func() {
		log = New(cfg)
		helpers = log.WithOptions(zap.AddCallerSkip(1))
	})
}

// New builds a logger from cfg.
func New(cfg *Config) *zap.Logger {
	return newLogger(cfg, nil)
}

// newLogger builds a logger; console output goes to w when it is set.
func newLogger(cfg *Config, w io.Writer) *zap.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		if w == nil {
			encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var console zapcore.WriteSyncer
	switch {
	case w != nil:
		console = zapcore.AddSync(w)
	case cfg.Output == "stdout":
		console = zapcore.Lock(os.Stdout)
	default:
		console = zapcore.Lock(os.Stderr)
	}

	var cores []zapcore.Core
	if cfg.Output != "file" {
		cores = append(cores, zapcore.NewCore(encoder, console, level))
	}
	if (cfg.Output == "file" || cfg.Output == "both") && cfg.FilePath != "" {
		writer := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(writer), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// L returns the process-wide logger, initializing it with defaults if needed.
func L() *zap.Logger {
	Init(nil)
	return log
}

// Named returns a child of the process-wide logger.
func Named(name string) *zap.Logger {
	return L().Named(strings.ToLower(name))
}

func Debug(msg string, fields ...zap.Field) {
	Init(nil)
	helpers.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	Init(nil)
	helpers.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	Init(nil)
	helpers.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	Init(nil)
	helpers.Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	Init(nil)
	helpers.Fatal(msg, fields...)
}

// Sync flushes buffered entries.
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}
