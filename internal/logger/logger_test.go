package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cases := map[string]func(*Config){
		"bad level":         func(c *Config) { c.Level = "loud" },
		"bad format":        func(c *Config) { c.Format = "xml" },
		"bad output":        func(c *Config) { c.Output = "syslog" },
		"file without path": func(c *Config) { c.Output = "file" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestJSONOutputAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&Config{Level: "warn", Format: "json"}, &buf)

	l.Info("hidden")
	l.Warn("shown", zap.Int("position", 3))
	require.NoError(t, l.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, sonic.Unmarshal(lines[0], &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "warn", entry["level"])
	assert.EqualValues(t, 3, entry["position"])
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&Config{Level: "debug", Format: "console"}, &buf)
	l.Named("master").Debug("chunk submitted", zap.String("endpoint", "E0"))

	out := buf.String()
	assert.Contains(t, out, "chunk submitted")
	assert.Contains(t, out, "master")
	assert.Contains(t, out, `"endpoint": "E0"`)
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mwfaas.log")
	l := New(&Config{Level: "info", Format: "json", Output: "file", FilePath: path, MaxSize: 1})
	l.Info("to file")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&Config{Level: "nope", Format: "json"}, &buf)
	l.Debug("hidden")
	l.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestGlobalLogger(t *testing.T) {
	assert.NotNil(t, L())
	assert.Same(t, L(), L())
	assert.NotNil(t, Named("Worker"))
	Debug("debug")
	Sync()
}
