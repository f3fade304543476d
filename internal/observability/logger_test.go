// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/petitionfetch/internal/config"
)

// syncBuffer is a goroutine-safe sink for the console core.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) Sync() error { return nil }

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *syncBuffer) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

var _ zapcore.WriteSyncer = (*syncBuffer)(nil)

func TestInitialize(t *testing.T) {
	t.Run("console logger is colorized", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		out := &syncBuffer{}

		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
			Colors:      config.ColorConfig{Info: "cyan"},
		}, out)
		GetLogger().Info("session launched")
		GetLogger().Warn("positional fallback engaged")
		Sync()

		output := out.String()
		assert.Contains(t, output, "session launched")
		assert.Contains(t, output, colorCyan+"INFO"+colorReset, "configured color wins")
		assert.Contains(t, output, colorYellow+"WARN"+colorReset, "blank colors use the default palette")
		assert.Contains(t, output, "TestService.")
	})

	t.Run("json logger emits structured entries", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		out := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}, out)
		GetLogger().Warn("blocked", zap.String("classification", "rate_limited"), Secret("password"))
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(out.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "blocked", entry["msg"])
		assert.Equal(t, "rate_limited", entry["classification"])
		assert.Equal(t, "[REDACTED]", entry["password"])
	})

	t.Run("log file receives entries", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		logFile := filepath.Join(t.TempDir(), "petitionfetch.log")

		Initialize(config.LoggerConfig{Level: "debug", Format: "console", LogFile: logFile, MaxSize: 1}, &syncBuffer{})
		GetLogger().Error("download never completed")
		Sync()

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "download never completed")
		assert.Contains(t, string(content), `"level":"ERROR"`, "file sink is always JSON")
	})

	t.Run("only the first call takes effect", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		out := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "info", ServiceName: "First"}, out)
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, out)
		second := GetLogger()

		assert.Same(t, first, second)
		second.Info("test")
		Sync()
		assert.Contains(t, out.String(), "First")
		assert.NotContains(t, out.String(), "Second")
	})

	t.Run("blank service name gets a default", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		out := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, out)
		GetLogger().Info("x")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(out.Bytes(), &entry))
		assert.Equal(t, "petitionfetch", entry["logger"])
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("fallback before initialization", func(t *testing.T) {
		ResetForTest()
		require.NotNil(t, GetLogger())
	})

	t.Run("global logger after initialization", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		Initialize(config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"}, &syncBuffer{})
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}
