package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func bufferLogger(buf *bytes.Buffer) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{MessageKey: "message", LevelKey: "level"}),
		zapcore.AddSync(buf),
		zapcore.DebugLevel,
	)
	z := zap.New(core)
	return &Logger{Logger: z, sugar: z.Sugar()}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"nonsense", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	lg := New(Config{Level: "info", Format: "json", Output: path})
	lg.Info("tick", Capital(decimal.RequireFromString("251.5")))
	_ = lg.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &entry))
	assert.Equal(t, "tick", entry["msg"])
	assert.Equal(t, "251.5", entry["capital"])
}

func TestNewFallsBackOnBadOutput(t *testing.T) {
	lg := New(Config{Output: "/nonexistent/dir/engine.log"})
	assert.NotNil(t, lg)
}

func TestWithHelpersReturnNewLogger(t *testing.T) {
	var buf bytes.Buffer
	lg := bufferLogger(&buf)

	child := lg.WithComponent("runner").WithModule("scalpel")
	assert.NotSame(t, lg, child)

	child.Info("dispatch", Side("long"))
	out := buf.String()
	assert.Contains(t, out, `"component":"runner"`)
	assert.Contains(t, out, `"module":"scalpel"`)
	assert.Contains(t, out, `"side":"long"`)
}

func TestGlobalLogger(t *testing.T) {
	lg := Nop()
	SetGlobal(lg)
	assert.Same(t, lg, L())

	SetGlobal(nil)
	assert.NotNil(t, L())
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	lg := Nop()
	assert.Same(t, lg, OrNop(lg))
}
