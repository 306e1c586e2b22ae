// Package logging wraps zap with the handful of helpers the engine uses.
package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects level, encoding and destination.
type Config struct {
	Level       string `json:"level" yaml:"level" envconfig:"LEVEL"`
	Format      string `json:"format" yaml:"format" envconfig:"FORMAT"` // "json" or "text"
	Output      string `json:"output,omitempty" yaml:"output,omitempty" envconfig:"OUTPUT"`
	Development bool   `json:"development,omitempty" yaml:"development,omitempty" envconfig:"DEVELOPMENT"`
}

type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// New builds a Logger. An unusable Output falls back to stderr.
func New(cfg Config) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(cfg.Format, "text") || strings.EqualFold(cfg.Format, "console") {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stderr)
	if cfg.Output != "" && cfg.Output != "stderr" {
		if cfg.Output == "stdout" {
			sink = zapcore.Lock(os.Stdout)
		} else if f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			sink = zapcore.AddSync(f)
		}
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	z := zap.New(zapcore.NewCore(enc, sink, parseLevel(cfg.Level)), opts...)
	return &Logger{Logger: z, sugar: z.Sugar()}
}

// Nop discards everything. Handy default for library code and tests.
func Nop() *Logger {
	z := zap.NewNop()
	return &Logger{Logger: z, sugar: z.Sugar()}
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *Logger) With(fields ...zap.Field) *Logger {
	z := l.Logger.With(fields...)
	return &Logger{Logger: z, sugar: z.Sugar()}
}

func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

func (l *Logger) WithModule(name string) *Logger {
	return l.With(Module(name))
}

func (l *Logger) Sugar() *zap.SugaredLogger { return l.sugar }

// L returns the process-wide logger, creating an info-level one on first use.
func L() *Logger {
	globalMu.RLock()
	lg := globalLogger
	globalMu.RUnlock()
	if lg != nil {
		return lg
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = New(Config{Level: "info"})
	}
	return globalLogger
}

func SetGlobal(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// OrNop lets constructors accept a nil logger.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// Field constructors shared across packages.

func Component(name string) zap.Field { return zap.String("component", name) }
func Module(name string) zap.Field    { return zap.String("module", name) }
func Side(side string) zap.Field      { return zap.String("side", side) }
func Endpoint(url string) zap.Field   { return zap.String("endpoint", url) }

func Decimal(key string, v decimal.Decimal) zap.Field {
	return zap.String(key, v.String())
}

func Price(v decimal.Decimal) zap.Field   { return Decimal("price", v) }
func Capital(v decimal.Decimal) zap.Field { return Decimal("capital", v) }

// Re-exports so callers rarely need to import zap directly.
var (
	String   = zap.String
	Int      = zap.Int
	Bool     = zap.Bool
	Duration = zap.Duration
	Time     = zap.Time
	Err      = zap.Error
	Any      = zap.Any
)
