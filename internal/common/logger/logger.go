package logger

import (
	"io"
	"os"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes one JSON object per event. The action doubles as the message
// so log queries can filter on either key.
type Logger struct {
	zl *zap.Logger
}

func New(service string) *Logger { return NewWithWriter(service, os.Stdout, zapcore.DebugLevel) }

// NewWithWriter builds a logger writing to w at the given minimum level.
func NewWithWriter(service string, w io.Writer, level zapcore.Level) *Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.LevelKey = "level"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), level)
	zl := zap.New(core).With(
		zap.String("service", service),
		zap.String("hostname", hostname()),
	)
	return &Logger{zl: zl}
}

// NewNop discards everything; used by tests.
func NewNop() *Logger { return &Logger{zl: zap.NewNop()} }

// ParseLevel maps "debug", "info", "warn", "error" onto zap levels, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// Named returns a logger for another service sharing the same sink.
func (l *Logger) Named(service string) *Logger {
	return &Logger{zl: l.zl.With(zap.String("component", service))}
}

func (l *Logger) Info(action string, fields map[string]any)  { l.zl.Info(action, toZap(action, fields, nil)...) }
func (l *Logger) Debug(action string, fields map[string]any) { l.zl.Debug(action, toZap(action, fields, nil)...) }
func (l *Logger) Warn(action string, fields map[string]any)  { l.zl.Warn(action, toZap(action, fields, nil)...) }
func (l *Logger) Error(action string, err error, fields map[string]any) {
	l.zl.Error(action, toZap(action, fields, err)...)
}

func (l *Logger) Sync() { _ = l.zl.Sync() }

func toZap(action string, fields map[string]any, err error) []zap.Field {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys)+2)
	out = append(out, zap.String("action", action))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	if err != nil {
		out = append(out, zap.Error(err))
	}
	return out
}

func hostname() string { h, _ := os.Hostname(); return h }
