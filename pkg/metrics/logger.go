package metrics

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a logging level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSilent // Disables all logging
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelSilent:
		return "SILENT"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name. The empty string is LevelInfo.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "", "INFO":
		return LevelInfo, nil
	case "DEBUG":
		return LevelDebug, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "SILENT", "OFF", "NONE":
		return LevelSilent, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %s (use debug, info, warn, error, silent)", s)
	}
}

// zapLevel maps a Level onto zap's scale. Silent sits above every level the
// Logger can emit.
func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel + 1
	}
}

// levelOf maps a zap level back onto Level.
func levelOf(z zapcore.Level) Level {
	switch {
	case z <= zapcore.DebugLevel:
		return LevelDebug
	case z == zapcore.InfoLevel:
		return LevelInfo
	case z == zapcore.WarnLevel:
		return LevelWarn
	case z == zapcore.ErrorLevel:
		return LevelError
	default:
		return LevelSilent
	}
}

// ParseFormat parses a format name. The empty string is FormatText.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("invalid log format: %s (use text or json)", s)
	}
}

// Logger provides structured logging with levels on top of a zap core.
type Logger struct {
	zl      *zap.Logger
	level   zap.AtomicLevel
	initial Level
	out     io.Writer
	format  Format
	fields  Fields
	name    string
}

// Fields represents structured log fields.
type Fields map[string]interface{}

// Format specifies the log output format.
type Format int

const (
	FormatText Format = iota // Human-readable console format
	FormatJSON               // JSON format for log aggregation
)

// LoggerOption configures a logger.
type LoggerOption func(*Logger)

// WithOutput sets the output writer.
func WithOutput(w io.Writer) LoggerOption {
	return func(l *Logger) {
		l.out = w
	}
}

// WithLevel sets the minimum log level.
func WithLevel(level Level) LoggerOption {
	return func(l *Logger) {
		l.initial = level
	}
}

// WithFormat sets the output format.
func WithFormat(format Format) LoggerOption {
	return func(l *Logger) {
		l.format = format
	}
}

// WithFields sets default fields for all log entries.
func WithFields(fields Fields) LoggerOption {
	return func(l *Logger) {
		l.fields = fields
	}
}

// NewLogger creates a new logger with the given options.
func NewLogger(opts ...LoggerOption) *Logger {
	l := &Logger{
		out:     os.Stdout,
		initial: LevelInfo,
		format:  FormatText,
		fields:  make(Fields),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.level = zap.NewAtomicLevelAt(l.initial.zapLevel())

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	var enc zapcore.Encoder
	if l.format == FormatJSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(l.out)), l.level)
	l.zl = zap.New(core)
	if len(l.fields) > 0 {
		l.zl = l.zl.With(toZap(l.fields)...)
	}
	return l
}

// clone copies the logger around a derived zap logger.
func (l *Logger) clone(zl *zap.Logger, fields Fields, name string) *Logger {
	return &Logger{
		zl:     zl,
		level:  l.level,
		out:    l.out,
		format: l.format,
		fields: fields,
		name:   name,
	}
}

// With returns a new logger with additional fields.
func (l *Logger) With(fields Fields) *Logger {
	newFields := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}
	return l.clone(l.zl.With(toZap(fields)...), newFields, l.name)
}

// Named returns a new logger with the given name.
func (l *Logger) Named(name string) *Logger {
	newName := name
	if l.name != "" {
		newName = l.name + "." + name
	}
	return l.clone(l.zl.Named(name), l.fields, newName)
}

// SetLevel changes the logging level of l and of every logger derived from
// it or from the same root.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

// Level returns the current minimum level.
func (l *Logger) Level() Level {
	return levelOf(l.level.Level())
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields ...Fields) {
	if ce := l.zl.Check(zapcore.DebugLevel, msg); ce != nil {
		ce.Write(merge(fields)...)
	}
}

// Info logs at info level.
func (l *Logger) Info(msg string, fields ...Fields) {
	if ce := l.zl.Check(zapcore.InfoLevel, msg); ce != nil {
		ce.Write(merge(fields)...)
	}
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields ...Fields) {
	if ce := l.zl.Check(zapcore.WarnLevel, msg); ce != nil {
		ce.Write(merge(fields)...)
	}
}

// Error logs at error level.
func (l *Logger) Error(msg string, fields ...Fields) {
	if ce := l.zl.Check(zapcore.ErrorLevel, msg); ce != nil {
		ce.Write(merge(fields)...)
	}
}

// merge flattens call-site field maps into zap fields, later maps winning.
func merge(extra []Fields) []zap.Field {
	switch len(extra) {
	case 0:
		return nil
	case 1:
		return toZap(extra[0])
	}
	all := make(Fields)
	for _, f := range extra {
		for k, v := range f {
			all[k] = v
		}
	}
	return toZap(all)
}

// toZap converts fields in sorted key order for consistent output.
func toZap(fields Fields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

// --- Global Logger ---

var (
	globalLogger   *Logger
	globalLoggerMu sync.RWMutex
)

func init() {
	globalLogger = NewLogger()
}

// SetLogger sets the global logger.
func SetLogger(l *Logger) {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = l
}

// GetLogger returns the global logger.
func GetLogger() *Logger {
	globalLoggerMu.RLock()
	defer globalLoggerMu.RUnlock()
	return globalLogger
}

// --- Convenience Functions ---

// NullLogger returns a logger that discards all output.
func NullLogger() *Logger {
	return NewLogger(WithOutput(io.Discard), WithLevel(LevelSilent))
}

// TestLogger returns a logger suitable for testing (debug level, text format).
func TestLogger(w io.Writer) *Logger {
	return NewLogger(
		WithOutput(w),
		WithLevel(LevelDebug),
		WithFormat(FormatText),
	)
}
