package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Field is one key/value pair attached to a log line.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field        { return Field{key, value} }
func Int(key string, value int) Field       { return Field{key, value} }
func Float(key string, value float64) Field { return Field{key, value} }
func Bool(key string, value bool) Field     { return Field{key, value} }

// Time logs t in UTC so pass windows read the same on every host.
func Time(key string, t time.Time) Field { return Field{key, t.UTC()} }

// Duration logs d in its String form ("1m30s").
func Duration(key string, d time.Duration) Field { return Field{key, d.String()} }

// Err logs err's message under "error". A nil error logs a null value.
func Err(err error) Field {
	if err == nil {
		return Field{"error", nil}
	}
	return Field{"error", err.Error()}
}

// Satellite names the catalog entry a line is about.
func Satellite(name string) Field { return Field{"satellite", name} }

// Logger is the context-first logger passed through the station. Session
// and satellite tags are bound with With.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Config selects the slog handler. Unknown levels fall back to info and
// anything but "json" produces text.
type Config struct {
	Level     string
	Format    string
	AddSource bool
	// Output defaults to os.Stderr, leaving stdout to schedule listings
	// and the stdout span sink.
	Output io.Writer
}

// New builds a slog-backed Logger.
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: levelOf(cfg.Level), AddSource: cfg.AddSource}
	if strings.EqualFold(cfg.Format, "json") {
		return &stationLogger{l: slog.New(slog.NewJSONHandler(out, opts))}
	}
	return &stationLogger{l: slog.New(slog.NewTextHandler(out, opts))}
}

// NewFromEnv reads LOG_LEVEL, LOG_FORMAT and LOG_SOURCE.
func NewFromEnv() Logger {
	source, _ := strconv.ParseBool(os.Getenv("LOG_SOURCE"))
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		AddSource: source,
	})
}

// Noop discards everything. Constructors use it when handed a nil Logger.
func Noop() Logger { return discard{} }

type stationLogger struct {
	l *slog.Logger
}

func (s *stationLogger) With(fields ...Field) Logger {
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = slog.Any(f.Key, f.Value)
	}
	return &stationLogger{l: s.l.With(args...)}
}

func (s *stationLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	s.emit(ctx, slog.LevelDebug, msg, fields)
}

func (s *stationLogger) Info(ctx context.Context, msg string, fields ...Field) {
	s.emit(ctx, slog.LevelInfo, msg, fields)
}

func (s *stationLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	s.emit(ctx, slog.LevelWarn, msg, fields)
}

func (s *stationLogger) Error(ctx context.Context, msg string, fields ...Field) {
	s.emit(ctx, slog.LevelError, msg, fields)
}

func (s *stationLogger) emit(ctx context.Context, level slog.Level, msg string, fields []Field) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.l.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, len(fields))
	for i, f := range fields {
		attrs[i] = slog.Any(f.Key, f.Value)
	}
	s.l.LogAttrs(ctx, level, msg, attrs...)
}

type discard struct{}

func (discard) With(...Field) Logger                    { return discard{} }
func (discard) Debug(context.Context, string, ...Field) {}
func (discard) Info(context.Context, string, ...Field)  {}
func (discard) Warn(context.Context, string, ...Field)  {}
func (discard) Error(context.Context, string, ...Field) {}

func levelOf(name string) slog.Level {
	var level slog.Level
	if strings.EqualFold(name, "warning") {
		name = "warn"
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

type sessionKey struct{}

// NewSessionID returns 16 hex characters identifying one station session.
func NewSessionID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b[:])
}

// ContextWithSessionID tags ctx with the session that owns the work.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionIDFromContext returns the session tag, or "" outside a session.
func SessionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// WithSessionLogger tags both ctx and base with session id.
func WithSessionLogger(ctx context.Context, base Logger, id string) (context.Context, Logger) {
	if base == nil {
		base = Noop()
	}
	return ContextWithSessionID(ctx, id), base.With(String("session_id", id))
}
