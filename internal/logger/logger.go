// Package logger provides the key/value structured logger used across Scribbly.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a leveled logger taking alternating key/value pairs.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	With(kv ...any) Logger
}

// Options configures New.
type Options struct {
	Level string
	// File enables rotating file output alongside Console.
	File string
	// Console receives human-readable output. Defaults to stderr.
	Console io.Writer
}

type zlogger struct {
	z zerolog.Logger
}

// New builds a zerolog-backed Logger.
func New(opts Options) Logger {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}}
	if opts.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}

	z := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(opts.Level)).
		With().Timestamp().Logger()
	return &zlogger{z: z}
}

// NewWriter builds a Logger emitting JSON lines to w. Used by tests.
func NewWriter(w io.Writer, level string) Logger {
	return &zlogger{z: zerolog.New(w).Level(ParseLevel(level))}
}

// NewNop returns a Logger that discards everything.
func NewNop() Logger {
	return &zlogger{z: zerolog.Nop()}
}

// ParseLevel maps a level name to a zerolog level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *zlogger) Debug(msg string, kv ...any) { emit(l.z.Debug(), msg, kv) }
func (l *zlogger) Info(msg string, kv ...any)  { emit(l.z.Info(), msg, kv) }
func (l *zlogger) Warn(msg string, kv ...any)  { emit(l.z.Warn(), msg, kv) }
func (l *zlogger) Error(msg string, kv ...any) { emit(l.z.Error(), msg, kv) }

func (l *zlogger) With(kv ...any) Logger {
	ctx := l.z.With()
	for i := 0; i < len(kv); i += 2 {
		ctx = ctx.Interface(key(kv[i]), value(kv, i+1))
	}
	return &zlogger{z: ctx.Logger()}
}

func emit(ev *zerolog.Event, msg string, kv []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(kv); i += 2 {
		k := key(kv[i])
		switch v := value(kv, i+1).(type) {
		case error:
			ev = ev.AnErr(k, v)
		case string:
			ev = ev.Str(k, v)
		default:
			ev = ev.Interface(k, v)
		}
	}
	ev.Msg(msg)
}

func key(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprint(k)
}

func value(kv []any, i int) any {
	if i < len(kv) {
		return kv[i]
	}
	return "(MISSING)"
}
