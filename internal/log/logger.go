// Package log provides structured logging for ldsim using zap.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with ldsim-specific helpers.
type Logger struct {
	*zap.Logger
	onEvent func(pc uint64, category, name, detail string) // trace callback for events
}

var (
	// L is the global logger instance.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger with the given configuration.
// Safe to call multiple times; only the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a new Logger instance.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// SetOnEvent sets the callback invoked by Event and EventSimple; the other
// logging methods (ObjectResolved, LookupBinding, ...) do not call it.
func (l *Logger) SetOnEvent(fn func(pc uint64, category, name, detail string)) {
	l.onEvent = fn
}

// Event logs a resolver/lookup event and calls the trace callback if set.
func (l *Logger) Event(pc uint64, category, name, detail string) {
	if l.onEvent != nil {
		l.onEvent(pc, category, name, detail)
	}

	l.Debug("event",
		zap.String("cat", category),
		zap.String("sym", name),
		zap.String("detail", detail),
		zap.Uint64("pc", pc),
	)
}

// EventSimple logs an event with no associated address.
func (l *Logger) EventSimple(category, name, detail string) {
	l.Event(0, category, name, detail)
}

// ObjectResolved logs successful SONAME-to-path resolution.
func (l *Logger) ObjectResolved(soname, path, via string) {
	l.Debug("resolved",
		zap.String("soname", soname),
		zap.String("path", path),
		zap.String("via", via),
	)
}

// ObjectNotFound logs a failed SONAME resolution.
func (l *Logger) ObjectNotFound(soname string, needer string) {
	l.Warn("not found",
		zap.String("soname", soname),
		zap.String("needed-by", needer),
	)
}

// LookupBinding logs a successful symbol binding.
func (l *Logger) LookupBinding(sym string, defObj string, addr uint64) {
	l.Debug("binding",
		zap.String("sym", sym),
		zap.String("def", defObj),
		Addr(addr),
	)
}

// LookupConflict logs a detected symbol conflict.
func (l *Logger) LookupConflict(sym, winner, loser string) {
	l.Info("conflict",
		zap.String("sym", sym),
		zap.String("winner", winner),
		zap.String("loser", loser),
	)
}

// TLSAssigned logs TLS module id/offset assignment for an object.
func (l *Logger) TLSAssigned(obj string, modid uint64, offset int64) {
	l.Debug("tls assigned",
		zap.String("obj", obj),
		zap.Uint64("modid", modid),
		zap.Int64("offset", offset),
	)
}

// WithCategory returns a logger with the category field preset.
func (l *Logger) WithCategory(category string) *Logger {
	return &Logger{
		Logger:  l.Logger.With(zap.String("cat", category)),
		onEvent: l.onEvent,
	}
}

// Hex formats a uint64 as hex string for logging.
func Hex(addr uint64) string {
	return "0x" + hexString(addr)
}

func hexString(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	buf := make([]byte, 16)
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

// Field helpers for common patterns.

// Addr creates an address field.
func Addr(addr uint64) zap.Field {
	return zap.String("addr", Hex(addr))
}

// Size creates a size field.
func Size(size uint64) zap.Field {
	return zap.Uint64("size", size)
}

// Ptr creates a pointer field.
func Ptr(name string, ptr uint64) zap.Field {
	return zap.String(name, Hex(ptr))
}

// Fn creates a function name field.
func Fn(name string) zap.Field {
	return zap.String("fn", name)
}
