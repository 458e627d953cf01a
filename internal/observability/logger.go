// Package observability wraps go.uber.org/zap into the key-value logging
// idiom the teacher used against the Mattermost plugin API
// (p.API.LogDebug/Info/Warn/Error with alternating key/value pairs), with
// debug output gated by a boolean config flag instead of a plugin host.
package observability

import (
	"go.uber.org/zap"
)

// Logger is devflow's structured logger. It exists as a thin named type,
// rather than a bare *zap.SugaredLogger, so call sites read the same way
// the teacher's "p.API.LogX" methods did.
type Logger struct {
	sugar *zap.SugaredLogger
	debug bool
}

// New builds a Logger. When debug is false, Debugw calls are no-ops,
// matching the teacher's logDebug config-gated idiom.
func New(debug bool) (*Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{sugar: zl.Sugar(), debug: debug}, nil
}

// NewNop returns a Logger that discards all output, for use in tests.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

func (l *Logger) Debugw(msg string, kv ...any) {
	if !l.debug {
		return
	}
	l.sugar.Debugw(msg, kv...)
}

func (l *Logger) Infow(msg string, kv ...any)  { l.sugar.Infow(msg, kv...) }
func (l *Logger) Warnw(msg string, kv ...any)  { l.sugar.Warnw(msg, kv...) }
func (l *Logger) Errorw(msg string, kv ...any) { l.sugar.Errorw(msg, kv...) }

// Sync flushes any buffered log entries. Call before process exit.
func (l *Logger) Sync() error { return l.sugar.Sync() }

// With returns a Logger with the given key-value pairs attached to every
// subsequent call, mirroring zap's child-logger idiom.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{sugar: l.sugar.With(kv...), debug: l.debug}
}
