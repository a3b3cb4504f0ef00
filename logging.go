package ftp

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// defaultLogger is used by Dial when WithLogger is not supplied.
var defaultLogger Logger = noopLogger{}

// Logger is the logging contract used throughout the client. It mirrors the
// level-based interface FTP servers and clients in this ecosystem expose,
// so callers can plug in whatever structured logger they already use.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
	With(keyvals ...interface{}) Logger
}

// noopLogger discards everything. It is the default so that logging is
// opt-in via WithLogger.
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})   {}
func (noopLogger) Info(string, ...interface{})    {}
func (noopLogger) Warn(string, ...interface{})    {}
func (noopLogger) Error(string, ...interface{})   {}
func (n noopLogger) With(...interface{}) Logger   { return n }

// goKitLogger adapts a go-kit log.Logger to the Logger interface, using
// log/level to attach a level to each line the way a go-kit-based server
// would.
type goKitLogger struct {
	base log.Logger
}

// NewGoKitLogger wraps a go-kit logger for use with WithLogger.
func NewGoKitLogger(l log.Logger) Logger {
	return &goKitLogger{base: l}
}

func (g *goKitLogger) Debug(msg string, keyvals ...interface{}) {
	_ = level.Debug(g.base).Log(append([]interface{}{"msg", msg}, keyvals...)...)
}

func (g *goKitLogger) Info(msg string, keyvals ...interface{}) {
	_ = level.Info(g.base).Log(append([]interface{}{"msg", msg}, keyvals...)...)
}

func (g *goKitLogger) Warn(msg string, keyvals ...interface{}) {
	_ = level.Warn(g.base).Log(append([]interface{}{"msg", msg}, keyvals...)...)
}

func (g *goKitLogger) Error(msg string, keyvals ...interface{}) {
	_ = level.Error(g.base).Log(append([]interface{}{"msg", msg}, keyvals...)...)
}

// With returns a logger that prepends keyvals to every subsequent line,
// the same contextual-logger contract fclairamb-ftpserverlib's log.Logger
// exposes.
func (g *goKitLogger) With(keyvals ...interface{}) Logger {
	return &goKitLogger{base: log.With(g.base, keyvals...)}
}
