package m3api

import (
	"go.uber.org/zap"
)

// Logger is the structured logger used by a Session. keysAndValues are
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ZapLogger adapts a zap logger to Logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps l. A nil l yields a no-op logger.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{sugar: l.Sugar()}
}

// NewDevelopmentLogger returns a human friendly zap logger at debug level.
func NewDevelopmentLogger() (*ZapLogger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(l), nil
}

func (z *ZapLogger) Debug(msg string, keysAndValues ...any) { z.sugar.Debugw(msg, keysAndValues...) }
func (z *ZapLogger) Info(msg string, keysAndValues ...any)  { z.sugar.Infow(msg, keysAndValues...) }
func (z *ZapLogger) Warn(msg string, keysAndValues ...any)  { z.sugar.Warnw(msg, keysAndValues...) }
func (z *ZapLogger) Error(msg string, keysAndValues ...any) { z.sugar.Errorw(msg, keysAndValues...) }

// Sync flushes buffered log entries.
func (z *ZapLogger) Sync() error {
	return z.sugar.Sync()
}

// LogWarnings returns a WarnFunc that writes every warning to logger at
// Warn level. It is the default warning handler of a Session.
func LogWarnings(logger Logger) WarnFunc {
	return func(err error) {
		if apiWarnings, ok := err.(*APIWarnings); ok {
			for _, w := range apiWarnings.Warnings {
				logger.Warn("API warning", "code", w.Code(), "module", w.Module(), "text", w.Text())
			}
			return
		}
		logger.Warn(err.Error())
	}
}
