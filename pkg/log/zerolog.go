package log

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	cerrors "github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ZerologProvider hands out Loggers backed by a single zerolog.Logger.
type ZerologProvider struct {
	mu   sync.RWMutex
	base zerolog.Logger
}

// NewZerologProvider creates a provider that writes JSON lines to w.
func NewZerologProvider(w io.Writer, level Level) *ZerologProvider {
	base := zerolog.New(w).With().Timestamp().Logger().Level(toZerologLevel(level))
	return &ZerologProvider{base: base}
}

// GetLogger implements LoggerProvider.GetLogger.
func (p *ZerologProvider) GetLogger() Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &zerologLogger{zl: p.base}
}

// GetLoggerWithName implements LoggerProvider.GetLoggerWithName.
func (p *ZerologProvider) GetLoggerWithName(name string) Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &zerologLogger{zl: p.base.With().Str(ComponentKey, name).Logger()}
}

// SetLevel implements LoggerProvider.SetLevel. Loggers handed out earlier
// keep their level.
func (p *ZerologProvider) SetLevel(level Level) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.base = p.base.Level(toZerologLevel(level))
}

type zerologLogger struct {
	zl zerolog.Logger
}

func (l *zerologLogger) Debug(msg string, fields ...any) { emit(l.zl.Debug(), msg, fields) }
func (l *zerologLogger) Info(msg string, fields ...any)  { emit(l.zl.Info(), msg, fields) }
func (l *zerologLogger) Warn(msg string, fields ...any)  { emit(l.zl.Warn(), msg, fields) }

func (l *zerologLogger) Error(msg string, fields ...any) {
	ev := l.zl.Error()
	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			ev = withError(ev, ErrAttrKey, err)
			fields = fields[1:]
		}
	}
	emit(ev, msg, fields)
}

func (l *zerologLogger) With(fields ...any) Logger {
	ctx := l.zl.With()
	for i := 0; i < len(fields); i += 2 {
		key, val := pair(fields, i)
		switch v := val.(type) {
		case error:
			ctx = ctx.Str(key, v.Error())
		case time.Duration:
			ctx = ctx.Int64(key, v.Milliseconds())
		default:
			ctx = ctx.Interface(key, v)
		}
	}
	return &zerologLogger{zl: ctx.Logger()}
}

func (l *zerologLogger) Enabled(_ context.Context, level Level) bool {
	zl := toZerologLevel(level)
	return zl >= l.zl.GetLevel() && zl >= zerolog.GlobalLevel()
}

// emit writes fields onto ev. A nil event (level disabled) is a no-op.
func emit(ev *zerolog.Event, msg string, fields []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(fields); i += 2 {
		key, val := pair(fields, i)
		switch v := val.(type) {
		case error:
			ev = withError(ev, key, v)
		case time.Duration:
			ev = ev.Int64(key, v.Milliseconds())
		case zerolog.LogObjectMarshaler:
			ev = ev.Object(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}

func pair(fields []any, i int) (string, any) {
	if i+1 >= len(fields) {
		// dangling value, same treatment as slog
		return "!BADKEY", fields[i]
	}
	if s, ok := fields[i].(string); ok {
		return s, fields[i+1]
	}
	return fmt.Sprint(fields[i]), fields[i+1]
}

func withError(ev *zerolog.Event, key string, err error) *zerolog.Event {
	ev = ev.Str(key, err.Error())
	if st := extractStacktrace(err); st != "" {
		ev = ev.Str(StacktraceAttrKey, st)
	}
	return ev
}

// extractStacktrace returns the first stack recorded in err's chain.
func extractStacktrace(err error) string {
	for e := err; e != nil; e = cerrors.UnwrapOnce(e) {
		details := cerrors.GetSafeDetails(e).SafeDetails
		if len(details) > 0 && details[0] != "" {
			return details[0]
		}
	}
	return ""
}

func toZerologLevel(level Level) zerolog.Level {
	switch {
	case level <= LevelDebug:
		return zerolog.DebugLevel
	case level <= LevelInfo:
		return zerolog.InfoLevel
	case level <= LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
