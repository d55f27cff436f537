package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fraudlab/fraudforest/pkg/errors"
)

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

var (
	providerMu sync.RWMutex
	provider   LoggerProvider = NewZerologProvider(os.Stderr, LevelInfo)
)

// SetupLogger installs a JSON zerolog provider writing to w as the process
// default and routes errors.Warn to it. A nil writer means stderr.
func SetupLogger(loglevel string, w io.Writer) error {
	level, err := ParseLevel(loglevel)
	if err != nil {
		return err
	}
	if w == nil {
		w = os.Stderr
	}
	p := NewZerologProvider(w, level)
	SetProvider(p)

	warnLogger := p.base.With().Str(ComponentKey, "warnings").Logger()
	errors.SetZerologWarnFunc(func(warning error) {
		ev := warnLogger.Warn()
		if obj, ok := warning.(zerolog.LogObjectMarshaler); ok {
			ev = ev.EmbedObject(obj)
		}
		ev.Msg(warning.Error())
	})
	return nil
}

// SetProvider replaces the process-wide provider.
func SetProvider(p LoggerProvider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	provider = p
}

// GetLogger returns the default logger of the current provider.
func GetLogger() Logger {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return provider.GetLogger()
}

// GetLoggerWithName returns a logger tagged with the component name.
func GetLoggerWithName(name string) Logger {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return provider.GetLoggerWithName(name)
}

// ParseLevel converts "debug", "info", "warn" or "error" into a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info", "":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, errors.NewValidationError("log_level", "must be one of debug, info, warn, error", level)
	}
}

// ToLogLevel is ParseLevel for trusted input. It panics on an unknown level.
func ToLogLevel(level string) Level {
	l, err := ParseLevel(level)
	if err != nil {
		panic(fmt.Sprintf("invalid log level :%s", level))
	}
	return l
}
