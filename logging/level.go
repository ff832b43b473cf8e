package logging

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a typed log level, ordered the same as zap's.
type Level int

const (
	// DEBUG level.
	DEBUG Level = iota
	// INFO level.
	INFO
	// WARN level.
	WARN
	// ERROR level.
	ERROR
)

// DefaultTimeFormatStr is used by appenders that render a human timestamp.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// GlobalLogLevel backs zap loggers constructed via AsZap, so that changes to
// GlobalLogLevel itself are observed by any SugaredLogger derived from this
// package. A Logger's own SetLevel does not change it.
var GlobalLogLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// AsZap converts to the equivalent zapcore.Level.
func (level Level) AsZap() zapcore.Level {
	switch level {
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// String renders the level the way the console appenders expect.
func (level Level) String() string {
	switch level {
	case DEBUG:
		return "Debug"
	case INFO:
		return "Info"
	case WARN:
		return "Warn"
	case ERROR:
		return "Error"
	default:
		return "Unknown"
	}
}

// LevelFromString parses a case-insensitive level name.
func LevelFromString(levelStr string) (Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return DEBUG, nil
	case "info", "":
		return INFO, nil
	case "warn":
		return WARN, nil
	case "error":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", levelStr)
	}
}

// AtomicLevel is a thread safe mutable Level, mirroring zap.AtomicLevel but
// keyed off our own Level type.
type AtomicLevel struct {
	v *atomic.Int32
}

// NewAtomicLevelAt constructs an AtomicLevel initialized to level.
func NewAtomicLevelAt(level Level) AtomicLevel {
	a := AtomicLevel{v: new(atomic.Int32)}
	a.Set(level)
	return a
}

// Set stores a new level.
func (a *AtomicLevel) Set(level Level) {
	a.v.Store(int32(level))
}

// Get reads the current level.
func (a *AtomicLevel) Get() Level {
	return Level(a.v.Load())
}
