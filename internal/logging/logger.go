// Package logging builds the charmbracelet logger shared by the commands.
// Level, prefix and file output come from MACHSCOPE_* environment variables.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	EnvLevel  = "MACHSCOPE_LOG_LEVEL"
	EnvPrefix = "MACHSCOPE_LOG_PREFIX"
	EnvToFile = "MACHSCOPE_LOG_TO_FILE"
)

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to a log level. Anything else
// is info.
func ParseLevel(s string) log.Level {
	switch strings.ToLower(s) {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// NewLoggerWithWriter creates a new logger with the provided writer
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           ParseLevel(os.Getenv(EnvLevel)),
	})

	prefix := os.Getenv(EnvPrefix)
	if prefix == "" {
		prefix = "machscope "
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// LogFilePath returns the timestamped file MACHSCOPE_LOG_TO_FILE=1 asks
// for, or "" when logs stay on the terminal.
func LogFilePath(now time.Time) string {
	if os.Getenv(EnvToFile) != "1" {
		return ""
	}
	return fmt.Sprintf("machscope-%s-debug.log", now.Format("20060102-150405"))
}

// NewLogger creates a logger writing to path, or to fallback when path is
// empty or cannot be opened. Level and prefix come from the environment:
// MACHSCOPE_LOG_LEVEL: debug, info, warn, error (default: info)
// MACHSCOPE_LOG_PREFIX: prefix for log messages (default: "machscope ")
func NewLogger(path string, fallback io.Writer) *LoggerCloser {
	if path != "" {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			return NewLoggerWithWriter(f)
		}
	}
	return NewLoggerWithWriter(fallback)
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return strings.EqualFold(os.Getenv(EnvLevel), "debug")
}
