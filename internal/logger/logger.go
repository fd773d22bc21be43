// Package logger implements leveled, colorized logging for the gateway.
package logger

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gookit/color"
)

// Level is a log severity level.
type Level int

// Log levels, in increasing severity.
const (
	Debug Level = iota + 1
	Info
	Warn
	Error
)

// Destination selects where log lines are written.
type Destination int

const (
	// DestinationStdout writes logs to the standard output.
	DestinationStdout Destination = iota

	// DestinationFile writes logs to a file.
	DestinationFile
)

// Writer is implemented by anything that can receive log entries,
// *Logger included. The gateway's components currently hold a *Logger
// directly.
type Writer interface {
	Log(level Level, format string, args ...interface{})
}

// Logger is a leveled log handler.
type Logger struct {
	level        Level
	destinations map[Destination]struct{}

	mutex  sync.Mutex
	file   *os.File
	buffer bytes.Buffer
}

// New allocates a Logger. filePath is only opened when DestinationFile is requested.
func New(level Level, destinations map[Destination]struct{}, filePath string) (*Logger, error) {
	lg := &Logger{
		level:        level,
		destinations: destinations,
	}

	if _, ok := destinations[DestinationFile]; ok {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		lg.file = f
	}

	return lg, nil
}

// Close releases resources held by the logger.
func (lg *Logger) Close() {
	if lg.file != nil {
		lg.file.Close()
	}
}

func levelLabel(level Level, colored bool) string {
	switch level {
	case Debug:
		if colored {
			return color.RenderString(color.Debug.Code(), "DEB")
		}
		return "DEB"
	case Info:
		if colored {
			return color.RenderString(color.Green.Code(), "INF")
		}
		return "INF"
	case Warn:
		if colored {
			return color.RenderString(color.Warn.Code(), "WAR")
		}
		return "WAR"
	case Error:
		if colored {
			return color.RenderString(color.Error.Code(), "ERR")
		}
		return "ERR"
	}
	return "???"
}

// Log writes a log entry if level meets the configured threshold.
func (lg *Logger) Log(level Level, format string, args ...interface{}) {
	if level < lg.level {
		return
	}

	lg.mutex.Lock()
	defer lg.mutex.Unlock()

	now := time.Now().Format("2006/01/02 15:04:05")

	if _, ok := lg.destinations[DestinationStdout]; ok {
		lg.buffer.Reset()
		lg.buffer.WriteString(color.RenderString(color.Gray.Code(), now))
		lg.buffer.WriteByte(' ')
		lg.buffer.WriteString(levelLabel(level, true))
		lg.buffer.WriteByte(' ')
		fmt.Fprintf(&lg.buffer, format, args...)
		lg.buffer.WriteByte('\n')
		os.Stdout.Write(lg.buffer.Bytes())
	}

	if _, ok := lg.destinations[DestinationFile]; ok {
		lg.buffer.Reset()
		lg.buffer.WriteString(now)
		lg.buffer.WriteByte(' ')
		lg.buffer.WriteString(levelLabel(level, false))
		lg.buffer.WriteByte(' ')
		fmt.Fprintf(&lg.buffer, format, args...)
		lg.buffer.WriteByte('\n')
		lg.file.Write(lg.buffer.Bytes())
	}
}
