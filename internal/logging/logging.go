package logging

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file rotation limits.
const (
	maxSizeMB  = 10
	maxBackups = 3
	maxAgeDays = 28
)

// New returns an info level logger writing to stderr and the rotated log file.
func New() zerolog.Logger {
	return NewWithLevel("info")
}

// NewWithLevel is New with an explicit level; unknown levels mean info. When
// the log directory cannot be created the logger writes to stderr only.
func NewWithLevel(level string) zerolog.Logger {
	path := getLogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log := newLogger(os.Stderr, io.Discard, level)
		log.Warn().Err(err).Str("path", path).Msg("Log file disabled")
		return log
	}
	return newLogger(os.Stderr, rotatingFile(path), level)
}

func rotatingFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}
}

// newLogger writes human readable lines to console and JSON to file.
func newLogger(console, file io.Writer, level string) zerolog.Logger {
	out := zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339},
		file,
	)
	return zerolog.New(out).
		Level(ParseLevel(level)).
		With().Timestamp().Caller().
		Logger()
}

// ParseLevel maps a config string to a zerolog level. Empty and unknown
// strings mean info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Path returns where the log file is written.
func Path() string {
	return getLogPath()
}

func getLogPath() string {
	home := os.Getenv("HOME")

	var dir string
	switch runtime.GOOS {
	case "darwin":
		dir = filepath.Join(home, "Library", "Logs")
	case "windows":
		dir = os.Getenv("LOCALAPPDATA")
	default:
		dir = os.Getenv("XDG_STATE_HOME")
		if dir == "" {
			dir = filepath.Join(home, ".local", "state")
		}
	}
	return filepath.Join(dir, "mic-stream", "mic-stream.log")
}
