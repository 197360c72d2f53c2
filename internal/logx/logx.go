package logx

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultFile matches the log file name operators already grep on the backup host.
const DefaultFile = "backup_log.txt"

// Options describes where and how the run logs.
type Options struct {
	Level     string // trace|debug|info|warn|error
	Format    string // console|json (stdout only; the file is always JSON)
	File      string // "" or "-" disables the file sink
	MaxSizeMB int
	Stdout    io.Writer
}

// FromEnv reads logging options from env vars.
// - LOG_LEVEL       : trace|debug|info|warn|error (default: info)
// - LOG_FORMAT      : json|console                (default: console)
// - LOG_FILE        : path or "-"                 (default: backup_log.txt)
// - LOG_MAX_SIZE_MB : rotation threshold          (default: 10)
func FromEnv() Options {
	size, err := strconv.Atoi(getenv("LOG_MAX_SIZE_MB", "10"))
	if err != nil || size <= 0 {
		size = 10
	}
	return Options{
		Level:     strings.ToLower(getenv("LOG_LEVEL", "info")),
		Format:    strings.ToLower(getenv("LOG_FORMAT", "console")),
		File:      getenv("LOG_FILE", DefaultFile),
		MaxSizeMB: size,
		Stdout:    os.Stdout,
	}
}

// New builds the process logger. It is created once in main and handed to
// every component; packages never reach for a global logger.
func New(opt Options) zerolog.Logger {
	// Always use UTC timestamps in RFC3339.
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }

	out := opt.Stdout
	if out == nil {
		out = os.Stdout
	}
	if opt.Format != "json" {
		out = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = opt.Stdout
			if w.Out == nil {
				w.Out = os.Stdout
			}
			w.TimeFormat = time.RFC3339
		})
	}

	var w io.Writer = out
	if f := strings.TrimSpace(opt.File); f != "" && f != "-" {
		w = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   f,
			MaxSize:    opt.MaxSizeMB,
			MaxBackups: 5,
			Compress:   false,
		})
	}

	return zerolog.New(w).With().Timestamp().Logger().Level(parseLevel(opt.Level))
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// getenv returns the env var value if set and non-empty, otherwise def.
func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}
