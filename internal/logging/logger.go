package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type closer func()

type Options struct {
	File       string
	Level      string
	Console    bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Stdout replaces os.Stdout; tests use it to capture output.
	Stdout io.Writer
}

func parseLevel(level string) zerolog.Level {
	if level == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// NewLogger builds the process logger and installs it as the global
// zerolog logger. The returned closer flushes the rotating file, if any.
func NewLogger(o Options) (zerolog.Logger, closer, error) {
	var out io.Writer = os.Stdout
	if o.Stdout != nil {
		out = o.Stdout
	}
	if o.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{out}
	closeFn := func() {}
	if o.File != "" {
		if err := os.MkdirAll(filepath.Dir(o.File), 0o755); err != nil {
			return zerolog.Nop(), closeFn, err
		}
		lj := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    o.MaxSizeMB,
			MaxBackups: o.MaxBackups,
			MaxAge:     o.MaxAgeDays,
		}
		writers = append(writers, lj)
		closeFn = func() { _ = lj.Close() }
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	base := zerolog.New(io.MultiWriter(writers...)).Level(parseLevel(o.Level)).With().Timestamp().Caller().Logger()
	log.Logger = base
	return base, closeFn, nil
}
