// Package logging builds the zerolog loggers used by the command line.
package logging

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// RFC3339Milli is the timestamp format of every log line.
const RFC3339Milli = "2006-01-02T15:04:05.000Z07:00"

// Format selects how log lines are rendered.
type Format string

const (
	FormatText      Format = "text"
	FormatColourful Format = "colourful"
	FormatJSON      Format = "json"
)

// Config describes a logger.
type Config struct {
	// Level is a zerolog level name: trace, debug, info, warn, error.
	Level string

	// Format defaults to colourful.
	Format Format

	// Caller adds the source file and line to every entry.
	Caller bool
}

// ParseFormat parses a format name. "color" and "colour" are accepted for
// colourful.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "colourful", "colorful", "colour", "color":
		return FormatColourful, nil
	case "text", "plain":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format %q (use text, colourful or json)", s)
	}
}

// New creates a logger writing to out.
func New(cfg Config, out io.Writer) (zerolog.Logger, error) {
	levelName := cfg.Level
	if levelName == "" {
		levelName = zerolog.LevelInfoValue
	}
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zerolog.TimeFieldFormat = RFC3339Milli
	zerolog.CallerMarshalFunc = shortCallerEncoder

	var w io.Writer
	switch cfg.Format {
	case FormatJSON:
		w = out
	case FormatText, FormatColourful, "":
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: RFC3339Milli,
			FormatLevel: func(i interface{}) string {
				return strings.ToUpper(fmt.Sprintf("%s", i))
			},
			FormatCaller: func(i interface{}) string {
				return filepath.Base(fmt.Sprintf("%s", i))
			},
			NoColor: cfg.Format == FormatText,
		}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", cfg.Format)
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	return ctx.Logger(), nil
}

func shortCallerEncoder(_ uintptr, file string, line int) string {
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}
