package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/constants"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

const (
	FormatAuto    = "auto"
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Field names shared by every component so log lines can be filtered per attempt.
const (
	FieldService   = "service"
	FieldVersion   = "version"
	FieldAttemptID = "attempt_id"
	FieldState     = "state"
	FieldStep      = "step"
)

type Config struct {
	Level  string
	Format string
	Output io.Writer
}

// New builds a zerolog logger. An empty level falls back to $DEPLOYCTL_LOG_LEVEL, then info.
func New(cfg Config) (zerolog.Logger, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	levelStr := strings.TrimSpace(cfg.Level)
	if levelStr == "" {
		levelStr = os.Getenv(constants.EnvVarLogLevel)
	}
	level, err := ParseLevel(levelStr)
	if err != nil {
		return zerolog.Nop(), err
	}

	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format == "" || format == FormatAuto {
		format = FormatJSON
		if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			format = FormatConsole
		}
	}

	switch format {
	case FormatConsole:
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	case FormatJSON:
	default:
		return zerolog.Nop(), fmt.Errorf("unsupported log format %q (use auto, console or json)", cfg.Format)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

func ParseLevel(raw string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, nil
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled", "off", "none":
		return zerolog.Disabled, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", raw)
	}
}
