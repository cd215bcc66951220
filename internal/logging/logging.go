// Package logging adapts zerolog to the Info/Warn/Error logger interface
// every geoexec package accepts.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// ErrInvalidFormat is returned for an unknown output format.
var ErrInvalidFormat = errors.New("invalid log format")

// Options configures a Logger.
type Options struct {
	// Level is a zerolog level name. Default: info.
	Level string

	// Format is console or json. Default: console.
	Format string

	// Out receives log lines. Default: os.Stderr.
	Out io.Writer

	// NoColor disables ANSI colors in console output.
	NoColor bool
}

// Logger is a zerolog-backed logger with key/value arguments.
// It is safe for concurrent use.
type Logger struct {
	zl zerolog.Logger
}

// New creates a Logger.
func New(opts Options) (*Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var w io.Writer
	switch opts.Format {
	case "", FormatConsole:
		w = consoleWriter(out, opts.NoColor)
	case FormatJSON:
		w = out
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, opts.Format)
	}

	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Logger{zl: zl}, nil
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func consoleWriter(out io.Writer, noColor bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		NoColor:    noColor,
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("  %s  ", i)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("%s=", i)
		},
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprintf("%s", i)
		},
	}
}

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.log(l.zl.Info(), msg, args) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.log(l.zl.Warn(), msg, args) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { l.log(l.zl.Error(), msg, args) }

// Zerolog returns the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

// log attaches args as alternating key/value pairs. A trailing key without
// a value is logged under "!BADKEY".
func (l *Logger) log(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		if i+1 == len(args) {
			e = e.Interface("!BADKEY", args[i])
			break
		}
		key := fmt.Sprint(args[i])
		switch v := args[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case fmt.Stringer:
			e = e.Str(key, v.String())
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}
