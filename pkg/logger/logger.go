// Package logger provides the colored banner/section printer used at
// startup plus a structured zap logger for everything else: per-packet,
// per-connection, and per-channel log lines carry typed fields instead of
// formatted strings.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ANSI color codes, used only by the decorative banner/section printer.
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorWhite  = "\033[37m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[90m"
)

// Log levels, kept for callers that still want the teacher's named levels
// instead of zapcore.Level directly.
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
)

var base *zap.Logger
var sugar *zap.SugaredLogger

func init() {
	Reset(LevelInfo)
}

// Reset rebuilds the default logger at the given level. init and SetLevel
// call it; the logger is package-local rather than zap's global one.
func Reset(level int) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.Level = zap.NewAtomicLevelAt(toZapLevel(level))
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to a no-op logger rather than crash the caller.
		l = zap.NewNop()
	}
	base = l
	sugar = base.Sugar()
}

func toZapLevel(level int) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetLevel sets the minimum log level.
func SetLevel(level int) { Reset(level) }

// L returns the structured zap.Logger for call sites that want typed
// fields (zap.String, zap.Uint16, ...).
func L() *zap.Logger { return base }

// Debug logs a debug message.
func Debug(format string, args ...interface{}) { sugar.Debugf(format, args...) }

// Info logs an informational message.
func Info(format string, args ...interface{}) { sugar.Infof(format, args...) }

// Warn logs a warning message.
func Warn(format string, args ...interface{}) { sugar.Warnf(format, args...) }

// Error logs an error message.
func Error(format string, args ...interface{}) { sugar.Errorf(format, args...) }

// Success logs an info-level message tagged as a success; zap has no
// dedicated level for this so it rides on Info with a static field.
func Success(format string, args ...interface{}) {
	sugar.With("outcome", "success").Infof(format, args...)
}

// Fatal logs a fatal error and exits.
func Fatal(format string, args ...interface{}) {
	sugar.Errorf(format, args...)
	os.Exit(1)
}

// Section prints a section header. Decorative; not routed through zap.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n%s╔%s╗%s\n", ColorCyan, border, ColorReset)
	fmt.Printf("%s║%s %-57s %s║%s\n", ColorCyan, ColorReset, title, ColorCyan, ColorReset)
	fmt.Printf("%s╚%s╝%s\n\n", ColorCyan, border, ColorReset)
}

// Banner prints the application banner.
func Banner(title, version string) {
	banner := `
╔═══════════════════════════════════════════════════════════╗
║                                                           ║
║   ██████╗  ██╗   ██╗██████╗ ██████╗                      ║
║   ██╔══██╗ ██║   ██║██╔══██╗██╔══██╗                     ║
║   ██████╔╝ ██║   ██║██║  ██║██████╔╝                     ║
║   ██╔══██╗ ██║   ██║██║  ██║██╔═══╝                      ║
║   ██║  ██║ ╚██████╔╝██████╔╝██║                          ║
║   ╚═╝  ╚═╝  ╚═════╝ ╚═════╝ ╚═╝                          ║
║                                                           ║
║              %s%-37s%s║
║                    %sVersion %-7s%s                      ║
║                                                           ║
╚═══════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, ColorCyan, title, ColorReset, ColorGreen, version, ColorReset)
}
