// Package log provides structured, colored logging for Klingwallet.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Component loggers for the engine's subsystems.
var (
	Vault   zerolog.Logger
	Ledger  zerolog.Logger
	Bitcoin zerolog.Logger
	EVM     zerolog.Logger
	Fee     zerolog.Logger
	Builder zerolog.Logger
	Price   zerolog.Logger
	Engine  zerolog.Logger
	RPC     zerolog.Logger
	Storage zerolog.Logger
	Node    zerolog.Logger
)

func init() {
	Logger = NewConsoleLogger(os.Stdout, "info")
	initComponentLoggers()
}

// Init initializes the logger with the given configuration.
// When file is non-empty, logs go to the console (colored or JSON depending
// on jsonOutput) and to the file, which is always JSON.
func Init(level string, jsonOutput bool, file string) error {
	switch {
	case file != "":
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		var console io.Writer = os.Stdout
		if !jsonOutput {
			console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		}
		Logger = zerolog.New(zerolog.MultiLevelWriter(console, f)).
			Level(parseLevel(level)).
			With().
			Timestamp().
			Logger()
	case jsonOutput:
		Logger = NewJSONLogger(os.Stdout, level)
	default:
		Logger = NewConsoleLogger(os.Stdout, level)
	}

	initComponentLoggers()
	return nil
}

// Disable silences all logging. Tests call this instead of Init.
func Disable() {
	Logger = zerolog.Nop()
	initComponentLoggers()
}

// NewConsoleLogger creates a colored console logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}
	return zerolog.New(output).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ValidLevel reports whether level is a name Init understands.
func ValidLevel(level string) bool {
	switch level {
	case "trace", "debug", "info", "warn", "error":
		return true
	}
	return false
}

func initComponentLoggers() {
	Vault = WithComponent("vault")
	Ledger = WithComponent("ledger")
	Bitcoin = WithComponent("bitcoin")
	EVM = WithComponent("evm")
	Fee = WithComponent("fee")
	Builder = WithComponent("builder")
	Price = WithComponent("price")
	Engine = WithComponent("engine")
	RPC = WithComponent("rpc")
	Storage = WithComponent("storage")
	Node = WithComponent("node")
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithWallet returns a child of l tagged with a wallet_id field.
func WithWallet(l zerolog.Logger, walletID string) zerolog.Logger {
	return l.With().Str("wallet_id", walletID).Logger()
}

// Debug logs a debug message.
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Info logs an info message.
func Info() *zerolog.Event {
	return Logger.Info()
}

// Warn logs a warning message.
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Error logs an error message.
func Error() *zerolog.Event {
	return Logger.Error()
}

// Timed logs how long an operation took at debug level when the returned
// func is called.
func Timed(l zerolog.Logger, op string) func() {
	start := time.Now()
	return func() {
		l.Debug().
			Str("operation", op).
			Dur("duration", time.Since(start)).
			Msg("timing")
	}
}
