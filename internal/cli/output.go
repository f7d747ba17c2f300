package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/bryan-buckman/instarelay/internal/config"
	"github.com/bryan-buckman/instarelay/internal/logging"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Runtime failure
	ExitCommandError = 2 // Bad flags, arguments or configuration
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// configError maps an invalid configuration to ExitCommandError.
func configError(err error) error {
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return WrapExitError(ExitFailure, "load configuration", err)
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(opts *RootOptions, cfg *config.Config, w io.Writer) logging.Logger {
	level := cfg.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	return logging.NewLogger(logging.Options{Level: level, Format: cfg.LogFormat, Output: w, Service: "instarelay"})
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
