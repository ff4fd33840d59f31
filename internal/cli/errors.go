// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types, exit codes and the one-line failure format.
//
// STANDARDIZED PATTERN:
//   - Commands return errors; Execute prints them once and picks the exit code
//   - Conversation failures that the user can continue past are printed by
//     the command itself and do not change the exit code
//   - Every printed failure is exactly one "ERROR: ..." or "WARNING: ..." line

package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jeranaias/rigchat/internal/session"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution, including conversation
	// turns that failed without ending the session.
	ExitSuccess = 0
	// ExitGeneralError indicates a failed subcommand (history, fetch, config).
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments.
	ExitUsageError = 2
	// ExitConfigError indicates a configuration file or settings error.
	ExitConfigError = 3
	// ExitBackendUnavailable indicates the model backend cannot serve a
	// session at all.
	ExitBackendUnavailable = 10
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents a failed subcommand.
type CommandError struct {
	Command string // Command that failed (e.g., "history")
	Action  string // Action being performed (e.g., "export")
	Err     error
}

func (e *CommandError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s %s failed: %v", e.Command, e.Action, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationError represents invalid user input.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("; example: %s", e.Example)
	}
	return msg
}

// ConfigError represents a configuration that could not be loaded.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// usageError wraps cobra's own argument and flag errors.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// NewCommandError creates a new command error.
func NewCommandError(command, action string, err error) error {
	return &CommandError{Command: command, Action: action, Err: err}
}

// NewValidationError creates a new validation error.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// ErrMissingArgument creates an error for missing required arguments.
func ErrMissingArgument(argName, usage string) error {
	return &ValidationError{Field: argName, Reason: "required argument missing", Example: usage}
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// ExitCode determines the process exit code for an error returned by a
// command.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var validationErr *ValidationError
	var usageErr *usageError
	if errors.As(err, &validationErr) || errors.As(err, &usageErr) {
		return ExitUsageError
	}

	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return ExitConfigError
	}

	if session.IsFatal(err) {
		return ExitBackendUnavailable
	}

	return ExitGeneralError
}

// =============================================================================
// FAILURE LINES
// =============================================================================

// severityOf returns the label printed in front of err.
func severityOf(err error) string {
	var te *session.TurnError
	if errors.As(err, &te) {
		return te.Category.Severity()
	}
	return "ERROR"
}

// printFailure writes err as one line, styled when w is a terminal.
func printFailure(w io.Writer, err error) {
	if err == nil {
		return
	}
	printLine(w, severityOf(err), err.Error())
}

// printWarning writes one WARNING line.
func printWarning(w io.Writer, format string, args ...any) {
	printLine(w, "WARNING", fmt.Sprintf(format, args...))
}

func printLine(w io.Writer, severity, msg string) {
	msg = strings.Join(strings.Fields(msg), " ")
	label := severity + ":"
	switch severity {
	case "ERROR":
		label = RenderConditional(ErrorStyle, label)
	case "WARNING":
		label = RenderConditional(WarningStyle, label)
	}
	fmt.Fprintf(w, "%s %s\n", label, msg)
}
