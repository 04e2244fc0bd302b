package main

import (
	"errors"
	"os"

	"github.com/proctriage/triage/internal/apperrors"
	"github.com/spf13/cobra"
)

// Result-level exit codes from spec.md §6's table. The error-category codes
// (capability, permission, version, lock, session, internal, io, timeout)
// come from apperrors.ExitCode instead.
const (
	exitClean           = 0
	exitPlanReady       = 1
	exitActionsOK       = 2
	exitPartialFail     = 3
	exitPolicyBlocked   = 4
	exitGoalUnreachable = 5
	exitInterrupted     = 6
	exitArgs            = 10
)

// argError tags a cobra argument-validation failure so exitCodeForErr can
// tell it apart from an internal pipeline error. CLI argument parsing is an
// explicit Non-goal of the core (spec.md §1), so this boundary lives
// entirely in cmd/triage, not in the apperrors taxonomy.
type argError struct{ err error }

func (e *argError) Error() string { return e.err.Error() }
func (e *argError) Unwrap() error { return e.err }

// wrapArgs adapts a cobra.PositionalArgs validator so its failures map to
// exit code 10 (args) instead of falling through to the internal default.
func wrapArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return &argError{err: err}
		}
		return nil
	}
}

// exitCodeForErr maps a returned error to a process exit code: an
// argError maps to 10, a tagged *apperrors.Error maps through its Code,
// anything else is treated as an internal error (20).
func exitCodeForErr(err error) int {
	var argErr *argError
	if errors.As(err, &argErr) {
		return exitArgs
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return apperrors.ExitCode(appErr.Code)
	}
	return apperrors.ExitCode(apperrors.CodeInternal)
}

// exitProcess terminates the process with a result-level code. Subcommands
// that succeed but must report something other than 0 (plan_ready,
// actions_ok, ...) call this directly rather than returning from RunE,
// since a nil RunE return always exits 0.
func exitProcess(code int) {
	os.Exit(code)
}
