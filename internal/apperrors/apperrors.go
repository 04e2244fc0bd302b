// Package apperrors is the closed error taxonomy the triage pipeline uses to
// distinguish failure categories, in the spirit of the teacher's
// internal/ai/circuit.ErrorCategory classification (see
// internal/ai/circuit/breaker.go): a small fixed set of codes, never raw
// exception types, each carrying enough context for a caller to decide
// whether to retry, surface to a human, or abort.
package apperrors

import "fmt"

// Code is one of the machine-readable error categories from spec.md §7.
type Code string

const (
	// Identity / concurrency
	CodeIdentityMismatch Code = "IdentityMismatch"
	CodeLockBusy         Code = "LockBusy"
	CodeSessionNotFound  Code = "SessionNotFound"
	CodeSessionExpired   Code = "SessionExpired"

	// Capability / environment
	CodeCapabilityMissing Code = "CapabilityMissing"
	CodePermissionDenied  Code = "PermissionDenied"
	CodeVersionMismatch   Code = "VersionMismatch"

	// Policy / safety
	CodeProtected        Code = "Protected"
	CodeGateFailed       Code = "GateFailed"
	CodeBudgetExhausted  Code = "BudgetExhausted"

	// Transient
	CodeTimeout Code = "Timeout"
	CodeIoError Code = "IoError"

	// Fatal
	CodeInternal Code = "Internal"
)

// Error is the user-visible failure shape: a machine code, a human message,
// a recoverable flag, and a recovery hint (spec.md §7).
type Error struct {
	Code           Code
	Message        string
	Recoverable    bool
	RecoveryAction string
	Gate           string // populated only for CodeGateFailed
	Cause          error
}

func (e *Error) Error() string {
	if e.Gate != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Code, e.Gate, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a non-recoverable error of the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an error of the given code wrapping a lower-level cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithRecovery marks an error as recoverable with a recovery hint.
func (e *Error) WithRecovery(action string) *Error {
	e.Recoverable = true
	e.RecoveryAction = action
	return e
}

// IdentityMismatch reports that a re-read identity no longer matches the
// planned one (invariant 1 in spec.md §8: no signal is sent in this case).
func IdentityMismatch(target, observed string) *Error {
	return (&Error{
		Code:    CodeIdentityMismatch,
		Message: fmt.Sprintf("identity mismatch: planned %s, observed %s", target, observed),
	}).WithRecovery("Regenerate plan")
}

// GateFailed reports a named gate blocking an action.
func GateFailed(gate, reason string) *Error {
	return &Error{Code: CodeGateFailed, Gate: gate, Message: reason}
}

// LockBusy reports that the per-user lock is held by a live holder.
func LockBusy(holder string) *Error {
	return (&Error{
		Code:    CodeLockBusy,
		Message: fmt.Sprintf("lock held by %s", holder),
	}).WithRecovery("Wait for the other run to finish, or steal the lock if it is stale")
}

// BudgetExhausted reports an alpha/FDR budget that can't cover a rejection.
func BudgetExhausted(remaining, needed float64) *Error {
	return (&Error{
		Code:    CodeBudgetExhausted,
		Message: fmt.Sprintf("alpha wealth %.6f insufficient for cost %.6f", remaining, needed),
	}).WithRecovery("Wait for budget replenishment or raise the FDR budget in policy")
}

// Internal marks an invariant violation. Internal errors abort the session
// with state failed and are never silently repaired (spec.md §7).
func Internal(message string) *Error {
	return &Error{Code: CodeInternal, Message: message}
}

// Is supports errors.Is comparisons against another *Error: any target
// *Error with the same Code matches, whatever its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// exitCodes maps each Code to the cmd/triage process exit code from
// spec.md §6's table. Codes outside this taxonomy (bad CLI arguments) are
// assigned directly by cmd/triage, not here.
var exitCodes = map[Code]int{
	CodeCapabilityMissing: 11,
	CodePermissionDenied:  12,
	CodeVersionMismatch:   13,
	CodeLockBusy:          14,
	CodeSessionNotFound:   15,
	CodeSessionExpired:    15,
	CodeInternal:          20,
	CodeIoError:           21,
	CodeTimeout:           22,
}

// ExitCode reports the process exit code for code, or 20 (internal) for any
// code that has no dedicated process-level exit (IdentityMismatch,
// GateFailed, BudgetExhausted, Protected are session-level outcomes handled
// by the caller, not process-terminating errors).
func ExitCode(code Code) int {
	if ec, ok := exitCodes[code]; ok {
		return ec
	}
	return 20
}

// CodeOf extracts the Code from an error, or "" if it isn't an *Error.
func CodeOf(err error) Code {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
		return e.Code
	}
	return ""
}
