// Package safety classifies supervisor-manager commands as mutating,
// read-only, or unrecognized, adapted from the teacher's
// internal/ai/safety read-only-command allowlist (there used to let an AI
// agent run diagnostic commands without human approval; here it runs the
// opposite direction, confirming an argv the Action Executor is about to
// run really is the state-changing command the Decision Engine chose and
// not a read-only status probe or something safety.Classify can't place at
// all). It is the Gate Evaluator's supervisor-command safety check
// (spec.md §10).
package safety

import (
	"fmt"
	"strings"
)

// Classification is the closed set of verdicts Classify returns.
type Classification string

const (
	Mutating Classification = "mutating"
	ReadOnly Classification = "read_only"
	Unknown  Classification = "unknown"
)

// mutatingPrefixes cover every argv internal/supervisor.StopCommand builds,
// plus the same managers' other stop, restart, kill and delete verbs.
var mutatingPrefixes = []string{
	"systemctl stop",
	"systemctl restart",
	"systemctl kill",
	"docker stop",
	"docker restart",
	"docker kill",
	"ctr task kill",
	"ctr task restart",
	"pm2 stop",
	"pm2 restart",
	"pm2 delete",
	"supervisorctl stop",
	"supervisorctl restart",
}

// readOnlyPrefixes are the same managers' inspection/status verbs: safe to
// run, but never an acceptable substitute for a commanded stop or restart.
var readOnlyPrefixes = []string{
	"systemctl status",
	"systemctl is-active",
	"systemctl is-enabled",
	"systemctl list-units",
	"docker ps",
	"docker inspect",
	"docker logs",
	"docker top",
	"docker info",
	"docker version",
	"pm2 list",
	"pm2 status",
	"pm2 describe",
	"supervisorctl status",
	"ctr task ls",
	"ctr container ls",
}

// Classify reports what kind of supervisor command argv is, by prefix match
// against its joined, lowercased form.
func Classify(argv []string) Classification {
	if len(argv) == 0 {
		return Unknown
	}
	normalized := strings.ToLower(strings.Join(argv, " "))
	for _, p := range readOnlyPrefixes {
		if strings.HasPrefix(normalized, p) {
			return ReadOnly
		}
	}
	for _, p := range mutatingPrefixes {
		if strings.HasPrefix(normalized, p) {
			return Mutating
		}
	}
	return Unknown
}

// RequireMutating fails unless argv classifies as a recognized supervisor
// mutation, the last check before the Tool Runner executes a supervisor
// stop/restart (spec.md §4.I).
func RequireMutating(argv []string) error {
	switch Classify(argv) {
	case Mutating:
		return nil
	case ReadOnly:
		return fmt.Errorf("safety: %q is a read-only supervisor command, not a mutation", strings.Join(argv, " "))
	default:
		return fmt.Errorf("safety: %q is not a recognized supervisor command", strings.Join(argv, " "))
	}
}
