// Package executor is the Action Executor (spec.md §4.I). It applies one
// staged PlanAction against one re-verified process identity, using
// golang.org/x/sys/unix for direct signals and internal/supervisor +
// internal/toolrunner for supervisor-routed actions. Contract: at-most-once
// semantics per (session_id, target identity, action) — callers (the
// session orchestrator) are responsible for consulting progress.jsonl
// before invoking Execute and skipping re-invocation when a terminal
// outcome already exists (spec.md §4.I: "re-invocation after interruption
// is a no-op if prior outcome exists").
package executor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/proctriage/triage/internal/model"
	"github.com/proctriage/triage/internal/safety"
	"github.com/proctriage/triage/internal/supervisor"
	"github.com/proctriage/triage/internal/toolrunner"
	"golang.org/x/sys/unix"
)

// IdentityReader re-reads a process's identity tuple immediately before
// acting (mirrors internal/probe, injected so this package stays free of a
// direct gopsutil dependency).
type IdentityReader func(ctx context.Context, pid int) (model.Identity, bool, error)

// Executor applies PlanActions.
type Executor struct {
	Runner          *toolrunner.Runner
	Docker          *supervisor.DockerResolver // nil if no docker daemon is reachable
	ReadIdentity    IdentityReader
	PollInterval    time.Duration
}

// New builds an Executor. docker may be nil.
func New(runner *toolrunner.Runner, docker *supervisor.DockerResolver, readIdentity IdentityReader) *Executor {
	return &Executor{Runner: runner, Docker: docker, ReadIdentity: readIdentity, PollInterval: 250 * time.Millisecond}
}

// Execute applies action against target, re-verifying identity immediately
// before acting (the one gate the executor itself must always re-run,
// regardless of the Gate Evaluator's own identity_valid check, since time
// passes between gate evaluation and the syscall).
func (e *Executor) Execute(ctx context.Context, action model.PlanAction, supervisorInfo model.SupervisorInfo) (model.ActionOutcome, error) {
	current, alive, err := e.ReadIdentity(ctx, action.Target.PID)
	if err != nil {
		return model.ActionOutcomeFailed, fmt.Errorf("executor: re-read identity: %w", err)
	}
	if !alive || !current.Equal(action.Target) {
		// The target is already gone or PID was reused; for a kill this
		// counts as success (idempotent), for anything else it's a no-op
		// we still report as succeeded since there's nothing left to act on.
		return model.ActionOutcomeSucceeded, nil
	}

	switch action.Action {
	case model.ActionPause:
		return e.signal(action.Target.PID, unix.SIGSTOP)
	case model.ActionThrottle:
		return e.renice(action.Target.PID, 19)
	case model.ActionRenice:
		return e.renice(action.Target.PID, 10)
	case model.ActionKill:
		return e.stagedKill(ctx, action)
	case model.ActionSupervisorStop:
		return e.supervisorStop(ctx, action, supervisorInfo)
	case model.ActionResolveZombie:
		return e.resolveZombie(action.Target.PID)
	case model.ActionRestart:
		return e.supervisorStop(ctx, action, supervisorInfo)
	default:
		return model.ActionOutcomeFailed, fmt.Errorf("executor: unsupported action %q", action.Action)
	}
}

func (e *Executor) signal(pid int, sig unix.Signal) (model.ActionOutcome, error) {
	if err := unix.Kill(pid, sig); err != nil {
		if err == unix.ESRCH {
			return model.ActionOutcomeSucceeded, nil // already gone: idempotent success
		}
		return model.ActionOutcomeFailed, fmt.Errorf("executor: signal %d: %w", sig, err)
	}
	return model.ActionOutcomeSucceeded, nil
}

func (e *Executor) renice(pid int, priority int) (model.ActionOutcome, error) {
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, priority); err != nil {
		return model.ActionOutcomeFailed, fmt.Errorf("executor: setpriority: %w", err)
	}
	return model.ActionOutcomeSucceeded, nil
}

// stagedKill sends TERM, polls identity for up to the escalation grace
// window, and sends KILL only if the process is still present with the
// same start_id (spec.md §4.I).
func (e *Executor) stagedKill(ctx context.Context, action model.PlanAction) (model.ActionOutcome, error) {
	if err := unix.Kill(action.Target.PID, unix.SIGTERM); err != nil && err != unix.ESRCH {
		return model.ActionOutcomeFailed, fmt.Errorf("executor: SIGTERM: %w", err)
	}

	deadline := time.Now().Add(action.Escalation.GraceWindow)
	interval := e.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	for time.Now().Before(deadline) {
		current, alive, err := e.ReadIdentity(ctx, action.Target.PID)
		if err != nil {
			return model.ActionOutcomeFailed, fmt.Errorf("executor: poll identity: %w", err)
		}
		if !alive || !current.Equal(action.Target) {
			return model.ActionOutcomeSucceeded, nil
		}
		select {
		case <-ctx.Done():
			return model.ActionOutcomeCancelled, nil
		case <-time.After(interval):
		}
	}

	current, alive, err := e.ReadIdentity(ctx, action.Target.PID)
	if err != nil {
		return model.ActionOutcomeFailed, fmt.Errorf("executor: final identity check: %w", err)
	}
	if !alive || !current.Equal(action.Target) {
		return model.ActionOutcomeSucceeded, nil
	}

	if err := unix.Kill(action.Target.PID, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return model.ActionOutcomeFailed, fmt.Errorf("executor: SIGKILL: %w", err)
	}
	return model.ActionOutcomeSucceeded, nil
}

func (e *Executor) supervisorStop(ctx context.Context, action model.PlanAction, info model.SupervisorInfo) (model.ActionOutcome, error) {
	if info.Type == model.SupervisorDocker && e.Docker != nil {
		grace := int(action.Escalation.GraceWindow.Seconds())
		if grace <= 0 {
			grace = 10
		}
		if err := e.Docker.Stop(ctx, info.Unit, grace); err != nil {
			return model.ActionOutcomeFailed, err
		}
		return model.ActionOutcomeSucceeded, nil
	}

	argv, ok := supervisor.StopCommand(info.Type, info.Unit)
	if !ok {
		// No supervisor-native stop path; fall back to a direct staged kill.
		return e.stagedKill(ctx, action)
	}
	// Re-check independently of the Gate Evaluator's own supervisor_check:
	// the argv the executor is about to run must still be the mutation the
	// Decision Engine chose, not a read-only probe.
	if err := safety.RequireMutating(argv); err != nil {
		return model.ActionOutcomeFailed, fmt.Errorf("executor: %w", err)
	}
	result := e.Runner.Invoke(ctx, argv, toolrunner.Options{Timeout: 30 * time.Second})
	if result.Failure != toolrunner.FailureNone {
		return model.ActionOutcomeFailed, fmt.Errorf("executor: supervisor stop failed: %s", result.Failure)
	}
	return model.ActionOutcomeSucceeded, nil
}

// resolveZombie best-effort prompts reaping: a zombie can only be reaped by
// its real parent calling wait(); if the parent is still alive we nudge it
// with SIGCHLD, otherwise init (PID 1) reaps it automatically and this is a
// no-op success. The parent PID is field 4 of /proc/<pid>/stat.
func (e *Executor) resolveZombie(pid int) (model.ActionOutcome, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return model.ActionOutcomeSucceeded, nil // already reaped, or no /proc
	}
	stat := string(data)
	fields := strings.Fields(stat[strings.LastIndexByte(stat, ')')+1:])
	if len(fields) < 2 {
		return model.ActionOutcomeSucceeded, nil
	}
	if ppid, err := strconv.Atoi(fields[1]); err == nil && ppid > 1 {
		_ = unix.Kill(ppid, unix.SIGCHLD) // best-effort nudge; zombie reaping is parent's responsibility
	}
	return model.ActionOutcomeSucceeded, nil
}
