// Package toolrunner is the Tool Runner (spec.md §4.B): the only path
// through which the rest of the pipeline executes external commands. It
// enforces a global concurrency cap with bounded-queue backpressure (the
// semaphore-gated worker pattern the teacher uses for bounded concurrency
// throughout, e.g. cmd/pulse-agent/main.go's errgroup.WithContext pool,
// generalized here to golang.org/x/sync/semaphore for a queueable cap), a
// non-interactive-only elevation policy, and per-invocation provenance.
package toolrunner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/term"
)

// FailureReason is the closed set of ways an invocation can fail
// (spec.md §4.B).
type FailureReason string

const (
	FailureNone               FailureReason = ""
	FailureTimeout            FailureReason = "timeout"
	FailureCapExceeded        FailureReason = "cap_exceeded"
	FailureExitNonzero        FailureReason = "exit_nonzero"
	FailureSpawnFailed        FailureReason = "spawn_failed"
	FailureCapabilityMissing  FailureReason = "capability_missing"
	FailurePermissionDenied   FailureReason = "permission_denied"
)

// Options controls one invocation.
type Options struct {
	ByteCap        int64
	Timeout        time.Duration
	ConcurrencyKey string // per-tool cap bucket; empty uses only the global cap
	Elevate        bool   // true if argv[0] is expected to run under sudo
}

// Result is what an invocation returns to its caller.
type Result struct {
	Stdout     []byte
	Stderr     []byte
	ExitCode   int
	Truncated  bool
	Failure    FailureReason
	Provenance Provenance
}

// Provenance is the per-invocation audit record spec.md §4.B requires.
// InvocationID gives the audit log a stable handle to correlate a
// toolrunner invocation with the executor/gate records around it,
// the same uuid.New().String() pattern the teacher uses for its
// investigation/approval store record IDs.
type Provenance struct {
	InvocationID string
	ArgvHash     string
	Duration     time.Duration
	ExitCode     int
	Truncated    bool
	Failure      FailureReason
}

// Runner enforces the global and per-tool concurrency caps.
type Runner struct {
	global    *semaphore.Weighted
	perToolMu sync.Mutex
	perTool   map[string]*semaphore.Weighted
	perToolCap int64

	isTerminalFn func(fd int) bool // overridable for tests
}

// New returns a Runner with the given global and per-tool concurrency caps.
func New(globalCap, perToolCap int64) *Runner {
	if globalCap <= 0 {
		globalCap = 1
	}
	if perToolCap <= 0 {
		perToolCap = globalCap
	}
	return &Runner{
		global:       semaphore.NewWeighted(globalCap),
		perTool:      make(map[string]*semaphore.Weighted),
		perToolCap:   perToolCap,
		isTerminalFn: term.IsTerminal,
	}
}

func (r *Runner) perToolSem(key string) *semaphore.Weighted {
	if key == "" {
		return nil
	}
	r.perToolMu.Lock()
	defer r.perToolMu.Unlock()
	sem, ok := r.perTool[key]
	if !ok {
		sem = semaphore.NewWeighted(r.perToolCap)
		r.perTool[key] = sem
	}
	return sem
}

// Invoke runs argv under the configured caps, timeout, and byte cap.
// Queueing for a free concurrency slot counts against opts.Timeout, which
// is the bounded-queue backpressure mechanism spec.md §4.B calls for.
func (r *Runner) Invoke(ctx context.Context, argv []string, opts Options) *Result {
	start := time.Now()
	hash := argvHash(argv)
	invocationID := uuid.New().String()

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if opts.Elevate {
		if err := r.checkElevation(argv); err != nil {
			return &Result{
				Failure:    FailurePermissionDenied,
				Provenance: Provenance{InvocationID: invocationID, ArgvHash: hash, Duration: time.Since(start), Failure: FailurePermissionDenied},
			}
		}
	}

	if err := r.global.Acquire(ctx, 1); err != nil {
		return r.queueFailure(invocationID, hash, start, ctx.Err())
	}
	defer r.global.Release(1)

	if sem := r.perToolSem(opts.ConcurrencyKey); sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return r.queueFailure(invocationID, hash, start, ctx.Err())
		}
		defer sem.Release(1)
	}

	return r.execute(ctx, argv, opts, invocationID, hash, start)
}

func (r *Runner) queueFailure(invocationID, hash string, start time.Time, err error) *Result {
	reason := FailureTimeout
	if err == context.Canceled {
		reason = FailureCapExceeded
	}
	return &Result{
		Failure:    reason,
		Provenance: Provenance{InvocationID: invocationID, ArgvHash: hash, Duration: time.Since(start), Failure: reason},
	}
}

// checkElevation fails closed whenever an elevated argv might prompt for a
// password interactively: if stdin is a terminal and argv isn't already
// pinned to non-interactive sudo (`-n`), we cannot distinguish "will
// succeed silently" from "will hang waiting for input" without running it.
func (r *Runner) checkElevation(argv []string) error {
	if hasNonInteractiveFlag(argv) {
		return nil
	}
	if r.isTerminalFn(int(os.Stdin.Fd())) {
		return errElevationWouldPrompt
	}
	return nil
}

func hasNonInteractiveFlag(argv []string) bool {
	for _, a := range argv {
		if a == "-n" || a == "--non-interactive" {
			return true
		}
	}
	return false
}

var errElevationWouldPrompt = &elevationError{}

type elevationError struct{}

func (e *elevationError) Error() string {
	return "toolrunner: elevation would require an interactive prompt"
}

func (r *Runner) execute(ctx context.Context, argv []string, opts Options, invocationID, hash string, start time.Time) *Result {
	if len(argv) == 0 {
		return &Result{
			Failure:    FailureSpawnFailed,
			Provenance: Provenance{InvocationID: invocationID, ArgvHash: hash, Duration: time.Since(start), Failure: FailureSpawnFailed},
		}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	byteCap := opts.ByteCap
	if byteCap <= 0 {
		byteCap = 1 << 20 // 1 MiB
	}
	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutTrunc := &truncatingWriter{limit: byteCap, buf: &stdoutBuf}
	stderrTrunc := &truncatingWriter{limit: byteCap, buf: &stderrBuf}
	cmd.Stdout = stdoutTrunc
	cmd.Stderr = stderrTrunc

	err := cmd.Run()
	duration := time.Since(start)
	truncated := stdoutTrunc.truncated || stderrTrunc.truncated

	result := &Result{
		Stdout:    stdoutBuf.Bytes(),
		Stderr:    stderrBuf.Bytes(),
		Truncated: truncated,
	}

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		result.Failure = FailureTimeout
	case err != nil:
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			result.ExitCode = exitErr.ExitCode()
			result.Failure = FailureExitNonzero
		} else {
			result.Failure = FailureSpawnFailed
		}
	default:
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	result.Provenance = Provenance{
		InvocationID: invocationID,
		ArgvHash:     hash,
		Duration:     duration,
		ExitCode:     result.ExitCode,
		Truncated:    truncated,
		Failure:      result.Failure,
	}
	return result
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func argvHash(argv []string) string {
	h := sha256.New()
	for _, a := range argv {
		_, _ = io.WriteString(h, a)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// truncatingWriter caps the bytes it accepts and flags when it drops any.
type truncatingWriter struct {
	limit     int64
	written   int64
	truncated bool
	buf       *bytes.Buffer
}

func (w *truncatingWriter) Write(p []byte) (int, error) {
	if w.written >= w.limit {
		w.truncated = true
		return len(p), nil
	}
	remaining := w.limit - w.written
	if int64(len(p)) > remaining {
		w.buf.Write(p[:remaining])
		w.written += remaining
		w.truncated = true
		return len(p), nil
	}
	n, err := w.buf.Write(p)
	w.written += int64(n)
	return n, err
}
