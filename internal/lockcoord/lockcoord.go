// Package lockcoord is the Lock & Coordination primitive (spec.md §4.K):
// one lock file per user, advisory-locked with golang.org/x/sys/unix.Flock
// the same way the teacher's withLockedFile does for its config CLI
// (cmd/pulse-sensor-proxy/config_cmd.go), holding a JSON holder record
// instead of running an arbitrary callback. It is the only process-global
// coordination primitive in this module; everything else is passed by
// handle into the pipeline entry point.
package lockcoord

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/proctriage/triage/internal/apperrors"
	"golang.org/x/sys/unix"
)

// Holder identifies who is running the pipeline.
type Holder string

const (
	HolderManual Holder = "manual"
	HolderAgent  Holder = "agent"
	HolderDaemon Holder = "daemon"
)

// Record is the JSON body written into the lock file.
type Record struct {
	Holder    Holder    `json:"holder"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Operation string    `json:"operation"`
	TimeoutAt time.Time `json:"timeout_at"`
}

func (r Record) expired(now time.Time) bool {
	return now.After(r.TimeoutAt)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// Lock wraps one acquired, open lock file.
type Lock struct {
	f    *os.File
	path string
}

// Acquire attempts to take the lock at path for holder running operation,
// with a hold deadline of timeoutAt. Daemon callers always yield to a live
// manual/agent holder; manual/agent callers never yield to a live daemon
// holder (spec.md §4.K) — they steal it instead, returning the stolen-from
// record as the second result for the caller to audit.
func Acquire(path string, holder Holder, operation string, timeoutAt time.Time, now time.Time) (*Lock, *Record, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("lockcoord: open %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, nil, apperrors.LockBusy("lock held by another flock-incompatible process")
	}

	existing, readErr := readRecord(f)
	hasExisting := readErr == nil && existing.PID != 0

	if hasExisting {
		live := processAlive(existing.PID) && !existing.expired(now)
		if live {
			switch {
			case holder == HolderDaemon && existing.Holder != HolderDaemon:
				// daemon always yields to a live manual/agent holder.
				unix.Flock(int(f.Fd()), unix.LOCK_UN)
				f.Close()
				return nil, nil, apperrors.LockBusy(fmt.Sprintf("yielding to live %s holder (pid %d)", existing.Holder, existing.PID))
			case holder != HolderDaemon && existing.Holder == HolderDaemon:
				// manual/agent never yields to daemon: steal it.
			default:
				unix.Flock(int(f.Fd()), unix.LOCK_UN)
				f.Close()
				return nil, nil, apperrors.LockBusy(fmt.Sprintf("lock held by live %s (pid %d)", existing.Holder, existing.PID))
			}
		}
	}

	var stolenFrom *Record
	if hasExisting {
		stolenFrom = &existing
	}

	rec := Record{Holder: holder, PID: os.Getpid(), StartedAt: now, Operation: operation, TimeoutAt: timeoutAt}
	if err := writeRecord(f, rec); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, nil, err
	}

	return &Lock{f: f, path: path}, stolenFrom, nil
}

func readRecord(f *os.File) (Record, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return Record{}, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return Record{}, err
	}
	if len(data) == 0 {
		return Record{}, nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func writeRecord(f *os.File, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("lockcoord: marshal record: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("lockcoord: truncate lock file: %w", err)
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("lockcoord: write lock file: %w", err)
	}
	return f.Sync()
}

// Release clears the holder record, then unlocks and closes the lock file.
// The file itself stays on disk; an empty file reads as "no holder", so the
// next Acquire does not mistake this still-running process for a live holder.
func (l *Lock) Release() error {
	defer l.f.Close()
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("lockcoord: truncate lock file: %w", err)
	}
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}
