// Package session is the Session Store (spec.md §4.J / §6): one directory
// per triage session holding manifest.json, snapshot.json, plan.json,
// progress.jsonl, outcomes.json and audit.log. Every whole-file write goes
// through a temp-file-then-rename swap (grounded on the teacher's
// internal/ai/baseline.Store.saveToDisk); progress.jsonl and audit.log are
// append-only and fsync each record, since those are the files a resumed
// session rebuilds its state from.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/proctriage/triage/internal/model"
)

const (
	manifestFile = "manifest.json"
	snapshotFile = "snapshot.json"
	planFile     = "plan.json"
	progressFile = "progress.jsonl"
	outcomesFile = "outcomes.json"
	auditFile    = "audit.log"
)

// Store is one session's on-disk directory.
type Store struct {
	dir string
	mu  sync.Mutex // serializes writes to this session's files

	progressSeq uint64
}

// Open ensures dir exists and returns a Store bound to it. It does not
// create a manifest; callers call Create or Load explicitly.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the session's backing directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// writeAtomic marshals v and swaps it into path via a sibling .tmp file,
// matching the teacher's write-then-rename pattern.
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("session: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("session: rename %s: %w", tmp, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SaveManifest writes manifest.json, validating the state transition against
// any manifest already on disk (no manifest on disk means this is Created).
func (s *Store) SaveManifest(m model.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing model.Manifest
	if err := readJSON(s.path(manifestFile), &existing); err == nil {
		if existing.State != m.State && !model.ValidTransition(existing.State, m.State) {
			return fmt.Errorf("session: invalid transition %s -> %s", existing.State, m.State)
		}
	}
	return writeAtomic(s.path(manifestFile), m)
}

// LoadManifest reads manifest.json.
func (s *Store) LoadManifest() (model.Manifest, error) {
	var m model.Manifest
	err := readJSON(s.path(manifestFile), &m)
	return m, err
}

// SaveSnapshot writes snapshot.json (the candidate set a session was
// created against).
func (s *Store) SaveSnapshot(candidates []model.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path(snapshotFile), candidates)
}

// LoadSnapshot reads snapshot.json.
func (s *Store) LoadSnapshot() ([]model.Candidate, error) {
	var c []model.Candidate
	err := readJSON(s.path(snapshotFile), &c)
	return c, err
}

// SavePlan writes plan.json.
func (s *Store) SavePlan(p model.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path(planFile), p)
}

// LoadPlan reads plan.json.
func (s *Store) LoadPlan() (model.Plan, error) {
	var p model.Plan
	err := readJSON(s.path(planFile), &p)
	return p, err
}

// AppendProgress appends one record to progress.jsonl, assigning the next
// sequence number and fsyncing before returning (every action outcome is a
// suspension point: spec.md requires resume to pick up exactly where an
// interrupted run left off).
func (s *Store) AppendProgress(ctx context.Context, rec model.ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.progressSeq == 0 {
		last, err := s.lastProgressSeqLocked()
		if err != nil {
			return err
		}
		s.progressSeq = last
	}
	s.progressSeq++
	rec.Seq = s.progressSeq

	return appendFsynced(s.path(progressFile), rec)
}

func (s *Store) lastProgressSeqLocked() (uint64, error) {
	records, err := s.loadProgressLocked()
	if err != nil {
		return 0, err
	}
	var max uint64
	for _, r := range records {
		if r.Seq > max {
			max = r.Seq
		}
	}
	return max, nil
}

// LoadProgress reads every record in progress.jsonl, in append order.
func (s *Store) LoadProgress() ([]model.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadProgressLocked()
}

func (s *Store) loadProgressLocked() ([]model.ProgressRecord, error) {
	f, err := os.Open(s.path(progressFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: open progress.jsonl: %w", err)
	}
	defer f.Close()

	var records []model.ProgressRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec model.ProgressRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("session: parse progress.jsonl: %w", err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

// SaveOutcomes recomputes and writes outcomes.json from the current
// progress.jsonl.
func (s *Store) SaveOutcomes() (model.Outcomes, error) {
	records, err := s.LoadProgress()
	if err != nil {
		return model.Outcomes{}, err
	}
	out := model.Rollup(records)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAtomic(s.path(outcomesFile), out); err != nil {
		return model.Outcomes{}, err
	}
	return out, nil
}

// AppendAudit appends one record to audit.log, fsynced immediately.
func (s *Store) AppendAudit(rec model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendFsynced(s.path(auditFile), rec)
}

func appendFsynced(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: marshal record: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("session: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("session: append %s: %w", path, err)
	}
	return f.Sync()
}
