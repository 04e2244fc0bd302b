// Package budget is the alpha-investing / FDR budget ledger (spec.md §4.F
// rule 6, §4.H "shared resources", §8 invariant 8). It is process-wide
// state that must survive across sessions and calendar-reset windows, so it
// lives in a tiny embedded-SQLite-backed store rather than a flat file: a
// rejection (kill) and its confirmation can race across concurrent
// sessions on the same host, and the update must be atomic read-modify-write.
//
// All mutations go through a single *Ledger guarded by one sync.Mutex
// (spec.md §9 DESIGN NOTES: "owned value behind a single-writer serialized
// update path"); readers get an immutable Snapshot.
package budget

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Settings are the policy-bundle-configured budget parameters (spec.md §4.F
// rule 6, mirrored from policy.FDRSettings so this package has no import
// dependency on internal/policy).
type Settings struct {
	InitialWealth  float64
	TargetAlpha    float64
	RewardOnAccept float64
	ResetWindow    time.Duration
}

// Snapshot is a point-in-time, immutable view of the ledger state, safe to
// hand to readers without holding the ledger's lock.
type Snapshot struct {
	Wealth       float64
	WindowStart  time.Time
	SpentInWindow float64
	EarnedInWindow float64
	RejectionsInWindow int
}

// Ledger is the single-writer budget store. One Ledger per state directory;
// callers share one instance across sessions on the same host.
type Ledger struct {
	db       *sql.DB
	mu       sync.Mutex
	settings Settings
	nowFn    func() time.Time
}

// Open opens (creating if absent) the sqlite-backed ledger at path and
// initializes the current calendar-reset window on first use.
func Open(ctx context.Context, path string, settings Settings) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("budget: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite write serialization; mirrors the single-writer design

	l := &Ledger{db: db, settings: settings, nowFn: time.Now}
	if err := l.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := l.initWindowLocked(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS budget_window (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	window_start INTEGER NOT NULL,
	wealth REAL NOT NULL,
	spent REAL NOT NULL,
	earned REAL NOT NULL,
	rejections INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS budget_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	kind TEXT NOT NULL,
	amount REAL NOT NULL,
	session_id TEXT NOT NULL
);`
	_, err := l.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("budget: migrate: %w", err)
	}
	return nil
}

// initWindowLocked seeds row id=1 on first use, and resets the window if the
// calendar-reset window has elapsed since window_start (spec.md §4.H: "init
// on first use per calendar reset window").
func (l *Ledger) initWindowLocked(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("budget: begin: %w", err)
	}
	defer tx.Rollback()

	var windowStart int64
	err = tx.QueryRowContext(ctx, `SELECT window_start FROM budget_window WHERE id = 1`).Scan(&windowStart)
	switch {
	case err == sql.ErrNoRows:
		now := l.nowFn()
		_, err = tx.ExecContext(ctx, `INSERT INTO budget_window (id, window_start, wealth, spent, earned, rejections) VALUES (1, ?, ?, 0, 0, 0)`,
			now.Unix(), l.settings.InitialWealth)
		if err != nil {
			return fmt.Errorf("budget: seed window: %w", err)
		}
	case err != nil:
		return fmt.Errorf("budget: query window: %w", err)
	default:
		start := time.Unix(windowStart, 0)
		if l.settings.ResetWindow > 0 && l.nowFn().Sub(start) >= l.settings.ResetWindow {
			now := l.nowFn()
			_, err = tx.ExecContext(ctx, `UPDATE budget_window SET window_start = ?, wealth = ?, spent = 0, earned = 0, rejections = 0 WHERE id = 1`,
				now.Unix(), l.settings.InitialWealth)
			if err != nil {
				return fmt.Errorf("budget: reset window: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Snapshot returns the current ledger state without mutating it.
func (l *Ledger) Snapshot(ctx context.Context) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked(ctx)
}

func (l *Ledger) snapshotLocked(ctx context.Context) (Snapshot, error) {
	var (
		windowStart int64
		wealth, spent, earned float64
		rejections int
	)
	row := l.db.QueryRowContext(ctx, `SELECT window_start, wealth, spent, earned, rejections FROM budget_window WHERE id = 1`)
	if err := row.Scan(&windowStart, &wealth, &spent, &earned, &rejections); err != nil {
		return Snapshot{}, fmt.Errorf("budget: snapshot: %w", err)
	}
	return Snapshot{
		Wealth:             wealth,
		WindowStart:        time.Unix(windowStart, 0),
		SpentInWindow:      spent,
		EarnedInWindow:     earned,
		RejectionsInWindow: rejections,
	}, nil
}

// CanAfford reports whether the ledger's current wealth covers alphaT
// (spec.md §4.F rule 6: "If W < α_t, the action is downgraded to review").
func (l *Ledger) CanAfford(ctx context.Context, alphaT float64) (bool, error) {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return snap.Wealth >= alphaT, nil
}

// Spend records a rejection (kill) decision, decrementing wealth by alphaT.
// Invariant (spec.md §8 #8): wealth never exceeds initial + earned rewards;
// Spend only ever decreases wealth, so that invariant holds by construction.
func (l *Ledger) Spend(ctx context.Context, sessionID string, alphaT float64) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("budget: begin spend: %w", err)
	}
	defer tx.Rollback()

	var wealth float64
	if err := tx.QueryRowContext(ctx, `SELECT wealth FROM budget_window WHERE id = 1`).Scan(&wealth); err != nil {
		return Snapshot{}, fmt.Errorf("budget: spend: %w", err)
	}
	newWealth := wealth - alphaT
	_, err = tx.ExecContext(ctx, `UPDATE budget_window SET wealth = ?, spent = spent + ?, rejections = rejections + 1 WHERE id = 1`,
		newWealth, alphaT)
	if err != nil {
		return Snapshot{}, fmt.Errorf("budget: spend: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO budget_events (ts, kind, amount, session_id) VALUES (?, 'spend', ?, ?)`,
		l.nowFn().Unix(), alphaT, sessionID); err != nil {
		return Snapshot{}, fmt.Errorf("budget: log spend event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Snapshot{}, fmt.Errorf("budget: commit spend: %w", err)
	}
	return l.snapshotLocked(ctx)
}

// Earn credits wealth by omega on a confirmed rejection (the Verifier
// reports OutcomeConfirmedDead/OutcomeConfirmedStopped for a prior kill).
func (l *Ledger) Earn(ctx context.Context, sessionID string, omega float64) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("budget: begin earn: %w", err)
	}
	defer tx.Rollback()

	var wealth float64
	if err := tx.QueryRowContext(ctx, `SELECT wealth FROM budget_window WHERE id = 1`).Scan(&wealth); err != nil {
		return Snapshot{}, fmt.Errorf("budget: earn: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE budget_window SET wealth = ?, earned = earned + ? WHERE id = 1`,
		wealth+omega, omega)
	if err != nil {
		return Snapshot{}, fmt.Errorf("budget: earn: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO budget_events (ts, kind, amount, session_id) VALUES (?, 'earn', ?, ?)`,
		l.nowFn().Unix(), omega, sessionID); err != nil {
		return Snapshot{}, fmt.Errorf("budget: log earn event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Snapshot{}, fmt.Errorf("budget: commit earn: %w", err)
	}
	return l.snapshotLocked(ctx)
}

// MaybeReset checks whether the calendar-reset window has elapsed and, if
// so, resets wealth to InitialWealth and zeroes the window counters. Callers
// invoke this on a schedule (e.g. before each plan); it is idempotent within
// a window.
func (l *Ledger) MaybeReset(ctx context.Context) (Snapshot, error) {
	if err := l.initWindowLocked(ctx); err != nil {
		return Snapshot{}, err
	}
	return l.Snapshot(ctx)
}
