package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/proctriage/triage/internal/apperrors"
	"github.com/proctriage/triage/internal/budget"
	"github.com/proctriage/triage/internal/lockcoord"
	"github.com/proctriage/triage/internal/obsmetrics"
	"github.com/proctriage/triage/internal/policy"
	"github.com/proctriage/triage/internal/priors"
	"github.com/proctriage/triage/internal/statusapi"
	"github.com/proctriage/triage/internal/triageconfig"
)

// bootstrap wires the shared dependencies every subcommand needs: config,
// the priors/policy bundles, the budget ledger, and the metrics registry.
// Building this once per invocation keeps cmd/triage a thin wiring layer
// rather than duplicating setup per subcommand.
type bootstrap struct {
	cfg      triageconfig.Config
	priors   *priors.Bundle
	policy   *policy.Bundle
	ledger   *budget.Ledger
	registry *prometheus.Registry
	metrics  *obsmetrics.Metrics
	hub      *statusapi.Hub
	hostID   string
}

func newBootstrap(ctx context.Context) (*bootstrap, error) {
	cfg, err := triageconfig.Load()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIoError, "load config", err)
	}
	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIoError, "create state dir", err)
	}

	priorsBundle, err := priors.Load(cfg.PriorsPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCapabilityMissing, "load priors bundle", err)
	}
	policyBundle, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCapabilityMissing, "load policy bundle", err)
	}

	ledger, err := budget.Open(ctx, filepath.Join(cfg.StateDir, "budget.db"), budget.Settings{
		InitialWealth:  policyBundle.FDR.InitialWealth,
		TargetAlpha:    policyBundle.FDR.TargetAlpha,
		RewardOnAccept: policyBundle.FDR.RewardOnAccept,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIoError, "open budget ledger", err)
	}

	hostID, err := os.Hostname()
	if err != nil || hostID == "" {
		hostID = "unknown-host"
	}

	registry := prometheus.NewRegistry()
	return &bootstrap{
		cfg:      cfg,
		priors:   priorsBundle,
		policy:   policyBundle,
		ledger:   ledger,
		registry: registry,
		metrics:  obsmetrics.New(registry),
		hub:      statusapi.NewHub(),
		hostID:   hostID,
	}, nil
}

func (b *bootstrap) Close() error {
	return b.ledger.Close()
}

func (b *bootstrap) sessionsDir() string {
	return filepath.Join(b.cfg.StateDir, "sessions")
}

func (b *bootstrap) sessionDir(sessionID string) string {
	return filepath.Join(b.sessionsDir(), sessionID)
}

func (b *bootstrap) lockPath() string {
	return filepath.Join(b.cfg.StateDir, "lock")
}

// acquireLock takes the per-user lock for holder/operation, honoring
// spec.md §4.K's priority rules via internal/lockcoord.
func (b *bootstrap) acquireLock(holder lockcoord.Holder, operation string, now time.Time) (*lockcoord.Lock, *lockcoord.Record, error) {
	lock, stolenFrom, err := lockcoord.Acquire(b.lockPath(), holder, operation, now.Add(b.cfg.LockTimeout), now)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire lock: %w", err)
	}
	return lock, stolenFrom, nil
}
