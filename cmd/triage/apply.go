package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/proctriage/triage/internal/apperrors"
	"github.com/proctriage/triage/internal/executor"
	"github.com/proctriage/triage/internal/gate"
	"github.com/proctriage/triage/internal/lockcoord"
	"github.com/proctriage/triage/internal/model"
	"github.com/proctriage/triage/internal/probe"
	"github.com/proctriage/triage/internal/session"
	"github.com/proctriage/triage/internal/supervisor"
	"github.com/proctriage/triage/internal/toolrunner"
	"github.com/proctriage/triage/internal/verifier"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var applyAsAgent bool
var applyAsDaemon bool

var applyCmd = &cobra.Command{
	Use:   "apply <session-id>",
	Short: "Execute a session's plan, stage by stage, under the per-user lock",
	Args:  wrapArgs(cobra.ExactArgs(1)),
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAsAgent, "agent", false, "run as the agent holder instead of manual")
	applyCmd.Flags().BoolVar(&applyAsDaemon, "daemon", false, "run as the daemon holder instead of manual")
}

func lockHolderFromFlags() lockcoord.Holder {
	switch {
	case applyAsDaemon:
		return lockcoord.HolderDaemon
	case applyAsAgent:
		return lockcoord.HolderAgent
	default:
		return lockcoord.HolderManual
	}
}

func runApply(cmd *cobra.Command, args []string) error {
	return runApplyCore(cmd.Context(), args[0], lockHolderFromFlags(), "apply:"+args[0])
}

// runApplyCore is the shared execution loop behind both `apply` and
// `resume`: acquire the lock, advance the session state machine, and run
// every remaining stage. alreadyDoneSet makes a second call against the
// same session a no-op for every action that already reached a terminal
// outcome, which is what lets `resume` simply call back into this same
// function rather than duplicate it.
func runApplyCore(ctx context.Context, sessionID string, holder lockcoord.Holder, operation string) error {
	boot, err := newBootstrap(ctx)
	if err != nil {
		return err
	}
	defer boot.Close()

	lock, stolenFrom, err := boot.acquireLock(holder, operation, time.Now())
	if err != nil {
		return err
	}
	defer lock.Release()

	store, err := session.Open(boot.sessionDir(sessionID))
	if err != nil {
		return err
	}
	manifest, err := store.LoadManifest()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeSessionNotFound, fmt.Sprintf("session %s", sessionID), err)
	}
	plan, err := store.LoadPlan()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeSessionNotFound, fmt.Sprintf("plan for %s", sessionID), err)
	}
	candidates, err := store.LoadSnapshot()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeSessionNotFound, fmt.Sprintf("snapshot for %s", sessionID), err)
	}
	byStartID := make(map[string]model.Candidate, len(candidates))
	for _, c := range candidates {
		byStartID[c.Identity.StartID] = c
	}

	if stolenFrom != nil {
		_ = store.AppendAudit(model.AuditRecord{
			ID:        newAuditID(),
			Timestamp: time.Now(),
			SessionID: sessionID,
			Kind:      "lock_stolen",
			Detail:    map[string]any{"from_holder": string(stolenFrom.Holder), "from_pid": stolenFrom.PID},
		})
	}

	if err := advanceToExecuting(store, &manifest); err != nil {
		return err
	}

	done, err := alreadyDoneSet(store)
	if err != nil {
		return err
	}

	prober := probe.New()
	readIdentity := makeIdentityReader(prober)
	runner := toolrunner.New(4, 2)
	docker, dockerErr := supervisor.NewDockerResolver()
	if dockerErr != nil {
		log.Debug().Err(dockerErr).Msg("apply: docker unavailable, container targets fall back to direct signals")
		docker = nil
	} else {
		defer docker.Close()
	}
	execr := executor.New(runner, docker, readIdentity)
	verif := verifier.New(makeVerifierReader(prober), makeCommandFinder(prober))


	outcome := newSessionOutcome()
	if err := seedBlastRadius(outcome, store, byStartID); err != nil {
		return err
	}

	for _, stage := range plan.Stages() {
		if ctx.Err() != nil {
			outcome.interrupted = true
			break
		}
		if err := runStage(ctx, boot, store, sessionID, stage, byStartID, done, prober, execr, verif, outcome); err != nil {
			return err
		}
		if outcome.interrupted {
			break
		}
	}

	if _, err := store.SaveOutcomes(); err != nil {
		return err
	}

	finalState := model.SessionCompleted
	if outcome.interrupted {
		finalState = model.SessionInterrupted
	}
	manifest.State = finalState
	manifest.UpdatedAt = time.Now()
	manifest.Phase = "apply"
	manifest.Resumable = outcome.interrupted
	if err := store.SaveManifest(manifest); err != nil {
		return err
	}

	log.Info().Str("session_id", sessionID).
		Bool("interrupted", outcome.interrupted).
		Bool("blocked", outcome.blocked).
		Bool("failed", outcome.failed).
		Bool("unreachable", outcome.unreachable).
		Msg("apply complete")

	exitProcess(outcome.exitCode())
	return nil
}

// advanceToExecuting walks the manifest forward to "executing", matching
// whatever valid prior state apply was invoked against (planned, approved,
// or a resumed interrupted session).
func advanceToExecuting(store *session.Store, manifest *model.Manifest) error {
	now := time.Now()
	if manifest.State == model.SessionPlanned {
		manifest.State = model.SessionApproved
		manifest.UpdatedAt = now
		if err := store.SaveManifest(*manifest); err != nil {
			return err
		}
	}
	if manifest.State == model.SessionApproved || manifest.State == model.SessionInterrupted {
		manifest.State = model.SessionExecuting
		manifest.UpdatedAt = now
		return store.SaveManifest(*manifest)
	}
	return nil
}

// alreadyDoneSet loads progress.jsonl and reports which (start_id, action)
// pairs already ran, so a resumed session never re-invokes a terminal
// outcome (at-most-once semantics, spec.md §4.I).
func alreadyDoneSet(store *session.Store) (map[string]bool, error) {
	records, err := store.LoadProgress()
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(records))
	for _, r := range records {
		if r.Outcome == model.ActionOutcomeSucceeded || r.Outcome == model.ActionOutcomeFailed || r.Outcome == model.ActionOutcomeBlocked {
			done[progressKey(r.Target.StartID, r.Action)] = true
		}
	}
	return done, nil
}

func progressKey(startID string, action model.ActionKind) string {
	return startID + "|" + string(action)
}

// seedBlastRadius folds the blast radius of every already-succeeded action
// from a prior apply/resume invocation into outcome, so a resumed session's
// gate checks start from the real cumulative total rather than zero.
func seedBlastRadius(outcome *sessionOutcome, store *session.Store, byStartID map[string]model.Candidate) error {
	records, err := store.LoadProgress()
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.Outcome != model.ActionOutcomeSucceeded {
			continue
		}
		if c, ok := byStartID[r.Target.StartID]; ok {
			outcome.addBlastRadius(c.BlastRadius)
		}
	}
	return nil
}

// sessionOutcome aggregates stage results under a mutex so concurrent
// in-stage workers can report into it safely. blastSoFar is the running sum
// of every action's blast radius that has already succeeded in this
// session — including ones applied in an earlier `apply`/`resume`
// invocation — so the blast_radius_limit gate (spec.md §4.H step 5) sees
// the true cumulative total instead of resetting to zero per action.
type sessionOutcome struct {
	mu          sync.Mutex
	blocked     bool
	failed      bool
	unreachable bool
	interrupted bool
	blastSoFar  model.BlastRadius
}

func newSessionOutcome() *sessionOutcome { return &sessionOutcome{} }

func (o *sessionOutcome) markBlocked()     { o.mu.Lock(); o.blocked = true; o.mu.Unlock() }
func (o *sessionOutcome) markFailed()      { o.mu.Lock(); o.failed = true; o.mu.Unlock() }
func (o *sessionOutcome) markUnreachable() { o.mu.Lock(); o.unreachable = true; o.mu.Unlock() }

// currentBlastRadius snapshots the cumulative total so far. Actions running
// concurrently within the same stage may race against each other's
// addBlastRadius calls, same as they race for any other shared resource the
// stage-parallelism cap (spec.md §5) allows them to contend over; the gate
// still sees every prior stage's full total.
func (o *sessionOutcome) currentBlastRadius() model.BlastRadius {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.blastSoFar
}

func (o *sessionOutcome) addBlastRadius(b model.BlastRadius) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blastSoFar.MemoryMB += b.MemoryMB
	o.blastSoFar.CPUPct += b.CPUPct
	o.blastSoFar.ChildCount += b.ChildCount
	o.blastSoFar.ConnectionCount += b.ConnectionCount
	o.blastSoFar.OpenFiles += b.OpenFiles
	o.blastSoFar.DependentProcesses = append(o.blastSoFar.DependentProcesses, b.DependentProcesses...)
}

func (o *sessionOutcome) exitCode() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.interrupted:
		return exitInterrupted
	case o.blocked:
		return exitPolicyBlocked
	case o.failed:
		return exitPartialFail
	case o.unreachable:
		return exitGoalUnreachable
	default:
		return exitActionsOK
	}
}

// runStage executes every action in one escalation stage concurrently,
// bounded by the configured worker concurrency (spec.md §5 stage
// parallelism cap).
func runStage(
	ctx context.Context,
	boot *bootstrap,
	store *session.Store,
	sessionID string,
	actions []model.PlanAction,
	byStartID map[string]model.Candidate,
	done map[string]bool,
	prober *probe.Prober,
	execr *executor.Executor,
	verif *verifier.Verifier,
	outcome *sessionOutcome,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(boot.cfg.WorkerConcurrency)

	for _, action := range actions {
		action := action
		if done[progressKey(action.Target.StartID, action.Action)] {
			continue
		}
		g.Go(func() error {
			return applyOneAction(gctx, boot, store, sessionID, action, byStartID[action.Target.StartID], prober, execr, verif, outcome)
		})
	}
	return g.Wait()
}

func applyOneAction(
	ctx context.Context,
	boot *bootstrap,
	store *session.Store,
	sessionID string,
	action model.PlanAction,
	candidate model.Candidate,
	prober *probe.Prober,
	execr *executor.Executor,
	verif *verifier.Verifier,
	outcome *sessionOutcome,
) error {
	start := time.Now()

	current, _, err := readOneSample(ctx, prober, action.Target.PID)
	currentIdentity := action.Target
	if err == nil && current.Identity.PID != 0 {
		currentIdentity = current.Identity
	}

	var supervisorArgv []string
	if action.Action == model.ActionSupervisorStop || action.Action == model.ActionRestart {
		if argv, ok := supervisor.StopCommand(candidate.Supervisor.Type, candidate.Supervisor.Unit); ok {
			supervisorArgv = argv
		}
	}

	gateResult, err := gate.Evaluate(ctx, gate.Inputs{
		PlannedIdentity:    action.Target,
		CurrentIdentity:    currentIdentity,
		CmdFull:            candidate.CmdFull,
		SupervisorDetected: candidate.Supervisor.Detected,
		Action:             action.Action,
		SupervisorArgv:     supervisorArgv,
		PlanTimePosterior:  candidate.Posterior.Probabilities,
		BlastRadiusSoFar:   outcome.currentBlastRadius(),
		ThisActionBlast:    candidate.BlastRadius,
		Policy:             boot.policy,
		Ledger:             boot.ledger,
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "gate evaluation", err)
	}

	rec := model.ProgressRecord{
		Timestamp:  time.Now(),
		Target:     action.Target,
		Action:     action.Action,
		GateResult: gateResult.String(),
	}

	if !gateResult.Passed {
		rec.Outcome = model.ActionOutcomeBlocked
		rec.DurationMS = time.Since(start).Milliseconds()
		boot.metrics.RecordGateBlocked(string(gateResult.Blocked))
		outcome.markBlocked()
		return finishAction(store, boot, sessionID, rec)
	}

	actionOutcome, err := execr.Execute(ctx, action, candidate.Supervisor)
	if err != nil {
		rec.Outcome = model.ActionOutcomeFailed
		rec.DurationMS = time.Since(start).Milliseconds()
		boot.metrics.RecordActionOutcome(string(action.Action), string(rec.Outcome))
		outcome.markFailed()
		return finishAction(store, boot, sessionID, rec)
	}
	rec.Outcome = actionOutcome
	rec.DurationMS = time.Since(start).Milliseconds()
	boot.metrics.RecordActionOutcome(string(action.Action), string(actionOutcome))

	if actionOutcome == model.ActionOutcomeFailed {
		outcome.markFailed()
	}
	if actionOutcome == model.ActionOutcomeSucceeded {
		outcome.addBlastRadius(candidate.BlastRadius)
	}

	if actionOutcome == model.ActionOutcomeSucceeded && (action.Action == model.ActionKill || action.Action == model.ActionSupervisorStop) {
		verifyOutcome, verr := verif.Classify(ctx, action.Target, candidate.CmdShort, nil)
		if verr == nil {
			rec.VerifyResult = &verifyOutcome
			boot.metrics.RecordVerifyOutcome(string(verifyOutcome))
			if verifyOutcome == model.OutcomeStillRunning {
				outcome.markUnreachable()
			}
		}
	}

	return finishAction(store, boot, sessionID, rec)
}

func finishAction(store *session.Store, boot *bootstrap, sessionID string, rec model.ProgressRecord) error {
	if err := store.AppendProgress(context.Background(), rec); err != nil {
		return err
	}
	boot.hub.Publish(statusEventFromProgress(sessionID, rec))
	return nil
}
