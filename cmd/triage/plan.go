package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/proctriage/triage/internal/apperrors"
	"github.com/proctriage/triage/internal/decision"
	"github.com/proctriage/triage/internal/model"
	"github.com/proctriage/triage/internal/planbuilder"
	"github.com/proctriage/triage/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var planDryRun bool

var planCmd = &cobra.Command{
	Use:   "plan <session-id>",
	Short: "Run the Decision Engine and Plan Builder over a scanned session",
	Args:  wrapArgs(cobra.ExactArgs(1)),
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().BoolVar(&planDryRun, "dry-run", false, "print the plan without writing plan.json or advancing session state")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sessionID := args[0]

	boot, err := newBootstrap(ctx)
	if err != nil {
		return err
	}
	defer boot.Close()

	store, err := session.Open(boot.sessionDir(sessionID))
	if err != nil {
		return err
	}
	manifest, err := store.LoadManifest()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeSessionNotFound, fmt.Sprintf("session %s", sessionID), err)
	}
	candidates, err := store.LoadSnapshot()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeSessionNotFound, fmt.Sprintf("snapshot for %s", sessionID), err)
	}

	engine := decision.New(boot.policy, boot.ledger, nil)
	engine.DRO.Active = shouldEnterDRO(candidates, boot.priors.Hazard)
	if engine.DRO.Active {
		log.Warn().Str("session_id", sessionID).Msg("plan: BOCPD change point detected, entering DRO mode for this plan")
	}

	inputs := make([]planbuilder.Input, 0, len(candidates))
	for _, c := range candidates {
		dec, err := engine.Evaluate(ctx, c, sessionID)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "decision engine", err)
		}
		c.RecommendedAction = dec.Action
		c.ActionRationale = dec.Rationale
		inputs = append(inputs, planbuilder.Input{Candidate: c, Decision: dec})
	}

	budgetSnapshot, err := boot.ledger.Snapshot(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "budget snapshot", err)
	}

	policyCtx := model.PolicyContext{
		LossMatrixVersion:   boot.policy.Version,
		PosteriorThresholds: boot.policy.PosteriorThresholds,
		BlastRadiusCaps:     boot.policy.BlastRadiusCaps,
		FDRBudgetSnapshot:   budgetSnapshot.Wealth,
	}

	plan := planbuilder.Build(sessionID, inputs, policyCtx, planbuilder.Options{})
	plan.CreatedAt = time.Now()

	if planDryRun {
		return printJSON(plan)
	}

	if err := store.SavePlan(plan); err != nil {
		return err
	}
	manifest.State = model.SessionPlanned
	manifest.UpdatedAt = plan.CreatedAt
	manifest.Phase = "plan"
	if err := store.SaveManifest(manifest); err != nil {
		return err
	}

	log.Info().Str("session_id", sessionID).Int("actions", len(plan.Actions)).Msg("plan ready")
	if err := printJSON(plan); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "session %s ready for `triage apply %s`\n", sessionID, sessionID)
	exitProcess(exitPlanReady)
	return nil
}

// shouldEnterDRO reports whether any candidate's BOCPD change-point
// probability trips DRO mode (spec.md §4.F rule 6): one drifting process in
// the batch is enough to tighten thresholds for the whole plan, the same
// conservative bias as the rest of the Decision Engine's rules.
func shouldEnterDRO(candidates []model.Candidate, hazard float64) bool {
	for _, c := range candidates {
		if decision.ShouldEnterDRO(c.Features.ChangePointProbability, hazard) {
			return true
		}
	}
	return false
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
