package main

import (
	"fmt"

	"github.com/proctriage/triage/internal/apperrors"
	"github.com/proctriage/triage/internal/lockcoord"
	"github.com/proctriage/triage/internal/model"
	"github.com/proctriage/triage/internal/session"
	"github.com/spf13/cobra"
)

var resumeAsAgent bool
var resumeAsDaemon bool

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Continue an interrupted session's plan from where it left off",
	Args:  wrapArgs(cobra.ExactArgs(1)),
	RunE:  runResume,
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeAsAgent, "agent", false, "run as the agent holder instead of manual")
	resumeCmd.Flags().BoolVar(&resumeAsDaemon, "daemon", false, "run as the daemon holder instead of manual")
}

// runResume re-enters runApplyCore against an existing session. The only
// work specific to resume is validating the session is actually resumable
// before paying for a lock acquisition; runApplyCore's alreadyDoneSet skip
// logic (spec.md §4.I at-most-once) handles the rest identically to a
// fresh apply invocation restarted after a partial failure.
func runResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sessionID := args[0]

	boot, err := newBootstrap(ctx)
	if err != nil {
		return err
	}
	store, err := session.Open(boot.sessionDir(sessionID))
	if err != nil {
		boot.Close()
		return err
	}
	manifest, err := store.LoadManifest()
	boot.Close()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeSessionNotFound, fmt.Sprintf("session %s", sessionID), err)
	}
	if !manifest.Resumable {
		return apperrors.New(apperrors.CodeSessionExpired, fmt.Sprintf("session %s is not resumable", sessionID))
	}
	switch manifest.State {
	case model.SessionInterrupted, model.SessionApproved, model.SessionExecuting, model.SessionPlanned:
	default:
		return apperrors.New(apperrors.CodeSessionExpired, fmt.Sprintf("session %s is in state %s, nothing to resume", sessionID, manifest.State))
	}

	holder := lockcoord.HolderManual
	switch {
	case resumeAsDaemon:
		holder = lockcoord.HolderDaemon
	case resumeAsAgent:
		holder = lockcoord.HolderAgent
	}

	return runApplyCore(ctx, sessionID, holder, "resume:"+sessionID)
}
