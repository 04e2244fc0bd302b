package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/proctriage/triage/internal/lockcoord"
	"github.com/proctriage/triage/internal/model"
	"github.com/proctriage/triage/internal/probe"
	"github.com/proctriage/triage/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Sample the process table and classify candidates into a new session",
	RunE:  runScan,
}

type scanResponse struct {
	model.Envelope
	Candidates []model.Candidate `json:"candidates"`
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	boot, err := newBootstrap(ctx)
	if err != nil {
		return err
	}
	defer boot.Close()

	now := time.Now()
	sessionID := newSessionID(lockcoord.HolderManual, now)
	store, err := session.Open(boot.sessionDir(sessionID))
	if err != nil {
		return err
	}

	manifest := model.Manifest{
		SchemaVersion: model.CurrentSchemaVersion,
		SessionID:     sessionID,
		HostID:        boot.hostID,
		State:         model.SessionCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
		Phase:         "scan",
		Resumable:     true,
	}
	if err := store.SaveManifest(manifest); err != nil {
		return err
	}

	candidates, err := collectCandidates(ctx, probe.New(), boot.priors)
	if err != nil {
		return err
	}
	if err := store.SaveSnapshot(candidates); err != nil {
		return err
	}

	log.Info().Str("session_id", sessionID).Int("candidates", len(candidates)).Msg("scan complete")

	resp := scanResponse{
		Envelope: model.Envelope{
			SchemaVersion: model.CurrentSchemaVersion,
			SessionID:     sessionID,
			GeneratedAt:   now,
			HostID:        boot.hostID,
		},
		Candidates: candidates,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "session %s ready for `triage plan %s`\n", sessionID, sessionID)
	return nil
}
