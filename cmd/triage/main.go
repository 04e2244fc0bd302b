// Command triage is the on-host process-triage CLI: scan the process table,
// build a staged remediation plan, apply it under a lock with identity
// re-verification at every step, and report outcomes. Grounded on the
// teacher's cmd/pulse/main.go root-command shape (cobra + zerolog console
// writer), generalized from "monitoring daemon" to "one-shot triage run".
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags, as in the teacher's binaries.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "triage",
	Short:         "Diagnose and remediate abandoned processes",
	Long:          "triage samples the process table, classifies candidates with a closed-form Bayesian model, and executes a staged, identity-checked remediation plan.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("triage %s\n", Version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeForErr(err))
	}
}
