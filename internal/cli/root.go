// Package cli builds the `line` command tree (spec.md SPEC_FULL.md §0):
// root, run, jobs, orchestrator. Kept in the established cobra idiom
// (a package-level rootCmd, a persistent --config flag, subcommands added
// from each file's init) — only the command set itself is new, replacing
// the prior concern-gate/trigger/statusline commands with ones that
// operate on this spec's Job Queue and Pipeline State Machine.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "line",
	Short: "Autonomous Pipeline Orchestrator for the BMAD agent chain",
	Long: `line runs the Autonomous Pipeline Orchestrator: a durable job queue and
pipeline state machine that drives a Planner -> Dev -> QA -> DevOps chain
of supervised CLI coding agents against a real Git repository.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "line.yaml", "Path to the orchestrator config file")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("line %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
