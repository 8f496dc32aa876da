package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devos-ai/orchestrator/internal/config"
	"github.com/devos-ai/orchestrator/internal/events"
	"github.com/devos-ai/orchestrator/internal/logging"
	"github.com/devos-ai/orchestrator/internal/pipeline"
	"github.com/devos-ai/orchestrator/internal/store"
)

func init() {
	orchestratorCmd.AddCommand(orchestratorStatusCmd, orchestratorHistoryCmd)
	rootCmd.AddCommand(orchestratorCmd)
}

var orchestratorCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Inspect the Pipeline State Machine (spec.md §4.5)",
}

func pipelineMachineFromConfig() (*pipeline.Machine, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	dbPath := cfg.Store.PipelineStateBackendURL
	if dbPath == "" {
		dbPath = "line.db"
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(false)
	m := pipeline.New(store.NewPipelineRepository(db), events.NewBus(), logger)
	return m, func() { db.Close() }, nil
}

var orchestratorStatusCmd = &cobra.Command{
	Use:   "status <projectId>",
	Short: "Show a project's current PipelineContext",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeDB, err := pipelineMachineFromConfig()
		if err != nil {
			return err
		}
		defer closeDB()

		ctx, err := m.Get(args[0])
		if err != nil {
			return err
		}
		symbol, color := stateDisplay(ctx.CurrentState)
		fmt.Printf("%s%s%s %s  (story=%s, retries=%d/%d)\n", color, symbol, ansiReset, ctx.CurrentState, ctx.CurrentStoryID, ctx.RetryCount, ctx.MaxRetries)
		return nil
	},
}

var orchestratorHistoryCmd = &cobra.Command{
	Use:   "history <projectId>",
	Short: "Show a project's pipeline state transition history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeDB, err := pipelineMachineFromConfig()
		if err != nil {
			return err
		}
		defer closeDB()

		history, err := m.History(args[0])
		if err != nil {
			return err
		}
		for _, h := range history {
			fmt.Printf("%s  %s -> %s  (%s)\n", h.TransitionAt.Format("2006-01-02T15:04:05Z07:00"), h.FromState, h.ToState, h.Trigger)
		}
		return nil
	},
}
