package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devos-ai/orchestrator/internal/config"
	"github.com/devos-ai/orchestrator/internal/domain"
	"github.com/devos-ai/orchestrator/internal/store"
)

func init() {
	jobsCmd.AddCommand(jobsListCmd, jobsGetCmd, jobsCancelCmd, jobsStatsCmd)
	rootCmd.AddCommand(jobsCmd)
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage the durable Job Queue",
}

var jobsWorkspaceID string

func jobsDB() (*store.JobRepository, func(), error) {
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
	return store.NewJobRepository(db), func() { db.Close() }, nil
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs for a workspace (spec.md §6 GET .../agent-queue/jobs)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, closeDB, err := jobsDB()
		if err != nil {
			return err
		}
		defer closeDB()

		jobs, total, err := repo.List(jobsWorkspaceID, store.ListFilter{Limit: 20})
		if err != nil {
			return err
		}
		fmt.Printf("%d job(s) (total %d):\n", len(jobs), total)
		for _, j := range jobs {
			fmt.Printf("  %s  %-12s %-16s attempt %d/%d\n", j.ID, j.Status, j.JobType, j.Attempts, j.MaxAttempts)
		}
		return nil
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <jobId>",
	Short: "Show one job's full record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, closeDB, err := jobsDB()
		if err != nil {
			return err
		}
		defer closeDB()

		job, err := repo.GetByID(args[0], jobsWorkspaceID)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <jobId>",
	Short: "Cancel a pending or processing job (spec.md §4.4)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, closeDB, err := jobsDB()
		if err != nil {
			return err
		}
		defer closeDB()

		job, err := repo.GetByID(args[0], jobsWorkspaceID)
		if err != nil {
			return err
		}
		if !job.CanCancel() {
			return fmt.Errorf("job %s is not cancellable in status %s", job.ID, job.Status)
		}
		job.Status = domain.JobFailed
		job.ErrorMessage = "Cancelled by user"
		return repo.Update(job)
	},
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print queue stats (spec.md §4.4 getStats)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, closeDB, err := jobsDB()
		if err != nil {
			return err
		}
		defer closeDB()

		stats, err := repo.Stats(jobsWorkspaceID)
		if err != nil {
			return err
		}
		fmt.Printf("waiting=%d active=%d completed=%d failed=%d\n", stats.Waiting, stats.Active, stats.Completed, stats.Failed)
		return nil
	},
}

func init() {
	jobsCmd.PersistentFlags().StringVar(&jobsWorkspaceID, "workspace", "", "workspace id to scope the query to")
}
