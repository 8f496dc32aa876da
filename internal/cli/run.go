package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devos-ai/orchestrator/internal/auth"
	"github.com/devos-ai/orchestrator/internal/config"
	"github.com/devos-ai/orchestrator/internal/deploy"
	"github.com/devos-ai/orchestrator/internal/ephemeral"
	"github.com/devos-ai/orchestrator/internal/events"
	"github.com/devos-ai/orchestrator/internal/executor"
	"github.com/devos-ai/orchestrator/internal/fileutil"
	"github.com/devos-ai/orchestrator/internal/handoff"
	"github.com/devos-ai/orchestrator/internal/health"
	"github.com/devos-ai/orchestrator/internal/httpapi"
	"github.com/devos-ai/orchestrator/internal/logging"
	"github.com/devos-ai/orchestrator/internal/pipeline"
	"github.com/devos-ai/orchestrator/internal/queue"
	"github.com/devos-ai/orchestrator/internal/store"
	"github.com/devos-ai/orchestrator/internal/supervisor"
)

var debugFlag bool

func init() {
	runCmd.Flags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the orchestrator: job queue worker, health monitor and control-plane API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), configPath, debugFlag)
	},
}

// daemon is the composition root: every subsystem in spec.md §4 wired
// together, built the way the established cmd/line built its
// RunnerLoop — load config, open the durable store, construct each
// component in dependency order, then run until signaled.
type daemon struct {
	cfg        *config.Config
	db         *store.DB
	bus        *events.Bus
	ephemeral  *ephemeral.Store
	supervisor *supervisor.Supervisor
	health     *health.Monitor
	queue      *queue.Queue
	pipeline   *pipeline.Machine
	handoff    *handoff.Coordinator
	httpServer *http.Server
}

func run(ctx context.Context, configPath string, debug bool) error {
	logger := logging.New(debug)
	fileutil.SetLogger(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			logger.Error(e.Error())
		}
		return errs[0]
	}

	dbPath := cfg.Store.PipelineStateBackendURL
	if dbPath == "" {
		dbPath = "line.db"
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	bus := events.NewBus()
	eph := ephemeral.New(cfg.Settings.OutputBufferTTL.Duration())

	sup := supervisor.New(
		supervisor.AgentCommand{Command: cfg.Agent.Command, Args: cfg.Agent.Args},
		eph, bus, logger,
	)

	monitor := health.New(eph, bus, sup, logger,
		time.Duration(cfg.Settings.SessionStallSeconds)*time.Second,
		time.Duration(cfg.Settings.SessionHardTimeoutSeconds)*time.Second,
	)

	jobRepo := store.NewJobRepository(db)
	pipelineRepo := store.NewPipelineRepository(db)
	handoffRepo := store.NewHandoffRepository(db)
	storyRepo := store.NewStoryRepository(db)

	pipelineMachine := pipeline.New(pipelineRepo, bus, logger)

	deployRegistry := deploy.NewRegistry(
		deploy.NewRailwayAdapter(os.Getenv("RAILWAY_TOKEN")),
		deploy.NewVercelAdapter(os.Getenv("VERCEL_TOKEN")),
	)

	deps := executor.Deps{
		Supervisor:            sup,
		Stories:               storyRepo,
		Output:                eph,
		Bus:                   bus,
		Logger:                logger,
		WorkspaceRoot:         cfg.Settings.WorkspaceRoot,
		GitToken:              os.Getenv("GIT_TOKEN"),
		Deploy:                deployRegistry,
		DeployMonitorInterval: 10 * time.Second,
		DeployHardTimeout:     cfg.Settings.DeployMonitorTimeout.Duration(),
		SmokeTestTimeout:      cfg.Settings.SmokeTestTimeout.Duration(),
	}
	// dispatcher -> queue -> handoff.Coordinator -> queue is a construction
	// cycle (the Coordinator enqueues the next job on the same queue the
	// Dispatcher drains), so the Dispatcher is built without its Handoff
	// Coordinator first and wired up with SetHandoff once the Coordinator
	// exists (spec.md §4.7: "on completion, the Handoff Coordinator ...
	// enqueues the next Job").
	dispatcher := executor.NewDispatcher(deps, nil)

	jobQueue := queue.New(jobRepo, dispatcher, logger, int64(cfg.Settings.MaxParallelAgents))

	coordinator := handoff.New(pipelineMachine, jobQueue, storyRepo, handoffRepo, bus, logger, int64(cfg.Settings.MaxParallelAgents))
	dispatcher.SetHandoff(coordinator)

	validator := auth.NewValidator(cfg.HTTP.JWTSigningKey)
	api := httpapi.New(jobQueue, jobRepo, pipelineMachine, sup, validator, logger)

	// Recovery on startup (spec.md §4.5): any non-terminal pipeline whose
	// active agent's session is no longer tracked is stale from a crashed
	// process and is cleared so a fresh handoff can proceed.
	if _, err := pipelineMachine.Recover(func(sessionID string) bool {
		_, alive := eph.GetSession(sessionID)
		return alive
	}); err != nil {
		logger.Error("pipeline recovery failed", "error", err)
	}

	d := &daemon{
		cfg: cfg, db: db, bus: bus, ephemeral: eph, supervisor: sup,
		health: monitor, queue: jobQueue, pipeline: pipelineMachine, handoff: coordinator,
		httpServer: &http.Server{Addr: cfg.HTTP.ListenAddr, Handler: api},
	}

	return d.runUntilSignal(ctx, logger)
}

func (d *daemon) runUntilSignal(parent context.Context, logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go d.health.Run(ctx)
	go func() {
		if err := d.queue.Run(ctx); err != nil {
			logger.Error("job queue stopped", "error", err)
		}
	}()
	go func() {
		logger.Info("control plane listening", "addr", d.cfg.HTTP.ListenAddr)
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return d.httpServer.Shutdown(shutdownCtx)
}
