// Package acceptance_test exercises the BMAD pipeline chain end to end —
// Planner -> Dev -> QA -> DevOps — through the real Pipeline State Machine,
// Job Queue, Handoff Coordinator and durable store, with a stub Dispatcher
// standing in for the four CLI-driving executors (spec.md §4.6 requires a
// real agent CLI subprocess and GitHub API, neither available here).
package acceptance_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/devos-ai/orchestrator/internal/domain"
	"github.com/devos-ai/orchestrator/internal/events"
	"github.com/devos-ai/orchestrator/internal/handoff"
	"github.com/devos-ai/orchestrator/internal/logging"
	"github.com/devos-ai/orchestrator/internal/pipeline"
	"github.com/devos-ai/orchestrator/internal/queue"
	"github.com/devos-ai/orchestrator/internal/store"
)

func TestAcceptance(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Pipeline Acceptance Suite")
}

// stubDispatcher lets a test script a canned result for the next Dispatch
// call instead of spawning a real CLI session.
type stubDispatcher struct {
	result map[string]any
	err    error
}

func (s *stubDispatcher) Dispatch(ctx context.Context, job *domain.Job) (map[string]any, error) {
	return s.result, s.err
}

// harness wires one in-memory instance of every subsystem the Handoff
// Coordinator touches, the same composition order as internal/cli/run.go's
// queue -> dispatcher -> coordinator -> dispatcher.SetHandoff cycle.
type harness struct {
	db          *store.DB
	bus         *events.Bus
	pipeline    *pipeline.Machine
	queue       *queue.Queue
	coordinator *handoff.Coordinator
	stories     *store.StoryRepository
	jobs        *store.JobRepository
	dispatcher  *stubDispatcher
}

func newHarness() *harness {
	db, err := store.Open(":memory:")
	Expect(err).NotTo(HaveOccurred())

	logger := logging.New(false)
	bus := events.NewBus()
	jobRepo := store.NewJobRepository(db)
	pipelineRepo := store.NewPipelineRepository(db)
	handoffRepo := store.NewHandoffRepository(db)
	storyRepo := store.NewStoryRepository(db)

	pipelineMachine := pipeline.New(pipelineRepo, bus, logger)
	dispatcher := &stubDispatcher{}
	jobQueue := queue.New(jobRepo, dispatcher, logger, 4)
	coordinator := handoff.New(pipelineMachine, jobQueue, storyRepo, handoffRepo, bus, logger, 4)

	return &harness{
		db: db, bus: bus, pipeline: pipelineMachine, queue: jobQueue,
		coordinator: coordinator, stories: storyRepo, jobs: jobRepo, dispatcher: dispatcher,
	}
}

func (h *harness) close() { h.db.Close() }

var _ = Describe("BMAD pipeline chain", func() {
	var h *harness
	const projectID = "proj-1"
	const workspaceID = "ws-1"

	BeforeEach(func() {
		h = newHarness()
		_, err := h.pipeline.Create(projectID, workspaceID, "wf-1", "https://github.com/acme/widgets", "main", domain.DefaultMaxRetries)
		Expect(err).NotTo(HaveOccurred())
		_, err = h.pipeline.Transition(projectID, domain.StatePlanning, "orchestrator", nil)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() { h.close() })

	It("routes Planner -> Dev -> QA -> DevOps and completes the pipeline", func() {
		Expect(h.stories.Upsert(&domain.Story{
			ID: "1-1", EpicID: "1", Title: "first story",
			AcceptanceCriteria: []string{"does the thing"}, State: string(domain.StateReadyForDev),
		})).To(Succeed())

		By("planner hands off to dev")
		Expect(h.coordinator.Handle(context.Background(), handoff.CompletionContext{
			ProjectID: projectID, WorkspaceID: workspaceID, FromAgentType: domain.AgentPlanner,
			Success: true, Result: map[string]any{"storiesCreated": []string{"1-1"}, "commitHash": "abc123"},
		})).To(Succeed())

		ctx, err := h.pipeline.Get(projectID)
		Expect(err).NotTo(HaveOccurred())
		Expect(ctx.CurrentState).To(Equal(domain.StateImplementing))

		By("dev hands off to qa")
		Expect(h.coordinator.Handle(context.Background(), handoff.CompletionContext{
			ProjectID: projectID, WorkspaceID: workspaceID, StoryID: "1-1", FromAgentType: domain.AgentDev,
			Success: true, Result: map[string]any{"branch": "devos/dev/1-1", "prUrl": "https://github.com/acme/widgets/pull/1", "prNumber": 1},
		})).To(Succeed())

		ctx, err = h.pipeline.Get(projectID)
		Expect(err).NotTo(HaveOccurred())
		Expect(ctx.CurrentState).To(Equal(domain.StateInQA))

		By("qa passes and hands off to devops")
		Expect(h.coordinator.Handle(context.Background(), handoff.CompletionContext{
			ProjectID: projectID, WorkspaceID: workspaceID, StoryID: "1-1", FromAgentType: domain.AgentQA,
			Success: true, Result: map[string]any{"verdict": domain.VerdictPass, "prNumber": 1},
		})).To(Succeed())

		ctx, err = h.pipeline.Get(projectID)
		Expect(err).NotTo(HaveOccurred())
		Expect(ctx.CurrentState).To(Equal(domain.StateReadyForDeploy))

		By("devops deploys and completes the pipeline")
		Expect(h.coordinator.Handle(context.Background(), handoff.CompletionContext{
			ProjectID: projectID, WorkspaceID: workspaceID, StoryID: "1-1", FromAgentType: domain.AgentDevOps,
			Success: true, Result: map[string]any{"deploymentUrl": "https://widgets.example.com"},
		})).To(Succeed())

		ctx, err = h.pipeline.Get(projectID)
		Expect(err).NotTo(HaveOccurred())
		Expect(ctx.CurrentState).To(Equal(domain.StateCompleted))
		Expect(ctx.IsTerminal()).To(BeTrue())
	})

	It("routes a QA failure back to dev for rework within the retry budget", func() {
		_, err := h.pipeline.Transition(projectID, domain.StateReadyForDev, "orchestrator", nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = h.pipeline.Transition(projectID, domain.StateImplementing, "orchestrator", nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = h.pipeline.Transition(projectID, domain.StateInQA, "orchestrator", nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(h.coordinator.Handle(context.Background(), handoff.CompletionContext{
			ProjectID: projectID, WorkspaceID: workspaceID, StoryID: "1-1", FromAgentType: domain.AgentQA,
			Success: true, Result: map[string]any{"verdict": domain.VerdictNeedsChanges, "changeRequests": []string{"fix the thing"}},
		})).To(Succeed())

		ctx, err := h.pipeline.Get(projectID)
		Expect(err).NotTo(HaveOccurred())
		Expect(ctx.CurrentState).To(Equal(domain.StateImplementing))
		Expect(ctx.RetryCount).To(Equal(1))
	})

	It("fails the pipeline once the QA retry budget is exhausted", func() {
		_, err := h.pipeline.Transition(projectID, domain.StateReadyForDev, "orchestrator", nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = h.pipeline.Transition(projectID, domain.StateImplementing, "orchestrator", nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = h.pipeline.Transition(projectID, domain.StateInQA, "orchestrator", nil)
		Expect(err).NotTo(HaveOccurred())

		for i := 0; i < domain.DefaultMaxRetries; i++ {
			_, err = h.pipeline.Transition(projectID, domain.StateImplementing, "orchestrator", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = h.pipeline.Transition(projectID, domain.StateInQA, "orchestrator", nil)
			Expect(err).NotTo(HaveOccurred())
		}

		ctx, err := h.pipeline.Get(projectID)
		Expect(err).NotTo(HaveOccurred())
		Expect(ctx.RetryCount).To(Equal(domain.DefaultMaxRetries))

		Expect(h.coordinator.Handle(context.Background(), handoff.CompletionContext{
			ProjectID: projectID, WorkspaceID: workspaceID, StoryID: "1-1", FromAgentType: domain.AgentQA,
			Success: true, Result: map[string]any{"verdict": domain.VerdictFail, "changeRequests": []string{"still broken"}},
		})).To(Succeed())

		ctx, err = h.pipeline.Get(projectID)
		Expect(err).NotTo(HaveOccurred())
		Expect(ctx.CurrentState).To(Equal(domain.StateFailed))
	})

	It("fails the pipeline when an executor reports an unsuccessful result", func() {
		Expect(h.coordinator.Handle(context.Background(), handoff.CompletionContext{
			ProjectID: projectID, WorkspaceID: workspaceID, FromAgentType: domain.AgentPlanner,
			Success: false, ErrorMessage: "planner CLI crashed",
		})).To(Succeed())

		ctx, err := h.pipeline.Get(projectID)
		Expect(err).NotTo(HaveOccurred())
		Expect(ctx.CurrentState).To(Equal(domain.StateFailed))
	})

	It("cancels a pending job with the exact testable cancellation message", func() {
		job, err := h.queue.Enqueue(workspaceID, projectID, domain.JobSpawnAgent, map[string]any{"agentType": string(domain.AgentDev)}, domain.DefaultPriority)
		Expect(err).NotTo(HaveOccurred())

		Expect(h.queue.CancelJob(job.ID, workspaceID)).To(Succeed())

		cancelled, err := h.queue.GetJob(job.ID, workspaceID)
		Expect(err).NotTo(HaveOccurred())
		Expect(cancelled.Status).To(Equal(domain.JobFailed))
		Expect(cancelled.ErrorMessage).To(Equal("Cancelled by user"))
	})
})
