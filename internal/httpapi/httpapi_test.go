package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"

	"github.com/devos-ai/orchestrator/internal/auth"
	"github.com/devos-ai/orchestrator/internal/domain"
	"github.com/devos-ai/orchestrator/internal/events"
	"github.com/devos-ai/orchestrator/internal/logging"
	"github.com/devos-ai/orchestrator/internal/pipeline"
	"github.com/devos-ai/orchestrator/internal/queue"
	"github.com/devos-ai/orchestrator/internal/store"
	"github.com/devos-ai/orchestrator/internal/supervisor"
)

const signingKey = "test-signing-key"

// fakeDispatcher satisfies queue.Dispatcher without spawning a real CLI
// session; these tests never run the worker loop, only the HTTP handlers.
type fakeDispatcher struct{}

func (fakeDispatcher) Dispatch(ctx context.Context, job *domain.Job) (map[string]any, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *store.DB) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)

	logger := logging.New(false)
	jobRepo := store.NewJobRepository(db)
	pipelineRepo := store.NewPipelineRepository(db)
	pipelineMachine := pipeline.New(pipelineRepo, events.NewBus(), logger)
	jobQueue := queue.New(jobRepo, fakeDispatcher{}, logger, 4)
	sup := supervisor.New(supervisor.AgentCommand{Command: "true"}, nil, events.NewBus(), logger)
	validator := auth.NewValidator(signingKey)

	s := New(jobQueue, jobRepo, pipelineMachine, sup, validator, logger)
	return s, db
}

func bearerFor(t *testing.T, workspaces []string, admin bool) string {
	t.Helper()
	claims := &auth.Claims{Workspaces: workspaces, Admin: admin}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(signingKey))
	require.NoError(t, err)
	return "Bearer " + signed
}

func TestCreateJob_RequiresBearerAuth(t *testing.T) {
	s, db := newTestServer(t)
	defer db.Close()

	req := httptest.NewRequest(http.MethodPost, "/workspaces/ws-1/agent-queue/jobs", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateJob_RejectsNonMember(t *testing.T) {
	s, db := newTestServer(t)
	defer db.Close()

	req := httptest.NewRequest(http.MethodPost, "/workspaces/ws-1/agent-queue/jobs", strings.NewReader(`{"jobType":"spawn-agent"}`))
	req.Header.Set("Authorization", bearerFor(t, []string{"ws-2"}, false))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateJob_EnqueuesAndReturnsJob(t *testing.T) {
	s, db := newTestServer(t)
	defer db.Close()

	body := `{"jobType":"spawn-agent","data":{"projectId":"proj-1","agentType":"dev"},"priority":10}`
	req := httptest.NewRequest(http.MethodPost, "/workspaces/ws-1/agent-queue/jobs", strings.NewReader(body))
	req.Header.Set("Authorization", bearerFor(t, []string{"ws-1"}, false))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "pending", resp["status"])
}

func TestCreateJob_RejectsInvalidJobType(t *testing.T) {
	s, db := newTestServer(t)
	defer db.Close()

	req := httptest.NewRequest(http.MethodPost, "/workspaces/ws-1/agent-queue/jobs", strings.NewReader(`{"jobType":"not-a-real-type"}`))
	req.Header.Set("Authorization", bearerFor(t, []string{"ws-1"}, false))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelJob_ReturnsExactCancellationMessage(t *testing.T) {
	s, db := newTestServer(t)
	defer db.Close()

	job, err := s.queue.Enqueue("ws-1", "proj-1", domain.JobSpawnAgent, map[string]any{"agentType": "dev"}, domain.DefaultPriority)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/workspaces/ws-1/agent-queue/jobs/"+job.ID, nil)
	req.Header.Set("Authorization", bearerFor(t, []string{"ws-1"}, false))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Cancelled by user", resp.ErrorMessage)
	require.Equal(t, domain.JobFailed, resp.Status)
}

func TestListJobs_AdminSeesAnyWorkspace(t *testing.T) {
	s, db := newTestServer(t)
	defer db.Close()

	_, err := s.queue.Enqueue("ws-1", "proj-1", domain.JobSpawnAgent, map[string]any{}, domain.DefaultPriority)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/workspaces/ws-1/agent-queue/jobs", nil)
	req.Header.Set("Authorization", bearerFor(t, nil, true))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.EqualValues(t, 1, resp["total"])
}
