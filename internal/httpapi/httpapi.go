// Package httpapi is the control plane (spec.md §6): the HTTP surface for
// enqueueing/inspecting Jobs and reading PipelineContext/history. Every
// route requires bearer auth plus a workspace-membership check
// (internal/auth), matching the `{workspaceId}`-scoped routing style of
// the other_examples/ raphaeltm-simple-agent-manager server
// (`mux.HandleFunc("GET /workspaces/{workspaceId}/...", ...)` on a Go 1.22+
// net/http.ServeMux) — no web framework is adopted since that pack file
// itself reaches only for the standard library's routing patterns.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/devos-ai/orchestrator/internal/auth"
	"github.com/devos-ai/orchestrator/internal/domain"
	"github.com/devos-ai/orchestrator/internal/pipeline"
	"github.com/devos-ai/orchestrator/internal/queue"
	"github.com/devos-ai/orchestrator/internal/scrub"
	"github.com/devos-ai/orchestrator/internal/store"
	"github.com/devos-ai/orchestrator/internal/supervisor"
)

// Server wires the Job Queue and Pipeline State Machine behind the
// control-plane routes of spec.md §6.
type Server struct {
	queue      *queue.Queue
	jobs       *store.JobRepository
	pipeline   *pipeline.Machine
	supervisor *supervisor.Supervisor
	validator  *auth.Validator
	logger     *slog.Logger
	mux        *http.ServeMux
}

// New builds a Server and registers every route.
func New(q *queue.Queue, jobs *store.JobRepository, p *pipeline.Machine, sup *supervisor.Supervisor, validator *auth.Validator, logger *slog.Logger) *Server {
	s := &Server{queue: q, jobs: jobs, pipeline: p, supervisor: sup, validator: validator, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

// ServeHTTP satisfies http.Handler so Server can be passed straight to
// http.Server.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /workspaces/{workspaceId}/agent-queue/jobs", s.withAuth(s.createJob))
	s.mux.HandleFunc("GET /workspaces/{workspaceId}/agent-queue/jobs/{jobId}", s.withAuth(s.getJob))
	s.mux.HandleFunc("GET /workspaces/{workspaceId}/agent-queue/jobs", s.withAuth(s.listJobs))
	s.mux.HandleFunc("DELETE /workspaces/{workspaceId}/agent-queue/jobs/{jobId}", s.withAuth(s.cancelJob))
	s.mux.HandleFunc("GET /workspaces/{workspaceId}/agent-queue/stats", s.withAuth(s.stats))
	s.mux.HandleFunc("GET /workspaces/{workspaceId}/orchestrator/{projectId}", s.withAuth(s.getPipeline))
	s.mux.HandleFunc("GET /workspaces/{workspaceId}/orchestrator/{projectId}/history", s.withAuth(s.getHistory))
}

// withAuth enforces bearer auth + workspace membership (spec.md §6) before
// calling next, and applies the uniform error taxonomy on the way out.
func (s *Server) withAuth(next func(w http.ResponseWriter, r *http.Request, claims *auth.Claims)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.validator.Verify(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, scrub.String(err.Error()))
			return
		}
		workspaceID := r.PathValue("workspaceId")
		if !claims.IsMember(workspaceID) {
			writeError(w, http.StatusForbidden, auth.ErrNotMember.Error())
			return
		}
		next(w, r, claims)
	}
}

// --- jobs ---

type createJobRequest struct {
	JobType  domain.JobType `json:"jobType"`
	Data     map[string]any `json:"data"`
	Priority int            `json:"priority"`
}

var validJobTypes = map[domain.JobType]bool{
	domain.JobSpawnAgent: true, domain.JobExecuteTask: true, domain.JobRecoverContext: true,
	domain.JobTerminateAgent: true, domain.JobChat: true,
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request, _ *auth.Claims) {
	workspaceID := r.PathValue("workspaceId")
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validJobTypes[req.JobType] {
		writeError(w, http.StatusBadRequest, "invalid jobType")
		return
	}
	projectID, _ := req.Data["projectId"].(string)
	job, err := s.queue.Enqueue(workspaceID, projectID, req.JobType, req.Data, req.Priority)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id": job.ID, "status": job.Status, "jobType": job.JobType, "createdAt": job.CreatedAt,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request, _ *auth.Claims) {
	job, err := s.queue.GetJob(r.PathValue("jobId"), r.PathValue("workspaceId"))
	if err != nil {
		writeNotFoundOrError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request, _ *auth.Claims) {
	workspaceID := r.PathValue("workspaceId")
	q := r.URL.Query()
	filter := store.ListFilter{
		Status:  domain.JobStatus(q.Get("status")),
		JobType: domain.JobType(q.Get("jobType")),
		Limit:   clampInt(q.Get("limit"), 20, 1, 100),
		Offset:  clampInt(q.Get("offset"), 0, 0, 1<<30),
	}
	jobs, total, err := s.jobs.List(workspaceID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing jobs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs": jobs, "total": total, "limit": filter.Limit, "offset": filter.Offset,
	})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request, _ *auth.Claims) {
	workspaceID, jobID := r.PathValue("workspaceId"), r.PathValue("jobId")
	job, err := s.queue.GetJob(jobID, workspaceID)
	if err != nil {
		writeNotFoundOrError(w, err)
		return
	}
	if !job.CanCancel() {
		writeError(w, http.StatusConflict, "job is already completed or failed")
		return
	}
	if err := s.queue.CancelJob(jobID, workspaceID); err != nil {
		writeError(w, http.StatusConflict, scrub.String(err.Error()))
		return
	}
	// Cancellation requests termination of any associated session
	// (spec.md §5): the session id, if any, is read from the job's payload.
	if sessionID, ok := job.Payload["sessionId"].(string); ok && sessionID != "" {
		if err := s.supervisor.Terminate(sessionID); err != nil {
			s.logger.Warn("failed to terminate session for cancelled job", "job_id", jobID, "error", err)
		}
	}
	updated, err := s.queue.GetJob(jobID, workspaceID)
	if err != nil {
		writeNotFoundOrError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request, _ *auth.Claims) {
	stats, err := s.queue.GetStats(r.PathValue("workspaceId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "computing stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- orchestrator ---

func (s *Server) getPipeline(w http.ResponseWriter, r *http.Request, _ *auth.Claims) {
	ctx, err := s.pipeline.Get(r.PathValue("projectId"))
	if err != nil {
		writeNotFoundOrError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ctx)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request, _ *auth.Claims) {
	q := r.URL.Query()
	limit := clampInt(q.Get("limit"), 0, 0, 1000)
	offset := clampInt(q.Get("offset"), 0, 0, 1<<30)
	history, err := s.pipeline.HistoryPage(r.PathValue("projectId"), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading history failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// --- helpers ---

func clampInt(raw string, def, min, max int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": scrub.String(message)})
}

func writeNotFoundOrError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}
