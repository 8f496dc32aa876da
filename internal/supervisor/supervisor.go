// Package supervisor is the Process Supervisor (spec.md §4.1): it prepares
// a workspace, spawns an agent CLI inside it under a PTY, streams its
// output into the Output Stream Buffer, and emits completion/failure
// events. Grounded directly on the prior internal/engine.invokeAgent
// and processConcern (internal/engine/engine.go): the same PTY-allocation
// idiom (stdin as a pipe, stdout/stderr joined to one pty.Open() pair,
// io.Copy tolerating the end-of-process EIO) is kept, generalized from a
// synchronous single-shot call into an async, supervised session with its
// own goroutine, heartbeat tracking and cancellation.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/devos-ai/orchestrator/internal/domain"
	"github.com/devos-ai/orchestrator/internal/ephemeral"
	"github.com/devos-ai/orchestrator/internal/events"
	"github.com/devos-ai/orchestrator/internal/fileutil"
	"github.com/devos-ai/orchestrator/internal/gitgw"
	"github.com/devos-ai/orchestrator/internal/outputbuf"
)

// WorkspacePrepFailedError wraps a failure to prepare the git workspace
// before spawn (spec.md §4.1).
type WorkspacePrepFailedError struct{ Err error }

func (e *WorkspacePrepFailedError) Error() string { return "workspace prep failed: " + e.Err.Error() }
func (e *WorkspacePrepFailedError) Unwrap() error  { return e.Err }

// SpawnFailedError wraps a failure to start the agent CLI process itself.
type SpawnFailedError struct{ Err error }

func (e *SpawnFailedError) Error() string { return "spawn failed: " + e.Err.Error() }
func (e *SpawnFailedError) Unwrap() error  { return e.Err }

// AgentCommand is the external CLI invoked for every spawned session
// (spec.md §6 AGENT_CLI_COMMAND/AGENT_CLI_ARGS settings).
type AgentCommand struct {
	Command string
	Args    []string
}

// Supervisor owns the set of currently running CLI sessions.
type Supervisor struct {
	cmd    AgentCommand
	store  *ephemeral.Store
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*runningSession
}

type runningSession struct {
	cancel context.CancelFunc
	buf    *outputbuf.Buffer
}

// New creates a Supervisor bound to the given agent CLI command.
func New(cmd AgentCommand, store *ephemeral.Store, bus *events.Bus, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cmd:      cmd,
		store:    store,
		bus:      bus,
		logger:   logger,
		sessions: make(map[string]*runningSession),
	}
}

// Spawn prepares the workspace, starts the agent CLI under a PTY, and
// returns the new session's id immediately; the session runs to completion
// on its own goroutine, publishing TopicSessionCompleted/Failed when done.
func (s *Supervisor) Spawn(ctx context.Context, workspaceRoot string, params domain.SpawnParams, token, contextPrompt string) (string, error) {
	sessionID := uuid.NewString()
	workspaceDir := fileutil.WorkspaceDir(workspaceRoot, params.WorkspaceID, params.ProjectID)

	repo, err := gitgw.Prepare(workspaceDir, params.GitRepoURL, token, params.BaseBranch)
	if err != nil {
		return "", &WorkspacePrepFailedError{Err: err}
	}

	// Only Dev/QA sessions work against a per-story feature branch; Planner
	// and DevOps sessions operate directly on the prepared base branch.
	if params.StoryID != "" {
		branch, err := gitgw.DevBranchName(params.StoryID)
		if err != nil {
			return "", &WorkspacePrepFailedError{Err: err}
		}
		if !repo.BranchExists(branch) {
			if err := repo.CreateBranch(branch, params.BaseBranch); err != nil {
				return "", &WorkspacePrepFailedError{Err: err}
			}
		}
		if err := repo.Checkout(branch); err != nil {
			return "", &WorkspacePrepFailedError{Err: err}
		}
	}

	session := &domain.CLISession{
		SessionID:      sessionID,
		WorkspaceID:    params.WorkspaceID,
		ProjectID:      params.ProjectID,
		AgentID:        params.AgentID,
		AgentType:      params.AgentType,
		Status:         domain.SessionSpawning,
		StartedAt:      time.Now(),
		LastActivityAt: time.Now(),
	}
	s.store.PutSession(session)

	buf := outputbuf.New(s.store, sessionID)
	if err := os.MkdirAll(fileutil.SessionLogDir(workspaceRoot), 0o755); err != nil {
		s.logger.Warn("failed to create session log dir", "session_id", sessionID, "error", err)
	} else if err := buf.EnableFileTail(fileutil.SessionLogPath(workspaceRoot, sessionID)); err != nil {
		s.logger.Warn("failed to enable session log tail", "session_id", sessionID, "error", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.sessions[sessionID] = &runningSession{cancel: cancel, buf: buf}
	s.mu.Unlock()

	go s.run(sessionCtx, session, workspaceDir, contextPrompt, buf)

	s.bus.Publish(events.TopicSessionSpawned, session)
	return sessionID, nil
}

// Terminate cancels a running session's process group, per the cancellation
// semantics resolved in SPEC_FULL.md §10: already-pushed git work is never
// rolled back, only the in-flight session is stopped.
func (s *Supervisor) Terminate(sessionID string) error {
	s.mu.Lock()
	rs, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s is not running", sessionID)
	}
	rs.cancel()
	return nil
}

func (s *Supervisor) run(ctx context.Context, session *domain.CLISession, workspaceDir, contextPrompt string, buf *outputbuf.Buffer) {
	defer func() {
		s.mu.Lock()
		delete(s.sessions, session.SessionID)
		s.mu.Unlock()
		buf.Flush()
		buf.Close()
	}()

	session.Status = domain.SessionRunning
	s.store.PutSession(session)

	exitCode, runErr := s.invoke(ctx, workspaceDir, contextPrompt, session, buf)

	completion := &domain.CompletionEvent{
		SessionID:       session.SessionID,
		ExitCode:        exitCode,
		OutputLineCount: buf.LineCount(),
	}

	if runErr != nil {
		session.Status = domain.SessionFailed
		completion.Success = false
		completion.Error = runErr.Error()
		if errors.Is(ctx.Err(), context.Canceled) {
			session.Status = domain.SessionTerminated
			completion.Reason = "cancelled"
		}
		s.store.PutSession(session)
		s.bus.Publish(events.TopicSessionFailed, completion)
		return
	}

	session.Status = domain.SessionCompleted
	completion.Success = true
	s.store.PutSession(session)
	s.bus.Publish(events.TopicSessionCompleted, completion)
}

// invoke runs the agent CLI under a PTY, kept from the prior
// invokeAgent: stdin is a plain pipe fed the context prompt so the process
// still observes EOF, while stdout/stderr share one pty.Open() pair for
// line-buffered, terminal-aware output.
func (s *Supervisor) invoke(ctx context.Context, workspaceDir, contextPrompt string, session *domain.CLISession, buf *outputbuf.Buffer) (int, error) {
	args := append([]string{}, s.cmd.Args...)
	cmd := exec.CommandContext(ctx, s.cmd.Command, args...)
	cmd.Dir = workspaceDir
	cmd.Stdin = strings.NewReader(contextPrompt)

	ptmx, pts, err := pty.Open()
	if err != nil {
		return -1, &SpawnFailedError{Err: err}
	}
	defer ptmx.Close()

	cmd.Stdout = pts
	cmd.Stderr = pts

	if err := cmd.Start(); err != nil {
		pts.Close()
		return -1, &SpawnFailedError{Err: err}
	}
	pts.Close()
	session.PID = cmd.Process.Pid
	s.store.PutSession(session)

	scanner := bufio.NewScanner(ptmx)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		buf.AppendLine(scanner.Text())
		session.LastActivityAt = time.Now()
		session.OutputLineCount++
		s.bus.Publish(events.TopicSessionProgress, session)
	}
	if err := scanner.Err(); err != nil {
		var pathErr *os.PathError
		if !(errors.As(err, &pathErr) && pathErr.Err == syscall.EIO) {
			return -1, fmt.Errorf("reading agent output: %w", err)
		}
	}

	waitErr := cmd.Wait()
	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return exitCode, waitErr
	}
	return exitCode, nil
}
