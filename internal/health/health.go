// Package health is the Session Health Monitor (spec.md §4.1): it polls
// every tracked CLI session's heartbeat, marks sessions stalled once they
// exceed SESSION_STALL_SECONDS with no new output, and force-terminates
// sessions that exceed SESSION_HARD_TIMEOUT_SECONDS regardless of
// activity. Grounded on the established daemon loop
// (internal/engine/runner.go RunnerLoop): a `select` between a ticker and
// ctx.Done(), and on internal/engine/state.go's ResetActiveStatuses, whose
// "any active state found at startup is stale" rule is the same shape as
// this monitor's stall/timeout sweep, just evaluated continuously instead
// of once at startup.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/devos-ai/orchestrator/internal/domain"
	"github.com/devos-ai/orchestrator/internal/ephemeral"
	"github.com/devos-ai/orchestrator/internal/events"
)

// Terminator is the subset of supervisor.Supervisor the monitor needs, kept
// as a narrow interface so health does not import supervisor directly
// (avoiding a dependency cycle, since supervisor may one day want to query
// health for its own diagnostics).
type Terminator interface {
	Terminate(sessionID string) error
}

// PollInterval is how often the monitor sweeps tracked sessions.
const PollInterval = 30 * time.Second

// Monitor periodically sweeps ephemeral session heartbeats for stall and
// hard-timeout violations.
type Monitor struct {
	store       *ephemeral.Store
	bus         *events.Bus
	terminator  Terminator
	logger      *slog.Logger
	stallAfter  time.Duration
	hardTimeout time.Duration
}

// New builds a Monitor using the configured stall and hard-timeout
// thresholds (spec.md §6 SESSION_STALL_SECONDS / SESSION_HARD_TIMEOUT_SECONDS).
func New(store *ephemeral.Store, bus *events.Bus, terminator Terminator, logger *slog.Logger, stallAfter, hardTimeout time.Duration) *Monitor {
	return &Monitor{
		store:       store,
		bus:         bus,
		terminator:  terminator,
		logger:      logger,
		stallAfter:  stallAfter,
		hardTimeout: hardTimeout,
	}
}

// Run sweeps sessions every PollInterval until ctx is cancelled, in the
// same select-on-ticker-or-ctx.Done shape as the prior RunnerLoop.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Monitor) sweep() {
	now := time.Now()
	for _, session := range m.store.ListSessions() {
		if !session.IsActive() {
			continue
		}

		age := now.Sub(session.StartedAt)
		if age >= m.hardTimeout {
			m.logger.Warn("session exceeded hard timeout, terminating", "session_id", session.SessionID, "age", age)
			if err := m.terminator.Terminate(session.SessionID); err != nil {
				m.logger.Error("failed to terminate timed-out session", "session_id", session.SessionID, "error", err)
			}
			continue
		}

		idle := now.Sub(session.LastActivityAt)
		if idle >= m.stallAfter && session.Status != domain.SessionStalled {
			session.Status = domain.SessionStalled
			m.store.PutSession(session)
			m.logger.Warn("session stalled", "session_id", session.SessionID, "idle", idle)
			m.bus.Publish(events.TopicSessionStalled, session)
		}
	}
}
