// Package ephemeral is the short-TTL store backing CLISession heartbeats
// and OutputBuffer snapshots (spec.md §4.2, §4.3), grounded on the
// zjrosen-perles internal/cachemanager.InMemoryCacheManager generic
// wrapper around patrickmn/go-cache, generalized from a single-use-case
// manager into the two concrete stores this orchestrator needs.
package ephemeral

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/devos-ai/orchestrator/internal/domain"
)

// DefaultOutputBufferTTL is the snapshot retention named in spec.md §4.3:
// "buffered output older than 1 hour may be discarded."
const DefaultOutputBufferTTL = time.Hour

// DefaultCleanupInterval mirrors the prior go-cache janitor cadence.
const DefaultCleanupInterval = 10 * time.Minute

// Store is the ephemeral backing for CLISession heartbeats and
// OutputBuffer snapshots. Unlike the prior generic InMemoryCacheManager,
// this store is typed to the two concrete record kinds it holds, since both
// have distinct key schemes (spec.md §4.2/§4.3).
type Store struct {
	sessions *gocache.Cache
	output   *gocache.Cache
}

// New builds a Store with outputTTL applied to buffered output snapshots.
// Session heartbeats use NoExpiration and are evicted explicitly when a
// session completes, since their lifetime is tied to the session's own
// lifecycle rather than a fixed TTL.
func New(outputTTL time.Duration) *Store {
	return &Store{
		sessions: gocache.New(gocache.NoExpiration, DefaultCleanupInterval),
		output:   gocache.New(outputTTL, DefaultCleanupInterval),
	}
}

func sessionKey(sessionID string) string { return "cli:session:" + sessionID }
func outputKey(sessionID string) string  { return "cli:output:" + sessionID }

// PutSession stores or refreshes a session's heartbeat record.
func (s *Store) PutSession(session *domain.CLISession) {
	s.sessions.Set(sessionKey(session.SessionID), session, gocache.NoExpiration)
}

// GetSession returns a session's last known heartbeat record.
func (s *Store) GetSession(sessionID string) (*domain.CLISession, bool) {
	v, found := s.sessions.Get(sessionKey(sessionID))
	if !found {
		return nil, false
	}
	session, ok := v.(*domain.CLISession)
	if !ok {
		return nil, false
	}
	return session, true
}

// DeleteSession removes a session's heartbeat record once it reaches a
// terminal state.
func (s *Store) DeleteSession(sessionID string) {
	s.sessions.Delete(sessionKey(sessionID))
}

// ListSessions returns every currently tracked session heartbeat, used by
// the Session Health Monitor's polling loop.
func (s *Store) ListSessions() []*domain.CLISession {
	items := s.sessions.Items()
	out := make([]*domain.CLISession, 0, len(items))
	for _, item := range items {
		if session, ok := item.Object.(*domain.CLISession); ok {
			out = append(out, session)
		}
	}
	return out
}

// OutputSnapshot is the buffered-output record returned by getBufferedOutput
// (spec.md §4.3).
type OutputSnapshot struct {
	SessionID string
	Lines     []string
	Truncated bool
	UpdatedAt time.Time
}

// PutOutput stores the current snapshot of a session's output buffer,
// resetting its TTL (spec.md §4.3: snapshots are written at most once per
// second and expire after the configured output-buffer TTL).
func (s *Store) PutOutput(snap *OutputSnapshot) {
	s.output.SetDefault(outputKey(snap.SessionID), snap)
}

// ErrOutputNotFound is returned when a session has no output snapshot,
// resolving the Open Question in spec.md §9 on what getBufferedOutput does
// after eviction (SPEC_FULL.md §10: return NotFound rather than an empty
// buffer). The same error is returned before the first snapshot is written
// and after one has expired past its TTL; the two cases are not
// distinguished.
var ErrOutputNotFound = fmt.Errorf("ephemeral: output snapshot not found or expired")

// GetOutput returns a session's last buffered-output snapshot.
func (s *Store) GetOutput(sessionID string) (*OutputSnapshot, error) {
	v, found := s.output.Get(outputKey(sessionID))
	if !found {
		return nil, ErrOutputNotFound
	}
	snap, ok := v.(*OutputSnapshot)
	if !ok {
		return nil, ErrOutputNotFound
	}
	return snap, nil
}

// DeleteOutput removes a session's buffered output immediately, used once
// a session's completion has been durably recorded and its final output
// has been flushed elsewhere.
func (s *Store) DeleteOutput(sessionID string) {
	s.output.Delete(outputKey(sessionID))
}
