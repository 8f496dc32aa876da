// Package outputbuf is the Output Stream Buffer (spec.md §4.3): a bounded,
// per-session in-memory ring of output lines, periodically snapshotted into
// the ephemeral store so getBufferedOutput can serve a session's recent
// output without holding a live pipe open. Grounded on the prior
// engine.LogManager (internal/engine/engine.go), which owns one open
// *os.File per concern name; this generalizes that per-key ownership model
// from a file handle to an in-memory bounded buffer plus snapshot cadence.
package outputbuf

import (
	"os"
	"sync"
	"time"

	"github.com/devos-ai/orchestrator/internal/ephemeral"
)

// MaxLines bounds memory per session (spec.md §4.3: "bounded memory with an
// elision marker" rather than unbounded retention).
const MaxLines = 2000

// SnapshotInterval is the maximum cadence at which a session's buffer is
// flushed to the ephemeral store (spec.md §4.3: "at most once per second").
const SnapshotInterval = time.Second

// elisionMarker is prepended to every snapshot taken after lines have been
// dropped past MaxLines, so a reader can tell older output was dropped
// rather than never written.
const elisionMarker = "... [earlier output elided] ..."

// Buffer is one session's bounded output ring plus its snapshot cadence.
type Buffer struct {
	mu        sync.Mutex
	sessionID string
	lines     []string
	truncated bool
	lastFlush time.Time
	store     *ephemeral.Store
	tailFile  *os.File
}

// New creates a Buffer for sessionID, backed by store for snapshotting.
func New(store *ephemeral.Store, sessionID string) *Buffer {
	return &Buffer{sessionID: sessionID, store: store}
}

// EnableFileTail opens (creating if needed) an append-only file at path and
// tees every subsequent AppendLine call to it. This exists for the rare case
// a reader (the `line logs -f` equivalent CLI command) wants to follow a
// session's raw output via fsnotify rather than polling the ephemeral
// store's once-per-second snapshot. Safe to call at most once per Buffer;
// a second call replaces the previous file.
func (b *Buffer) EnableFileTail(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.tailFile = f
	b.mu.Unlock()
	return nil
}

// AppendLine adds one line of agent output, eliding the oldest line once
// MaxLines is exceeded, and flushes a snapshot if SnapshotInterval has
// elapsed since the last one.
func (b *Buffer) AppendLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, line)
	if len(b.lines) > MaxLines {
		b.lines = b.lines[len(b.lines)-MaxLines:]
		b.truncated = true
	}

	if b.tailFile != nil {
		b.tailFile.WriteString(line + "\n")
	}

	if time.Since(b.lastFlush) >= SnapshotInterval {
		b.flushLocked()
	}
}

// Close releases the tailed file, if any. Safe to call even when
// EnableFileTail was never called.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tailFile == nil {
		return nil
	}
	err := b.tailFile.Close()
	b.tailFile = nil
	return err
}

// Flush forces an immediate snapshot regardless of cadence, used when a
// session completes so the final lines are always durable in the ephemeral
// store before the live buffer is discarded.
func (b *Buffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Buffer) flushLocked() {
	snapshotLines := make([]string, len(b.lines))
	copy(snapshotLines, b.lines)
	if b.truncated {
		snapshotLines = append([]string{elisionMarker}, snapshotLines...)
	}
	b.store.PutOutput(&ephemeral.OutputSnapshot{
		SessionID: b.sessionID,
		Lines:     snapshotLines,
		Truncated: b.truncated,
		UpdatedAt: time.Now(),
	})
	b.lastFlush = time.Now()
}

// LineCount returns the number of lines currently retained (pre-elision
// count is not tracked; this is the live in-memory count), used to populate
// domain.CLISession.OutputLineCount.
func (b *Buffer) LineCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
