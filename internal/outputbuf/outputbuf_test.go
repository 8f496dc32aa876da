package outputbuf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devos-ai/orchestrator/internal/ephemeral"
)

func TestAppendLineTracksCount(t *testing.T) {
	store := ephemeral.New(time.Hour)
	buf := New(store, "sess-1")

	buf.AppendLine("first")
	buf.AppendLine("second")

	if got := buf.LineCount(); got != 2 {
		t.Fatalf("LineCount() = %d, want 2", got)
	}
}

func TestAppendLineElidesPastMaxLines(t *testing.T) {
	store := ephemeral.New(time.Hour)
	buf := New(store, "sess-1")

	for i := 0; i < MaxLines+100; i++ {
		buf.AppendLine("line")
	}

	if got := buf.LineCount(); got != MaxLines {
		t.Fatalf("LineCount() = %d, want %d", got, MaxLines)
	}

	buf.Flush()
	snap, err := store.GetOutput("sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.Truncated {
		t.Fatal("expected snapshot to be marked truncated")
	}
	if snap.Lines[0] != elisionMarker {
		t.Fatalf("expected elision marker as first line, got %q", snap.Lines[0])
	}
}

func TestFlushPersistsSnapshotImmediately(t *testing.T) {
	store := ephemeral.New(time.Hour)
	buf := New(store, "sess-1")

	buf.AppendLine("hello")
	buf.Flush()

	snap, err := store.GetOutput("sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Lines) != 1 || snap.Lines[0] != "hello" {
		t.Fatalf("got %+v", snap)
	}
	if snap.Truncated {
		t.Fatal("expected untruncated snapshot")
	}
}

func TestSnapshotBeforeAnyFlushIsNotPresent(t *testing.T) {
	store := ephemeral.New(time.Hour)
	New(store, "sess-never-flushed")

	if _, err := store.GetOutput("sess-never-flushed"); err != ephemeral.ErrOutputNotFound {
		t.Fatalf("expected ErrOutputNotFound, got %v", err)
	}
}

func TestEnableFileTailTeesAppendedLines(t *testing.T) {
	store := ephemeral.New(time.Hour)
	buf := New(store, "sess-1")

	path := filepath.Join(t.TempDir(), "sess-1.log")
	if err := buf.EnableFileTail(path); err != nil {
		t.Fatalf("EnableFileTail: %v", err)
	}

	buf.AppendLine("first")
	buf.AppendLine("second")
	if err := buf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if want := "first\nsecond\n"; string(got) != want {
		t.Fatalf("tailed file = %q, want %q", string(got), want)
	}
}
