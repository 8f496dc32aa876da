package ephemeral

import (
	"testing"
	"time"

	"github.com/devos-ai/orchestrator/internal/domain"
)

func TestSessionRoundTrip(t *testing.T) {
	s := New(time.Hour)
	session := &domain.CLISession{SessionID: "sess-1", Status: domain.SessionRunning}
	s.PutSession(session)

	got, ok := s.GetSession("sess-1")
	if !ok {
		t.Fatal("expected session to be found")
	}
	if got.SessionID != "sess-1" {
		t.Fatalf("got %+v", got)
	}

	s.DeleteSession("sess-1")
	if _, ok := s.GetSession("sess-1"); ok {
		t.Fatal("expected session to be gone after delete")
	}
}

func TestListSessionsReturnsAllTracked(t *testing.T) {
	s := New(time.Hour)
	s.PutSession(&domain.CLISession{SessionID: "a"})
	s.PutSession(&domain.CLISession{SessionID: "b"})

	got := s.ListSessions()
	if len(got) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(got))
	}
}

func TestOutputNotFoundBeforeAnyWrite(t *testing.T) {
	s := New(time.Hour)
	_, err := s.GetOutput("never-written")
	if err != ErrOutputNotFound {
		t.Fatalf("got err %v, want ErrOutputNotFound", err)
	}
}

func TestOutputRoundTrip(t *testing.T) {
	s := New(time.Hour)
	s.PutOutput(&OutputSnapshot{SessionID: "sess-1", Lines: []string{"line one", "line two"}})

	snap, err := s.GetOutput("sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Lines) != 2 || snap.Lines[0] != "line one" {
		t.Fatalf("got %+v", snap)
	}
}

func TestOutputExpiresPastTTL(t *testing.T) {
	s := New(10 * time.Millisecond)
	s.PutOutput(&OutputSnapshot{SessionID: "sess-1", Lines: []string{"line one"}})

	time.Sleep(50 * time.Millisecond)

	_, err := s.GetOutput("sess-1")
	if err != ErrOutputNotFound {
		t.Fatalf("got err %v, want ErrOutputNotFound after TTL expiry", err)
	}
}

func TestDeleteOutputRemovesImmediately(t *testing.T) {
	s := New(time.Hour)
	s.PutOutput(&OutputSnapshot{SessionID: "sess-1", Lines: []string{"line one"}})
	s.DeleteOutput("sess-1")

	_, err := s.GetOutput("sess-1")
	if err != ErrOutputNotFound {
		t.Fatalf("got err %v, want ErrOutputNotFound", err)
	}
}
