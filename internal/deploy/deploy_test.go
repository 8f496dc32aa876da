package deploy

import (
	"context"
	"testing"
)

type fakeAdapter struct {
	name      string
	reachable bool
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Probe(ctx context.Context, projectID string) bool {
	return f.reachable
}
func (f *fakeAdapter) Trigger(ctx context.Context, projectID, branch string) (Deployment, error) {
	return Deployment{ID: "dep-1", URL: "https://example.com"}, nil
}
func (f *fakeAdapter) Monitor(ctx context.Context, deploymentID string) (Status, string, error) {
	return StatusSuccess, "", nil
}
func (f *fakeAdapter) Rollback(ctx context.Context, deploymentID string) error { return nil }

func TestDetectExplicitPlatform(t *testing.T) {
	railway := &fakeAdapter{name: Railway, reachable: false}
	vercel := &fakeAdapter{name: Vercel, reachable: true}
	registry := NewRegistry(railway, vercel)

	got, err := registry.Detect(context.Background(), "proj-1", "vercel")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name() != Vercel {
		t.Fatalf("got %q, want vercel", got.Name())
	}
}

func TestDetectExplicitUnknownPlatformFails(t *testing.T) {
	registry := NewRegistry(&fakeAdapter{name: Railway, reachable: true})

	_, err := registry.Detect(context.Background(), "proj-1", "heroku")
	if _, ok := err.(*NoDeploymentPlatformError); !ok {
		t.Fatalf("expected NoDeploymentPlatformError, got %v", err)
	}
}

func TestDetectAutoProbesRailwayBeforeVercel(t *testing.T) {
	railway := &fakeAdapter{name: Railway, reachable: true}
	vercel := &fakeAdapter{name: Vercel, reachable: true}
	registry := NewRegistry(railway, vercel)

	got, err := registry.Detect(context.Background(), "proj-1", "auto")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name() != Railway {
		t.Fatalf("got %q, want railway to win the probe order", got.Name())
	}
}

func TestDetectAutoFallsBackToVercelWhenRailwayUnreachable(t *testing.T) {
	railway := &fakeAdapter{name: Railway, reachable: false}
	vercel := &fakeAdapter{name: Vercel, reachable: true}
	registry := NewRegistry(railway, vercel)

	got, err := registry.Detect(context.Background(), "proj-1", "auto")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name() != Vercel {
		t.Fatalf("got %q, want vercel", got.Name())
	}
}

func TestDetectAutoNoPlatformReachableFails(t *testing.T) {
	registry := NewRegistry(&fakeAdapter{name: Railway, reachable: false}, &fakeAdapter{name: Vercel, reachable: false})

	_, err := registry.Detect(context.Background(), "proj-1", "")
	if _, ok := err.(*NoDeploymentPlatformError); !ok {
		t.Fatalf("expected NoDeploymentPlatformError, got %v", err)
	}
}

func TestHTTPAdapterProbeFailsWithoutToken(t *testing.T) {
	adapter := newHTTPAdapter(Railway, "https://backboard.railway.app/project-api", "", "Authorization")
	if adapter.Probe(context.Background(), "proj-1") {
		t.Fatal("expected probe to fail when no token is configured")
	}
}

func TestNewRailwayAndVercelAdaptersExposeNames(t *testing.T) {
	if got := NewRailwayAdapter("tok").Name(); got != Railway {
		t.Fatalf("got %q", got)
	}
	if got := NewVercelAdapter("tok").Name(); got != Vercel {
		t.Fatalf("got %q", got)
	}
}
