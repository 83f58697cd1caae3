package nvidia

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cgast/dispatchd/pkg/command"
)

type fakeLister struct {
	mu       sync.Mutex
	calls    int
	limits   []int
	releases []Release
	err      error
	gate     chan struct{}
}

func (f *fakeLister) ListReleases(_ context.Context, owner, name string, limit int) ([]Release, error) {
	f.mu.Lock()
	f.calls++
	f.limits = append(f.limits, limit)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.releases) {
		return f.releases[:limit], nil
	}
	return f.releases, nil
}

func someReleases(n int) []Release {
	out := make([]Release, n)
	for i := range out {
		out[i] = Release{Tag: fmt.Sprintf("v550.%d", n-i), Name: fmt.Sprintf("Release %d", n-i)}
	}
	return out
}

func runReleases(t *testing.T, d command.Descriptor, params map[string]any) ([]command.Event, error) {
	t.Helper()
	out := make(chan command.Event, 8)
	em := command.NewEmitter(context.Background(), out)
	inv := command.NewInvocation("root", "nvidia_releases", params)
	err := d.Handler(context.Background(), inv, em)
	close(out)

	var events []command.Event
	for ev := range out {
		events = append(events, ev)
	}
	return events, err
}

func TestReleasesDescriptor(t *testing.T) {
	d := ReleasesCommand(&fakeLister{}, "NVIDIA/open-gpu-kernel-modules")
	if d.Name != "nvidia_releases" {
		t.Errorf("expected name nvidia_releases, got %q", d.Name)
	}
	if len(d.Policy.AllowedGroups) != 2 {
		t.Errorf("unexpected policy: %+v", d.Policy)
	}
	if len(d.Schema) != 1 || d.Schema[0].Required {
		t.Errorf("limit should be the only parameter and optional: %+v", d.Schema)
	}
}

func TestReleasesStream(t *testing.T) {
	lister := &fakeLister{releases: someReleases(8)}
	d := ReleasesCommand(lister, "NVIDIA/open-gpu-kernel-modules")

	events, err := runReleases(t, d, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected query, collate and success, got %d events", len(events))
	}
	if events[0].Data["step"] != "query" || events[1].Data["step"] != "collate" {
		t.Errorf("unexpected step order: %+v", events)
	}

	last := events[2]
	if last.Status != command.StatusSuccess {
		t.Fatalf("expected success, got %+v", last)
	}
	if last.Data["count"] != 5 || last.Data["latest"] != "v550.8" {
		t.Errorf("unexpected terminal data: %v", last.Data)
	}
	if last.Data["repository"] != "NVIDIA/open-gpu-kernel-modules" {
		t.Errorf("unexpected repository: %v", last.Data["repository"])
	}
}

func TestReleasesLimit(t *testing.T) {
	tests := []struct {
		name      string
		params    map[string]any
		wantLimit int
	}{
		{"default", nil, 5},
		{"explicit", map[string]any{"limit": 2}, 2},
		{"clamped", map[string]any{"limit": 50}, 20},
		{"zero uses default", map[string]any{"limit": 0}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := &fakeLister{releases: someReleases(30)}
			d := ReleasesCommand(lister, "NVIDIA/open-gpu-kernel-modules")
			if _, err := runReleases(t, d, tt.params); err != nil {
				t.Fatalf("handler: %v", err)
			}
			if len(lister.limits) != 1 || lister.limits[0] != tt.wantLimit {
				t.Errorf("expected upstream limit %d, got %v", tt.wantLimit, lister.limits)
			}
		})
	}
}

func TestReleasesListerError(t *testing.T) {
	lister := &fakeLister{err: errors.New("rate limited")}
	d := ReleasesCommand(lister, "NVIDIA/open-gpu-kernel-modules")

	events, err := runReleases(t, d, nil)
	if err == nil || err.Error() != "rate limited" {
		t.Errorf("expected lister error, got %v", err)
	}
	if len(events) != 1 || events[0].Status != command.StatusRunning {
		t.Errorf("failed lookup should leave only the query frame, got %+v", events)
	}
}

func TestReleasesBadRepository(t *testing.T) {
	d := ReleasesCommand(&fakeLister{}, "not-a-repo")
	_, err := runReleases(t, d, nil)
	if err == nil {
		t.Fatal("expected an error for a repo without owner/name")
	}
}

func TestReleasesConcurrentLookupsShareOneCall(t *testing.T) {
	lister := &fakeLister{releases: someReleases(3), gate: make(chan struct{})}
	d := ReleasesCommand(lister, "NVIDIA/open-gpu-kernel-modules")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = runReleases(t, d, nil)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(lister.gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if lister.calls != 1 {
		t.Errorf("expected one upstream call, got %d", lister.calls)
	}
}

func TestSplitRepo(t *testing.T) {
	tests := []struct {
		in        string
		wantOwner string
		wantName  string
		wantErr   bool
	}{
		{in: "NVIDIA/open-gpu-kernel-modules", wantOwner: "NVIDIA", wantName: "open-gpu-kernel-modules"},
		{in: "golang/go", wantOwner: "golang", wantName: "go"},
		{in: "owner/", wantErr: true},
		{in: "/name", wantErr: true},
		{in: "plain", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		owner, name, err := splitRepo(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error, got %s/%s", tt.in, owner, name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.in, err)
			continue
		}
		if owner != tt.wantOwner || name != tt.wantName {
			t.Errorf("%q: got %s/%s, want %s/%s", tt.in, owner, name, tt.wantOwner, tt.wantName)
		}
	}
}
