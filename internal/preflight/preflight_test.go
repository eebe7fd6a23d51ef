package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type fakeEngine struct {
	pingErr error
	images  map[string]bool
}

func (f *fakeEngine) Ping(ctx context.Context) (string, error) {
	if f.pingErr != nil {
		return "", f.pingErr
	}
	return "1.41", nil
}

func (f *fakeEngine) HasImage(ctx context.Context, image string) (bool, error) {
	return f.images[image], nil
}

func newChecker(t *testing.T, euid int, opts ...Option) *Checker {
	t.Helper()
	procSys := t.TempDir()
	dir := filepath.Join(procSys, "net", "ipv4")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ip_forward"), []byte("0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	opts = append([]Option{
		WithProcSys(procSys),
		WithNetnsDir(filepath.Join(t.TempDir(), "run", "netns")),
	}, opts...)
	c := New(opts...)
	c.euid = func() int { return euid }
	c.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	return c
}

func find(r *Report, property string) (Finding, bool) {
	for _, f := range r.Findings {
		if f.Property == property {
			return f, true
		}
	}
	return Finding{}, false
}

func TestRunAsRoot(t *testing.T) {
	engine := &fakeEngine{images: map[string]bool{"d_host": true, "d_router": true}}
	c := newChecker(t, 0, WithEngine(engine, "d_host", "d_router"))

	r := c.Run(context.Background())
	if err := r.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}

	for _, prop := range []string{"is_root", "can_write_sysctl", "netns_dir", "engine", "image d_host", "image d_router"} {
		f, ok := find(r, prop)
		if !ok {
			t.Errorf("missing finding %s", prop)
			continue
		}
		if !f.OK {
			t.Errorf("%s: OK = false (%s)", prop, f.Method)
		}
	}

	// informational findings never fail the report
	if f, _ := find(r, "has_nmap"); f.OK || f.Required {
		t.Errorf("has_nmap = %+v, want not ok and not required", f)
	}
	if f, _ := find(r, "bridge_netfilter"); f.OK {
		t.Errorf("bridge_netfilter = %+v, want not loaded", f)
	}
}

func TestRunFailures(t *testing.T) {
	engine := &fakeEngine{images: map[string]bool{"d_host": true}}
	c := newChecker(t, 1000, WithEngine(engine, "d_host", "d_router"))

	r := c.Run(context.Background())
	failed := r.Failed()
	if len(failed) != 2 {
		t.Fatalf("Failed() = %+v, want 2 findings", failed)
	}
	if failed[0].Property != "is_root" {
		t.Errorf("failed[0] = %s, want is_root", failed[0].Property)
	}
	if failed[1].Property != "image d_router" {
		t.Errorf("failed[1] = %s, want image d_router", failed[1].Property)
	}
	if r.Err() == nil {
		t.Error("Err() = nil, want error")
	}
}

func TestEngineUnreachable(t *testing.T) {
	engine := &fakeEngine{pingErr: errors.New("connection refused")}
	c := newChecker(t, 0, WithEngine(engine, "d_host"))

	r := c.Run(context.Background())
	f, ok := find(r, "engine")
	if !ok || f.OK {
		t.Fatalf("engine = %+v, want failed", f)
	}
	if _, ok := find(r, "image d_host"); ok {
		t.Error("images should not be probed without an engine")
	}
}

func TestMissingSysctl(t *testing.T) {
	c := New(WithProcSys(t.TempDir()), WithNetnsDir(t.TempDir()))
	c.euid = func() int { return 0 }
	c.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	r := c.Run(context.Background())
	f, _ := find(r, "can_write_sysctl")
	if f.OK {
		t.Error("can_write_sysctl should fail without ip_forward")
	}
	if _, ok := find(r, "engine"); ok {
		t.Error("engine probed without WithEngine")
	}
}
