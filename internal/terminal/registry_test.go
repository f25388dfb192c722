package terminal

import (
	"sync"
	"testing"
	"time"
)

type fakeSub struct {
	id        string
	mu        sync.Mutex
	written   [][]byte
	exitCode  *int
	connected bool
}

func newFakeSub(id string) *fakeSub { return &fakeSub{id: id, connected: true} }

func (f *fakeSub) ID() string { return f.id }
func (f *fakeSub) Write(chunk []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, chunk)
}
func (f *fakeSub) Exit(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := code
	f.exitCode = &c
}
func (f *fakeSub) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func TestNamingScheme(t *testing.T) {
	if got := ComposeName("", "web"); got != "compose--web" {
		t.Fatalf("expected compose--web, got %q", got)
	}
	if got := CombinedLogName("", "web"); got != "combined--web" {
		t.Fatalf("expected combined--web, got %q", got)
	}
	if got := ContainerExecName("node-2:5001", "web", "app", 0); got != "container-exec-node-2:5001-web-app-0" {
		t.Fatalf("unexpected container exec name: %q", got)
	}
	if ConsoleName != "console" {
		t.Fatalf("expected console literal")
	}
}

func TestGetOrCreateReusesExistingTerminal(t *testing.T) {
	r := NewRegistry(nil)
	spec := SpawnSpec{Program: "sh", Args: []string{"-c", "sleep 1"}, Kind: OneShot}

	t1, created1, err := r.GetOrCreate("compose--web", spec)
	if err != nil {
		t.Fatalf("first GetOrCreate: %v", err)
	}
	if !created1 {
		t.Fatalf("expected first call to create a terminal")
	}

	t2, created2, err := r.GetOrCreate("compose--web", spec)
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if created2 {
		t.Fatalf("expected second call to reuse the existing terminal")
	}
	if t1 != t2 {
		t.Fatalf("expected same terminal instance on reuse")
	}

	t1.Kill(time.Second)
}

func TestTerminalJoinDeliversSnapshotBeforeLive(t *testing.T) {
	r := NewRegistry(nil)
	spec := SpawnSpec{Program: "sh", Args: []string{"-c", "printf hello; sleep 2; printf world"}, Kind: OneShot}
	term, _, err := r.GetOrCreate("combined--web", spec)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	defer term.Kill(time.Second)

	time.Sleep(300 * time.Millisecond)
	sub := newFakeSub("s1")
	snapshot := term.Join(sub)
	if string(snapshot) != "hello" {
		t.Fatalf("expected snapshot %q, got %q", "hello", snapshot)
	}
}

func TestCleanupTickReclaimsDrainedEmptyTerminal(t *testing.T) {
	r := NewRegistry(nil)
	spec := SpawnSpec{Program: "sh", Args: []string{"-c", "true"}, Kind: OneShot}
	_, _, err := r.GetOrCreate("compose--gone", spec)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if t, ok := r.Get("compose--gone"); ok && t.Drained() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	term, _ := r.Get("compose--gone")
	term.drainedAt = time.Now().Add(-2 * CleanupInterval)
	r.CleanupTick()

	if _, ok := r.Get("compose--gone"); ok {
		t.Fatalf("expected terminal to be reclaimed")
	}
}
