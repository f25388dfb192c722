package terminal

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// CleanupInterval is the registry-wide tick period (spec §4.2, §4.8).
const CleanupInterval = 60 * time.Second

// Registry is the process-wide name -> terminal map (spec §4.3). Exactly
// one of these exists per process; it is one of the three process-wide
// shared structures named in spec §5 "Global state".
type Registry struct {
	mu    sync.Mutex
	byName map[string]*Terminal
	log   *log.Logger
}

// NewRegistry constructs an empty registry. logger may be nil, in which
// case a default stdout logger is used.
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		byName: make(map[string]*Terminal),
		log:    logger,
	}
}

// GetOrCreate returns the existing terminal for name, or spawns a new one
// from spec if none exists. A second call with the same name ignores spec
// and returns the existing terminal — this is what makes two consecutive
// deployStack calls reuse one subprocess (spec §8 round-trip law).
func (r *Registry) GetOrCreate(name string, spec SpawnSpec) (*Terminal, bool, error) {
	r.mu.Lock()
	if t, ok := r.byName[name]; ok {
		r.mu.Unlock()
		return t, false, nil
	}
	r.mu.Unlock()

	// Spawn outside the lock: process creation is I/O, and the registry's
	// mutex must never be held across a suspension point (spec §5).
	t, err := Spawn(name, spec)
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	if existing, ok := r.byName[name]; ok {
		r.mu.Unlock()
		t.Kill(5 * time.Second)
		return existing, false, nil
	}
	r.byName[name] = t
	r.mu.Unlock()
	return t, true, nil
}

// Get returns the terminal registered under name, if any.
func (r *Registry) Get(name string) (*Terminal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byName[name]
	return t, ok
}

// remove deletes name from the registry. Safe only from the cleanup tick
// (spec §4.3 invariant).
func (r *Registry) remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
}

func (r *Registry) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	return out
}

// CleanupTick prunes disconnected subscribers from every terminal, then
// reclaims terminals that have zero subscribers and whose subprocess exited
// at least a full CleanupInterval ago. A running subprocess is never killed here — only
// exit plus empty subscribers triggers reclamation.
func (r *Registry) CleanupTick() {
	for _, name := range r.names() {
		t, ok := r.Get(name)
		if !ok {
			continue
		}
		t.PruneDisconnected()
		if t.EmptySince(CleanupInterval) {
			r.remove(name)
			r.log.Printf("terminal registry: reclaimed %q", name)
		}
	}
}

// Run starts the cleanup tick loop; it blocks until stop is closed.
func (r *Registry) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.CleanupTick()
		case <-stop:
			return
		}
	}
}

// Shutdown kills every live subprocess with the given grace period, used
// during server shutdown (spec §5 "Cancellation").
func (r *Registry) Shutdown(grace time.Duration) {
	for _, name := range r.names() {
		if t, ok := r.Get(name); ok {
			t.Kill(grace)
		}
	}
}

// Naming scheme (spec §4.2).

// ComposeName returns the terminal name for compose lifecycle operations.
func ComposeName(endpoint, stack string) string {
	return fmt.Sprintf("compose-%s-%s", endpoint, stack)
}

// CombinedLogName returns the terminal name for a stack's log tail.
func CombinedLogName(endpoint, stack string) string {
	return fmt.Sprintf("combined-%s-%s", endpoint, stack)
}

// ContainerExecName returns the terminal name for a container exec session.
func ContainerExecName(endpoint, stack, service string, index int) string {
	return fmt.Sprintf("container-exec-%s-%s-%s-%d", endpoint, stack, service, index)
}

// ConsoleName is the literal name of the global shell terminal.
const ConsoleName = "console"
