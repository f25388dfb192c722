// Package terminal implements the PTY terminal fabric: named
// pseudo-terminals fronted by a subprocess, each with a bounded scrollback
// buffer and a set of subscribers that receive live output in order.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Kind distinguishes the three terminal flavours the spec recognises.
type Kind int

const (
	// OneShot accepts no input; used for docker compose verbs.
	OneShot Kind = iota
	// Interactive accepts write(bytes) from a single session; container exec.
	Interactive
	// MainShell is like Interactive but spawns the operator's login shell.
	MainShell
)

const replayCapacity = 100

// ErrNotInteractive is returned when input is written to a OneShot terminal.
// See spec open question (ii): reply {ok:false, msg:"not interactive"}
// rather than silently dropping.
var ErrNotInteractive = errors.New("not interactive")

// Subscriber receives events from a terminal it has joined.
type Subscriber interface {
	// ID uniquely identifies the subscriber within the process (for a
	// session's subscriber: the session id and terminal name, "id:name").
	ID() string
	// Write delivers a chunk of output (snapshot or live) to the subscriber.
	// Implementations must not block the terminal's goroutine for long;
	// slow subscribers should buffer internally.
	Write(chunk []byte)
	// Exit delivers the terminal-exit notification.
	Exit(code int)
	// Connected reports whether the subscriber's underlying socket is still
	// alive; the registry cleanup tick prunes subscribers that report false.
	Connected() bool
}

// Terminal is one named PTY+subprocess pair plus its buffer and subscribers.
type Terminal struct {
	name string
	kind Kind
	rows int
	cols int

	mu          sync.Mutex
	buf         *replayBuffer
	subscribers map[string]Subscriber
	lastActive  time.Time
	drained     bool
	exitCode    int
	drainedAt   time.Time

	cmd  *exec.Cmd
	ptmx *os.File
}

// SpawnSpec describes the subprocess a terminal wraps.
type SpawnSpec struct {
	Program string
	Args    []string
	Dir     string
	Rows    int
	Cols    int
	Kind    Kind
}

// Spawn opens a PTY of the requested dimensions and starts the subprocess.
// The caller owns the returned Terminal and must register it with a
// Registry to make it discoverable by name.
func Spawn(name string, spec SpawnSpec) (*Terminal, error) {
	rows, cols := spec.Rows, spec.Cols
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}

	cmd := exec.Command(spec.Program, spec.Args...)
	cmd.Dir = spec.Dir

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, fmt.Errorf("terminal: spawn %s: %w", name, err)
	}

	t := &Terminal{
		name:        name,
		kind:        spec.Kind,
		rows:        rows,
		cols:        cols,
		buf:         newReplayBuffer(replayCapacity),
		subscribers: make(map[string]Subscriber),
		lastActive:  time.Now(),
		cmd:         cmd,
		ptmx:        ptmx,
	}

	go t.readLoop()
	go t.waitLoop()

	return t, nil
}

func (t *Terminal) Name() string { return t.name }
func (t *Terminal) Kind() Kind   { return t.kind }

func (t *Terminal) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			t.broadcast(chunk)
		}
		if err != nil {
			return
		}
	}
}

func (t *Terminal) waitLoop() {
	err := t.cmd.Wait()
	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}

	t.mu.Lock()
	t.drained = true
	t.exitCode = code
	t.drainedAt = time.Now()
	subs := t.snapshotSubscribers()
	t.mu.Unlock()

	for _, s := range subs {
		s.Exit(code)
	}
}

func (t *Terminal) broadcast(chunk []byte) {
	t.mu.Lock()
	t.buf.push(chunk)
	t.lastActive = time.Now()
	subs := t.snapshotSubscribers()
	t.mu.Unlock()

	for _, s := range subs {
		s.Write(chunk)
	}
}

func (t *Terminal) snapshotSubscribers() []Subscriber {
	out := make([]Subscriber, 0, len(t.subscribers))
	for _, s := range t.subscribers {
		out = append(out, s)
	}
	return out
}

// Join adds a subscriber and returns the current buffer contents as a
// single concatenated blob, delivered before any subsequent live bytes
// (the caller must not race broadcast: the lock serialises the two).
func (t *Terminal) Join(sub Subscriber) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers[sub.ID()] = sub
	return t.buf.snapshotBytes()
}

// Leave removes a subscriber.
func (t *Terminal) Leave(subID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subscribers, subID)
}

// PruneDisconnected removes subscribers whose Connected() reports false.
func (t *Terminal) PruneDisconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range t.subscribers {
		if !s.Connected() {
			delete(t.subscribers, id)
		}
	}
}

// Write sends bytes to the subprocess's stdin. Only valid for Interactive
// and MainShell terminals.
func (t *Terminal) Write(p []byte) error {
	if t.kind == OneShot {
		return ErrNotInteractive
	}
	_, err := t.ptmx.Write(p)
	return err
}

// Resize updates the PTY dimensions. Rejects rows or cols <= 0.
func (t *Terminal) Resize(rows, cols int) error {
	if rows <= 0 || cols <= 0 {
		return fmt.Errorf("terminal: resize requires positive rows and cols, got %d x %d", rows, cols)
	}
	t.mu.Lock()
	t.rows, t.cols = rows, cols
	t.mu.Unlock()
	return pty.Setsize(t.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Drained reports whether the subprocess has exited.
func (t *Terminal) Drained() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.drained
}

// EmptySince reports whether the terminal currently has zero subscribers
// and its subprocess exited at least d ago, returning false (not
// reclaimable) if it has any subscribers or is still running. The time at
// which the last subscriber left is not tracked.
func (t *Terminal) EmptySince(d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subscribers) > 0 {
		return false
	}
	if !t.drained {
		return false
	}
	return time.Since(t.drainedAt) >= d
}

// SubscriberCount reports the current subscriber set size.
func (t *Terminal) SubscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

// Kill sends SIGTERM, escalating to SIGKILL after grace if the process
// hasn't exited. Used by server shutdown, never by the cleanup tick.
func (t *Terminal) Kill(grace time.Duration) {
	if t.Drained() {
		return
	}
	_ = t.cmd.Process.Signal(syscall.SIGTERM)
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-timer.C:
		if !t.Drained() {
			_ = t.cmd.Process.Kill()
		}
	case <-waitDrained(t):
	}
}

func waitDrained(t *Terminal) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		for !t.Drained() {
			time.Sleep(20 * time.Millisecond)
		}
		close(ch)
	}()
	return ch
}

// Await blocks until the subprocess exits or ctx is done, whichever comes
// first. Used by callers that must not touch the stack's files until the
// `docker compose` subprocess backing this terminal is actually gone (spec
// §4.4 deleteStack).
func (t *Terminal) Await(ctx context.Context) error {
	select {
	case <-waitDrained(t):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Exec spawns a transient OneShot terminal with no registry name, collects
// combined output into sink, and returns the exit code once the subprocess
// exits. Used internally for `docker compose ls` and `docker compose ps`.
func Exec(program string, args []string, dir string, sink func([]byte)) (int, error) {
	cmd := exec.Command(program, args...)
	cmd.Dir = dir
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return -1, fmt.Errorf("terminal: exec %s: %w", program, err)
	}
	defer ptmx.Close()

	buf := make([]byte, 4096)
	for {
		n, rerr := ptmx.Read(buf)
		if n > 0 && sink != nil {
			sink(append([]byte(nil), buf[:n]...))
		}
		if rerr != nil {
			break
		}
	}

	err = cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}
