package compose

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aureuma/dockpilot/internal/terminal"
)

// Engine drives lifecycle operations for stacks rooted at a single
// stacksDir, serialising each stack's operations through the terminal
// registry by name.
type Engine struct {
	stacksDir string
	reg       *terminal.Registry
	composeBin string
}

// NewEngine constructs an Engine. composeBin defaults to "docker" (invoked
// as "docker compose ...") when empty.
func NewEngine(stacksDir string, reg *terminal.Registry, composeBin string) *Engine {
	if composeBin == "" {
		composeBin = "docker"
	}
	return &Engine{stacksDir: stacksDir, reg: reg, composeBin: composeBin}
}

func (e *Engine) stack(name, endpoint string) *Stack {
	return New(e.stacksDir, name, endpoint)
}

// spawnCompose gets-or-creates the stack's compose-{endpoint}-{name}
// terminal and runs the given verb under it. It returns immediately after
// the subprocess is spawned (or already running) — callers must not block
// on completion (spec §5).
func (e *Engine) spawnCompose(s *Stack, verb string, verbArgs ...string) (*terminal.Terminal, error) {
	args := s.ComposeArgs(verb, verbArgs...)
	spec := terminal.SpawnSpec{
		Program: e.composeBin,
		Args:    args,
		Dir:     s.Dir(),
		Kind:    terminal.OneShot,
	}
	t, _, err := e.reg.GetOrCreate(s.terminalName(), spec)
	return t, err
}

// Deploy runs `up -d --remove-orphans` under the stack's compose terminal.
func (e *Engine) Deploy(name, endpoint string) (*terminal.Terminal, error) {
	s := e.stack(name, endpoint)
	return e.spawnCompose(s, "up", "-d", "--remove-orphans")
}

// Start is identical to Deploy (spec §4.4 table).
func (e *Engine) Start(name, endpoint string) (*terminal.Terminal, error) {
	return e.Deploy(name, endpoint)
}

// Stop runs `stop`.
func (e *Engine) Stop(name, endpoint string) (*terminal.Terminal, error) {
	return e.spawnCompose(e.stack(name, endpoint), "stop")
}

// Restart runs `restart`.
func (e *Engine) Restart(name, endpoint string) (*terminal.Terminal, error) {
	return e.spawnCompose(e.stack(name, endpoint), "restart")
}

// Down runs `down`.
func (e *Engine) Down(name, endpoint string) (*terminal.Terminal, error) {
	return e.spawnCompose(e.stack(name, endpoint), "down")
}

// Update runs `pull`, and if priorStatus was Running, follows with
// `up -d --remove-orphans` (spec §4.4).
func (e *Engine) Update(name, endpoint string, priorStatus Status) (*terminal.Terminal, error) {
	s := e.stack(name, endpoint)
	t, err := e.spawnCompose(s, "pull")
	if err != nil {
		return nil, err
	}
	if priorStatus == StatusRunning {
		// Pull and the follow-up up -d share the same terminal name, so the
		// second spawnCompose call attaches to whichever is still running
		// rather than racing a second subprocess onto the same name.
		return e.spawnCompose(s, "up", "-d", "--remove-orphans")
	}
	return t, nil
}

// Delete runs `down --remove-orphans` under the stack's compose terminal and
// returns without waiting for the subprocess (spec §5: handlers never wait
// for subprocess completion). It does not remove the stack's directory:
// callers await the returned terminal and then call RemoveDirectory.
func (e *Engine) Delete(name, endpoint string) (*terminal.Terminal, error) {
	s := e.stack(name, endpoint)
	t, err := e.spawnCompose(s, "down", "--remove-orphans")
	if err != nil {
		return nil, err
	}
	return t, nil
}

// RemoveDirectory recursively deletes the stack's directory. Call after the
// down subprocess observably exits.
func (e *Engine) RemoveDirectory(name string) error {
	return os.RemoveAll(e.stack(name, "").Dir())
}

// JoinLogs gets-or-creates the combined-{endpoint}-{name} terminal running
// `logs -f --tail 100`.
func (e *Engine) JoinLogs(name, endpoint string) (*terminal.Terminal, error) {
	s := e.stack(name, endpoint)
	spec := terminal.SpawnSpec{
		Program: e.composeBin,
		Args:    s.ComposeArgs("logs", "-f", "--tail", "100"),
		Dir:     s.Dir(),
		Kind:    terminal.OneShot,
	}
	t, _, err := e.reg.GetOrCreate(terminal.CombinedLogName(endpoint, name), spec)
	return t, err
}

// ServiceStatus is the per-service entry of the ps snapshot.
type ServiceStatus struct {
	State string   `json:"state"`
	Ports []string `json:"ports"`
}

type psRecord struct {
	Service string `json:"Service"`
	State   string `json:"State"`
	Publishers []struct {
		URL           string `json:"URL"`
		TargetPort    int    `json:"TargetPort"`
		PublishedPort int    `json:"PublishedPort"`
	} `json:"Publishers"`
	Ports string `json:"Ports"`
}

// PS runs `ps --format json` as a one-shot helper and parses the
// line-delimited JSON into a per-service status map (spec §4.4).
func (e *Engine) PS(name, endpoint string) (map[string]ServiceStatus, error) {
	s := e.stack(name, endpoint)
	var out bytes.Buffer
	args := s.ComposeArgs("ps", "--format", "json")
	code, err := terminal.Exec(e.composeBin, args, s.Dir(), func(b []byte) { out.Write(b) })
	if err != nil {
		return nil, fmt.Errorf("compose: ps %s: %w", name, err)
	}
	if code != 0 {
		return nil, fmt.Errorf("compose: ps %s: exit %d", name, code)
	}

	result := make(map[string]ServiceStatus)
	scanner := bufio.NewScanner(&out)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec psRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		ports := make([]string, 0)
		for _, p := range strings.Split(rec.Ports, ", ") {
			if strings.Contains(p, "->") {
				ports = append(ports, p)
			}
		}
		result[rec.Service] = ServiceStatus{State: rec.State, Ports: ports}
	}
	return result, nil
}

type lsRecord struct {
	Name   string `json:"Name"`
	Status string `json:"Status"`
}

// deriveStatus maps the ls textual status string (spec §4.4):
// running(N) -> Running; exited|dead -> Exited; created|paused ->
// CreatedStack; anything else -> Unknown.
func deriveStatus(raw string) Status {
	switch {
	case strings.HasPrefix(raw, "running"):
		return StatusRunning
	case strings.HasPrefix(raw, "exited"), strings.HasPrefix(raw, "dead"):
		return StatusExited
	case strings.HasPrefix(raw, "created"), strings.HasPrefix(raw, "paused"):
		return StatusCreatedStack
	default:
		return StatusUnknown
	}
}

// daemonSet runs `docker compose ls --all --format json` and returns
// name -> derived status.
func (e *Engine) daemonSet() (map[string]Status, error) {
	var out bytes.Buffer
	code, err := terminal.Exec(e.composeBin, []string{"compose", "ls", "--all", "--format", "json"}, e.stacksDir, func(b []byte) { out.Write(b) })
	if err != nil {
		return nil, fmt.Errorf("compose: ls: %w", err)
	}
	if code != 0 {
		return nil, fmt.Errorf("compose: ls: exit %d", code)
	}

	result := make(map[string]Status)
	// docker compose ls --format json emits either one JSON array or
	// line-delimited objects depending on version; handle both.
	trimmed := bytes.TrimSpace(out.Bytes())
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []lsRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("compose: ls: parse: %w", err)
		}
		for _, r := range records {
			result[r.Name] = deriveStatus(r.Status)
		}
		return result, nil
	}
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var r lsRecord
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			continue
		}
		result[r.Name] = deriveStatus(r.Status)
	}
	return result, nil
}

// managedSet scans stacksDir for subdirectories containing an accepted
// compose filename.
func (e *Engine) managedSet() (map[string]*Stack, error) {
	result := make(map[string]*Stack)
	entries, err := os.ReadDir(e.stacksDir)
	if err != nil {
		// Open question (iii): unreadable stacks dir -> empty managed set,
		// logged by the caller.
		return result, fmt.Errorf("compose: read stacks dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		s := New(e.stacksDir, entry.Name(), "")
		if s.IsManaged() {
			result[entry.Name()] = s
		}
	}
	return result, nil
}

// List produces the unified stack listing (spec §4.4 "Stack list
// aggregator"): the union of the managed (filesystem) and daemon (compose
// ls) sets. Managed entries dominate on conflict: status comes from the
// daemon set, filename and managed flag from the filesystem. A directory
// present only on disk (no daemon record) is CreatedFile.
func (e *Engine) List() ([]Simple, error) {
	managed, managedErr := e.managedSet()
	daemon, err := e.daemonSet()
	if err != nil {
		daemon = map[string]Status{}
	}

	names := make(map[string]struct{})
	for n := range managed {
		names[n] = struct{}{}
	}
	for n := range daemon {
		names[n] = struct{}{}
	}

	out := make([]Simple, 0, len(names))
	for n := range names {
		if s, ok := managed[n]; ok {
			status, hasDaemon := daemon[n]
			if !hasDaemon {
				status = StatusCreatedFile
			}
			out = append(out, s.ToSimple(status))
			continue
		}
		// Unmanaged: visible only through docker compose ls.
		s := New(e.stacksDir, n, "")
		out = append(out, s.ToSimple(daemon[n]))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	if managedErr != nil {
		return out, managedErr
	}
	return out, nil
}

// Save validates name and YAML, creates the directory (failing if it
// already exists and isAdd is true), and atomically writes compose.yaml
// and .env. An existing accepted variant filename is never renamed: if one
// is already present, its contents are overwritten in place instead of
// introducing a second compose.yaml.
func (e *Engine) Save(name, composeYAML, composeEnv string, isAdd bool) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	var doc any
	if err := yaml.Unmarshal([]byte(composeYAML), &doc); err != nil {
		return fmt.Errorf("compose: invalid YAML: %w", err)
	}

	s := New(e.stacksDir, name, "")
	dir := s.Dir()
	if isAdd {
		if _, err := os.Stat(dir); err == nil {
			return fmt.Errorf("compose: stack %q already exists", name)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("compose: create stack dir: %w", err)
		}
	} else if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("compose: stack %q does not exist: %w", name, err)
	}

	filename := s.DetectComposeFile()
	if filename == "" {
		filename = "compose.yaml"
	}

	if err := atomicWrite(filepath.Join(dir, filename), []byte(composeYAML)); err != nil {
		return err
	}
	if err := atomicWrite(filepath.Join(dir, ".env"), []byte(composeEnv)); err != nil {
		return err
	}
	return nil
}

// atomicWrite writes to a sibling temp file and renames over the target.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("compose: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("compose: rename into %s: %w", path, err)
	}
	return nil
}
