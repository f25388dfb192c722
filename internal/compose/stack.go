// Package compose implements the stack lifecycle engine: it reconciles an
// on-disk directory of Compose projects with the Docker daemon's view via
// the `docker compose` CLI, and drives lifecycle operations through the
// terminal fabric so progress is observable.
package compose

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/aureuma/dockpilot/internal/terminal"
)

// Status is the coarse stack state derived from `docker compose ls`.
type Status int

const (
	StatusUnknown Status = iota
	StatusCreatedFile
	StatusCreatedStack
	StatusRunning
	StatusExited
)

// acceptedComposeFilenames is the documented detection order (spec §3, §8
// boundary behaviour): first existing file wins, and it is never renamed.
var acceptedComposeFilenames = []string{
	"compose.yaml",
	"compose.yml",
	"docker-compose.yaml",
	"docker-compose.yml",
}

var nameRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidateName enforces the stack name regex (spec §3, §8 boundary cases:
// "a" accepted; "A", "a/b", "a b", "" rejected).
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("compose: invalid stack name %q: must match [a-z0-9_-]+", name)
	}
	return nil
}

// Stack is a named compose project rooted at {stacksDir}/{name}.
type Stack struct {
	Name     string
	Endpoint string // empty for local, host:port for federated

	stacksDir string
}

// New builds a Stack handle; it performs no I/O.
func New(stacksDir, name, endpoint string) *Stack {
	return &Stack{Name: name, Endpoint: endpoint, stacksDir: stacksDir}
}

// Dir is the stack's on-disk directory.
func (s *Stack) Dir() string {
	return filepath.Join(s.stacksDir, s.Name)
}

// DetectComposeFile returns the first existing accepted compose filename in
// the stack's directory, or "" if the directory has none (unmanaged stack).
func (s *Stack) DetectComposeFile() string {
	for _, name := range acceptedComposeFilenames {
		if fileExists(filepath.Join(s.Dir(), name)) {
			return name
		}
	}
	return ""
}

// IsManaged reports whether a compose file exists under the stack's
// directory (spec §3 invariant: managed iff a compose file is present).
func (s *Stack) IsManaged() bool {
	return s.DetectComposeFile() != ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ReadComposeYAML lazily reads the detected compose file's contents.
func (s *Stack) ReadComposeYAML() (string, error) {
	name := s.DetectComposeFile()
	if name == "" {
		return "", nil
	}
	b, err := os.ReadFile(filepath.Join(s.Dir(), name))
	if err != nil {
		return "", fmt.Errorf("compose: read %s: %w", name, err)
	}
	return string(b), nil
}

// ReadDotenv lazily reads the stack's .env file, returning "" if absent.
func (s *Stack) ReadDotenv() (string, error) {
	path := filepath.Join(s.Dir(), ".env")
	if !fileExists(path) {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("compose: read .env: %w", err)
	}
	return string(b), nil
}

// ComposeArgs assembles the argument vector common to every Compose
// invocation: --env-file {stacksDir}/global.env if it exists, --env-file
// ./.env if it exists, then verb and verb-args (spec §4.4).
func (s *Stack) ComposeArgs(verb string, verbArgs ...string) []string {
	args := []string{"compose"}
	globalEnv := filepath.Join(s.stacksDir, "global.env")
	if fileExists(globalEnv) {
		args = append(args, "--env-file", globalEnv)
	}
	localEnv := filepath.Join(s.Dir(), ".env")
	if fileExists(localEnv) {
		args = append(args, "--env-file", "./.env")
	}
	args = append(args, verb)
	args = append(args, verbArgs...)
	return args
}

// terminalName returns the compose-{endpoint}-{stack} registry key this
// stack's lifecycle operations are serialised through.
func (s *Stack) terminalName() string {
	return terminal.ComposeName(s.Endpoint, s.Name)
}

// Simple is the list-view serialization (spec §4.4).
type Simple struct {
	Name              string   `json:"name"`
	Status            Status   `json:"status"`
	Tags              []string `json:"tags"`
	IsManagedByDockge bool     `json:"isManagedByDockge"`
	ComposeFileName   string   `json:"composeFileName,omitempty"`
	Endpoint          string   `json:"endpoint"`
}

// Full is the detail-view serialization: Simple plus file contents.
type Full struct {
	Simple
	ComposeYAML     string `json:"composeYAML"`
	ComposeENV      string `json:"composeENV"`
	PrimaryHostname string `json:"primaryHostname"`
}

// ToSimple builds the simple form given an already-derived status.
func (s *Stack) ToSimple(status Status) Simple {
	return Simple{
		Name:              s.Name,
		Status:            status,
		Tags:              []string{},
		IsManagedByDockge: s.IsManaged(),
		ComposeFileName:   s.DetectComposeFile(),
		Endpoint:          s.Endpoint,
	}
}

// ToFull builds the detail form, reading the compose and env files.
func (s *Stack) ToFull(status Status, primaryHostname string) (Full, error) {
	yaml, err := s.ReadComposeYAML()
	if err != nil {
		return Full{}, err
	}
	env, err := s.ReadDotenv()
	if err != nil {
		return Full{}, err
	}
	return Full{
		Simple:          s.ToSimple(status),
		ComposeYAML:     yaml,
		ComposeENV:      env,
		PrimaryHostname: primaryHostname,
	}, nil
}
