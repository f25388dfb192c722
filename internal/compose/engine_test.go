package compose

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"a", false},
		{"web-app_1", false},
		{"A", true},
		{"a/b", true},
		{"a b", true},
		{"", true},
	}
	for _, tc := range tests {
		err := ValidateName(tc.name)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ValidateName(%q): got err=%v, want err=%v", tc.name, err, tc.wantErr)
		}
	}
}

func TestDetectComposeFilePicksFirstExistingInOrder(t *testing.T) {
	dir := t.TempDir()
	stackDir := filepath.Join(dir, "web")
	if err := os.MkdirAll(stackDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stackDir, "docker-compose.yml"), []byte("services: {}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stackDir, "compose.yml"), []byte("services: {}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := New(dir, "web", "")
	if got := s.DetectComposeFile(); got != "compose.yml" {
		t.Fatalf("expected compose.yml (higher priority than docker-compose.yml), got %q", got)
	}
}

func TestDeriveStatus(t *testing.T) {
	tests := map[string]Status{
		"running(2)": StatusRunning,
		"exited(1)":  StatusExited,
		"dead":       StatusExited,
		"created":    StatusCreatedStack,
		"paused":     StatusCreatedStack,
		"weird(3)":   StatusUnknown,
	}
	for raw, want := range tests {
		if got := deriveStatus(raw); got != want {
			t.Fatalf("deriveStatus(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestSaveThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	reg := newTestRegistry(t)
	e := NewEngine(dir, reg, "true")

	yamlDoc := "services:\n  w:\n    image: nginx:alpine\n"
	env := "FOO=bar\n"
	if err := e.Save("web", yamlDoc, env, true); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s := New(dir, "web", "")
	gotYAML, err := s.ReadComposeYAML()
	if err != nil {
		t.Fatalf("ReadComposeYAML: %v", err)
	}
	if gotYAML != yamlDoc {
		t.Fatalf("expected round-tripped YAML %q, got %q", yamlDoc, gotYAML)
	}
	gotEnv, err := s.ReadDotenv()
	if err != nil {
		t.Fatalf("ReadDotenv: %v", err)
	}
	if gotEnv != env {
		t.Fatalf("expected round-tripped env %q, got %q", env, gotEnv)
	}
}

func TestSaveRejectsExistingDirWhenIsAdd(t *testing.T) {
	dir := t.TempDir()
	reg := newTestRegistry(t)
	e := NewEngine(dir, reg, "true")

	if err := e.Save("web", "services: {}\n", "", true); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := e.Save("web", "services: {}\n", "", true); err == nil {
		t.Fatalf("expected second Save with isAdd=true to fail on existing dir")
	}
}

func TestSaveRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	reg := newTestRegistry(t)
	e := NewEngine(dir, reg, "true")

	if err := e.Save("web", "not: [valid yaml", "", true); err == nil {
		t.Fatalf("expected invalid YAML to be rejected")
	}
}

func TestListMergesManagedAndDaemonSets(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "onlyfs"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "onlyfs", "compose.yaml"), []byte("services: {}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	reg := newTestRegistry(t)
	e := NewEngine(dir, reg, "false") // "false" binary always exits non-zero; daemon set empty

	list, _ := e.List()
	found := false
	for _, s := range list {
		if s.Name == "onlyfs" {
			found = true
			if !s.IsManagedByDockge {
				t.Fatalf("expected onlyfs to be managed")
			}
			if s.Status != StatusCreatedFile {
				t.Fatalf("expected CreatedFile status when daemon set is empty, got %v", s.Status)
			}
		}
	}
	if !found {
		t.Fatalf("expected onlyfs in aggregated list")
	}
}
