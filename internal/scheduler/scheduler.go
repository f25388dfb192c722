// Package scheduler runs the four independent cooperative periodic tasks
// described in spec §4.8: stack-list push, version check, settings-cache
// sweep, and terminal-registry cleanup. Tasks run on their own tickers so a
// slow tick delays but does not skew the others.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const (
	stackListInterval    = 10 * time.Second
	versionCheckInterval = 48 * time.Hour
	settingsSweepInterval = 60 * time.Second
	terminalSweepInterval = 60 * time.Second
)

// Scheduler owns the four ticker loops.
type Scheduler struct {
	log *log.Logger

	pushStackList   func()
	fetchLatestVersion func(ctx context.Context) (string, error)
	onLatestVersion func(version string)
	sweepSettings   func()
	sweepTerminals  func()

	versionURL string
	httpClient *http.Client
}

// Config wires each task's effect into the caller's components.
type Config struct {
	Logger *log.Logger

	PushStackList   func()
	OnLatestVersion func(version string)
	SweepSettings   func()
	SweepTerminals  func()

	// VersionURL is the remote JSON document containing the latest stable
	// version, fetched every 48h (spec §4.8). If empty, the version-check
	// task is a no-op.
	VersionURL string
}

// New builds a Scheduler from cfg.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Scheduler{
		log:             logger,
		pushStackList:   cfg.PushStackList,
		onLatestVersion: cfg.OnLatestVersion,
		sweepSettings:   cfg.SweepSettings,
		sweepTerminals:  cfg.SweepTerminals,
		versionURL:      cfg.VersionURL,
		httpClient:      &http.Client{Timeout: 4 * time.Second},
	}
	s.fetchLatestVersion = s.defaultFetchLatestVersion
	return s
}

// Run starts all four loops and blocks until stop is closed.
func (s *Scheduler) Run(stop <-chan struct{}) {
	go s.loop("stackList", stackListInterval, stop, func() {
		if s.pushStackList != nil {
			s.pushStackList()
		}
	})
	go s.loop("versionCheck", versionCheckInterval, stop, s.checkVersion)
	go s.loop("settingsSweep", settingsSweepInterval, stop, func() {
		if s.sweepSettings != nil {
			s.sweepSettings()
		}
	})
	go s.loop("terminalSweep", terminalSweepInterval, stop, func() {
		if s.sweepTerminals != nil {
			s.sweepTerminals()
		}
	})
	<-stop
}

func (s *Scheduler) loop(name string, interval time.Duration, stop <-chan struct{}, tick func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tick()
		case <-stop:
			return
		}
	}
}

func (s *Scheduler) checkVersion() {
	if s.versionURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	version, err := s.fetchLatestVersion(ctx)
	if err != nil {
		// spec §5: HTTP version fetch failure is logged and ignored.
		s.log.Printf("scheduler: version check failed: %v", err)
		return
	}
	if s.onLatestVersion != nil {
		s.onLatestVersion(version)
	}
}

type versionDoc struct {
	Version string `json:"version"`
}

func (s *Scheduler) defaultFetchLatestVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.versionURL, nil)
	if err != nil {
		return "", fmt.Errorf("scheduler: build version request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("scheduler: fetch version: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("scheduler: fetch version: status %d", resp.StatusCode)
	}
	var doc versionDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("scheduler: decode version doc: %w", err)
	}
	return doc.Version, nil
}
