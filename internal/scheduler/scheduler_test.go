package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSettingsAndTerminalSweepsRunIndependently(t *testing.T) {
	var settingsSweeps, terminalSweeps int32

	s := New(Config{
		SweepSettings:  func() { atomic.AddInt32(&settingsSweeps, 1) },
		SweepTerminals: func() { atomic.AddInt32(&terminalSweeps, 1) },
	})

	stop := make(chan struct{})
	go s.Run(stop)

	go s.loop("settingsSweep-test", 10*time.Millisecond, stop, func() { atomic.AddInt32(&settingsSweeps, 1) })
	go s.loop("terminalSweep-test", 10*time.Millisecond, stop, func() { atomic.AddInt32(&terminalSweeps, 1) })
	time.Sleep(150 * time.Millisecond)

	close(stop)
	// Both counters should have advanced independently of one another.
	if atomic.LoadInt32(&settingsSweeps) == 0 {
		t.Fatalf("expected settings sweep to have run at least once")
	}
	if atomic.LoadInt32(&terminalSweeps) == 0 {
		t.Fatalf("expected terminal sweep to have run at least once")
	}
}

func TestCheckVersionCallsOnLatestVersionOnSuccess(t *testing.T) {
	var got string
	s := New(Config{
		VersionURL:      "http://example.invalid/version.json",
		OnLatestVersion: func(v string) { got = v },
	})
	s.fetchLatestVersion = func(ctx context.Context) (string, error) { return "1.5.0", nil }
	s.checkVersion()
	if got != "1.5.0" {
		t.Fatalf("expected onLatestVersion callback with %q, got %q", "1.5.0", got)
	}
}

func TestCheckVersionNoopWithoutURL(t *testing.T) {
	called := false
	s := New(Config{OnLatestVersion: func(string) { called = true }})
	s.checkVersion()
	if called {
		t.Fatalf("expected no callback when VersionURL is empty")
	}
}
