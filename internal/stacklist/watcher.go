// Package stacklist supplements the mandatory 10-second stack-list poll
// (spec §4.8) with near-real-time detection of externally added stack
// directories, using fsnotify to watch the stacks directory. This is
// additive: the poll remains the source of truth, and watcher failures are
// logged and ignored rather than fatal (spec §7 filesystem error posture).
package stacklist

import (
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Debounce is the window within which repeated filesystem events collapse
// into a single refresh signal.
const Debounce = 500 * time.Millisecond

// Watcher notifies onChange (debounced) whenever stacksDir's immediate
// contents change.
type Watcher struct {
	stacksDir string
	onChange  func()
	log       *log.Logger
}

// NewWatcher constructs a Watcher; logger may be nil for a default logger.
func NewWatcher(stacksDir string, onChange func(), logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{stacksDir: stacksDir, onChange: onChange, log: logger}
}

// Run starts watching until stop is closed. A failure to establish the
// watch (platform without inotify, watch limit exhausted) is logged and
// Run returns immediately — the caller keeps relying on the 10s poll.
func (w *Watcher) Run(stop <-chan struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Printf("stacklist: fsnotify unavailable, falling back to poll-only: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.stacksDir); err != nil {
		w.log.Printf("stacklist: watch %s: %v", w.stacksDir, err)
		return
	}

	var timer *time.Timer
	for {
		select {
		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
			if timer == nil {
				timer = time.AfterFunc(Debounce, w.onChange)
			} else {
				timer.Reset(Debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Printf("stacklist: watch error: %v", err)
		case <-stop:
			return
		}
	}
}
