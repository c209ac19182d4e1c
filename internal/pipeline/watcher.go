package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"tenderpipe/internal/logging"
)

// ValidationReport is the outcome of validating one pipeline file.
type ValidationReport struct {
	Path     string
	Steps    int
	Outputs  int
	Warnings []string
	Err      error
}

// OK reports whether the pipeline loaded and passed structural checks.
func (r ValidationReport) OK() bool { return r.Err == nil }

// ValidateFile loads and validates the pipeline at path.
func ValidateFile(path string, transforms *Registry) ValidationReport {
	rep := ValidationReport{Path: path}
	pc, err := LoadConfig(path)
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Steps, rep.Outputs = len(pc.Steps), len(pc.Outputs)
	rep.Warnings, rep.Err = pc.Validate(transforms)
	return rep
}

// Watcher re-validates a pipeline file whenever it changes on disk. The
// parent directory is watched so editors that save by rename are seen.
type Watcher struct {
	mu         sync.Mutex
	watcher    *fsnotify.Watcher
	path       string
	transforms *Registry
	onReport   func(ValidationReport)

	lastEvent   time.Time
	pending     bool
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewWatcher creates a watcher for path. onReport is called from the
// watcher goroutine after each debounced change.
func NewWatcher(path string, transforms *Registry, onReport func(ValidationReport)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		path:        abs,
		transforms:  transforms,
		onReport:    onReport,
		debounceDur: 300 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	logging.Pipeline("watching %s", w.path)
	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryPipeline).Error("close watcher: %v", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryPipeline).Error("watcher: %v", err)
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}
	logging.PipelineDebug("watcher: %s %s", event.Op, event.Name)
	w.mu.Lock()
	w.pending = true
	w.lastEvent = time.Now()
	w.mu.Unlock()
}

// flush validates once the file has been quiet for the debounce period.
func (w *Watcher) flush() {
	w.mu.Lock()
	if !w.pending || time.Since(w.lastEvent) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()

	rep := ValidateFile(w.path, w.transforms)
	if w.onReport != nil {
		w.onReport(rep)
	}
}
