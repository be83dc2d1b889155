package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/sznuper/crashrelay/internal/delivery"
	"github.com/sznuper/crashrelay/internal/fault"
)

// DefaultPatterns match the core dump files picked up by a Watcher.
var DefaultPatterns = []string{"*.core", "*.dump"}

const (
	defaultSettle = 500 * time.Millisecond
	queueSize     = 64
)

// Deliverer delivers one fault and waits for its outcome. *delivery.Client
// implements it.
type Deliverer interface {
	Deliver(f *fault.Fault, label string) delivery.Outcome
}

// Options configure a Watcher.
type Options struct {
	Dir           string        // directory to watch
	Label         string        // context label of every report
	SensorID      string        // source id of core dump faults, may be empty
	Patterns      []string      // file name globs, DefaultPatterns when empty
	SmokeSchedule string        // cron spec for smoke tests, disabled when empty
	Settle        time.Duration // quiet period before a new file is reported
}

// Watcher turns new core dump files into faults and delivers them one at a
// time. It can also send scheduled smoke tests through the same queue.
type Watcher struct {
	client    Deliverer
	opts      Options
	schedule  cron.Schedule
	logger    *slog.Logger
	onOutcome func(delivery.Outcome)

	queue chan *fault.Fault
	ready chan struct{}

	mu       sync.Mutex
	pending  map[string]time.Time
	reported map[string]bool
}

// New validates opts and creates a Watcher. onOutcome, if not nil, is
// called after every delivery.
func New(client Deliverer, opts Options, logger *slog.Logger, onOutcome func(delivery.Outcome)) (*Watcher, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("no directory to watch")
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = DefaultPatterns
	}
	for _, p := range opts.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
	}
	if opts.Settle <= 0 {
		opts.Settle = defaultSettle
	}

	w := &Watcher{
		client:    client,
		opts:      opts,
		logger:    logger,
		onOutcome: onOutcome,
		queue:     make(chan *fault.Fault, queueSize),
		ready:     make(chan struct{}),
		pending:   make(map[string]time.Time),
		reported:  make(map[string]bool),
	}

	if opts.SmokeSchedule != "" {
		sched, err := cron.ParseStandard(opts.SmokeSchedule)
		if err != nil {
			return nil, fmt.Errorf("parsing smoke schedule: %w", err)
		}
		w.schedule = sched
	}
	return w, nil
}

// Ready is closed once the directory is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx is cancelled or the watch fails. A delivery in
// progress when ctx is cancelled is allowed to finish.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.opts.Dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.opts.Dir, err)
	}
	w.logger.Info("watching for core dumps", "dir", w.opts.Dir, "patterns", w.opts.Patterns)

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.deliverLoop(ctx)
	}()

	if w.schedule != nil {
		c := cron.New()
		c.Schedule(w.schedule, cron.FuncJob(func() {
			w.enqueue(fault.SmokeTest())
		}))
		c.Start()
		defer c.Stop()
		w.logger.Info("smoke tests scheduled", "schedule", w.opts.SmokeSchedule)
	}

	ticker := time.NewTicker(w.tick())
	defer ticker.Stop()

	close(w.ready)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !w.matches(ev.Name) {
				continue
			}
			w.mu.Lock()
			if !w.reported[ev.Name] {
				w.pending[ev.Name] = time.Now()
			}
			w.mu.Unlock()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)

		case now := <-ticker.C:
			w.flush(now)
		}
	}
}

func (w *Watcher) tick() time.Duration {
	t := w.opts.Settle / 2
	if t < 10*time.Millisecond {
		t = 10 * time.Millisecond
	}
	return t
}

func (w *Watcher) matches(path string) bool {
	base := filepath.Base(path)
	for _, p := range w.opts.Patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}

// flush reports every pending file that has been quiet for the settle
// period. Each path is reported at most once.
func (w *Watcher) flush(now time.Time) {
	var due []string
	w.mu.Lock()
	for path, last := range w.pending {
		if now.Sub(last) >= w.opts.Settle {
			due = append(due, path)
			delete(w.pending, path)
			w.reported[path] = true
		}
	}
	w.mu.Unlock()

	for _, path := range due {
		info, err := os.Stat(path)
		if err != nil {
			w.logger.Warn("core dump vanished before it was reported", "path", path, "error", err)
			continue
		}
		w.logger.Info("core dump detected", "path", path, "size", info.Size())
		w.enqueue(fault.CoreDump(path, info.Size(), w.opts.SensorID))
	}
}

func (w *Watcher) enqueue(f *fault.Fault) {
	select {
	case w.queue <- f:
	default:
		w.logger.Warn("delivery queue full, dropping fault", "kind", f.Kind, "message", f.Message)
	}
}

func (w *Watcher) deliverLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-w.queue:
			o := w.client.Deliver(f, w.opts.Label)
			if w.onOutcome != nil {
				w.onOutcome(o)
			}
		}
	}
}
