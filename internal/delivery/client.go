package delivery

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sznuper/crashrelay/internal/attach"
	"github.com/sznuper/crashrelay/internal/enrich"
	"github.com/sznuper/crashrelay/internal/event"
	"github.com/sznuper/crashrelay/internal/fault"
)

// Transport is the fault transport boundary.
//
// Notify must invoke enrich exactly once, synchronously, with the event it
// is about to serialize, and only afterwards invoke done exactly once with
// the transmission result. done may be called from another goroutine.
type Transport interface {
	Notify(f *fault.Fault, enrich func(*event.Event), done func(error))
}

// Client submits faults to a Transport and turns its two callbacks into a
// single Completion.
type Client struct {
	transport Transport
	engine    *enrich.Engine
	resolver  *attach.Resolver
	logger    *slog.Logger
}

// New creates a Client. resolver may be nil, in which case reports carry no
// attachments.
func New(t Transport, engine *enrich.Engine, resolver *attach.Resolver, logger *slog.Logger) *Client {
	return &Client{transport: t, engine: engine, resolver: resolver, logger: logger}
}

// Deliver submits f and waits for the outcome.
func (c *Client) Deliver(f *fault.Fault, label string) Outcome {
	return c.Submit(f, label).Wait()
}

// Submit hands f to the transport. The returned Completion resolves once,
// for success and failure alike; Submit itself never panics on behalf of
// the transport or the enrichment stages.
func (c *Client) Submit(f *fault.Fault, label string) *Completion {
	log := c.logger.With("context", label)
	start := time.Now()
	comp := newCompletion()

	if f == nil {
		comp.resolve(Outcome{
			Label:    label,
			Status:   StatusFailed,
			Err:      fmt.Errorf("no fault to deliver"),
			ErrStage: "submit",
		})
		return comp
	}

	// Stage 1: resolve attachments ahead of the enrichment callback.
	var manifest *attach.Manifest
	if c.resolver != nil {
		manifest = c.resolver.Resolve(f, label)
	}
	attached := ""
	if manifest != nil {
		attached = string(manifest.Mode)
	}
	log.Debug("attachments resolved", "mode", attached)

	var (
		mu       sync.Mutex
		enriched bool
		eventID  string
	)

	// Stage 2: enrichment, run by the transport before serialization.
	enrichFn := func(ev *event.Event) {
		mu.Lock()
		if enriched {
			mu.Unlock()
			log.Warn("enrichment callback invoked twice, ignoring")
			return
		}
		enriched = true
		eventID = ev.ID
		mu.Unlock()

		defer func() {
			if r := recover(); r != nil {
				log.Error("enrichment panicked, sending partial report", "panic", r)
			}
		}()
		c.engine.Apply(ev, f, label, manifest)
		log.Debug("event enriched", "event_id", ev.ID, "sections", len(ev.Metadata))
	}

	// Stage 3: delivery result.
	finish := func(err error, stage string) {
		mu.Lock()
		wasEnriched, id := enriched, eventID
		mu.Unlock()

		o := Outcome{
			Fault:    f,
			Label:    label,
			EventID:  id,
			Status:   StatusSent,
			Attached: attached,
			Duration: time.Since(start),
		}
		if err != nil {
			o.Status = StatusFailed
			o.Err = err
			o.ErrStage = stage
		}

		if !comp.resolve(o) {
			log.Warn("delivery result reported twice, ignoring", "error", err)
			return
		}
		if !wasEnriched && err == nil {
			log.Warn("delivery result arrived before enrichment", "event_id", id)
		}
		if err != nil {
			log.Error("failed to deliver crash report", "stage", stage, "error", err)
			return
		}
		log.Info("crash report sent", "event_id", id, "duration", o.Duration)
	}
	doneFn := func(err error) { finish(err, "deliver") }

	func() {
		defer func() {
			if r := recover(); r != nil {
				finish(fmt.Errorf("transport panicked: %v", r), "notify")
			}
		}()
		log.Info("submitting crash report", "kind", f.Kind)
		c.transport.Notify(f, enrichFn, doneFn)
	}()

	return comp
}
