package enrich

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sznuper/crashrelay/internal/attach"
	"github.com/sznuper/crashrelay/internal/event"
	"github.com/sznuper/crashrelay/internal/fault"
	"github.com/sznuper/crashrelay/internal/telemetry"
)

// Unavailable replaces the value of a section whose builder failed.
type Unavailable struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Engine turns a fault into report sections and writes them onto the
// transport's event.
type Engine struct {
	settings  Settings
	telemetry *telemetry.Snapshot
	builders  []Builder
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates an Engine. With no builders given it uses
// DefaultBuilders. Two builders sharing a name are rejected.
func NewEngine(settings Settings, snap *telemetry.Snapshot, logger *slog.Logger, builders ...Builder) (*Engine, error) {
	if len(builders) == 0 {
		builders = DefaultBuilders()
	}
	seen := make(map[string]bool, len(builders))
	for _, b := range builders {
		if b.Name == "" || b.Build == nil {
			return nil, fmt.Errorf("section builder %q is incomplete", b.Name)
		}
		if b.Name == SectionAttachments {
			return nil, fmt.Errorf("section name %q is reserved", b.Name)
		}
		if seen[b.Name] {
			return nil, fmt.Errorf("duplicate section builder %q", b.Name)
		}
		seen[b.Name] = true
	}
	return &Engine{
		settings:  settings,
		telemetry: snap,
		builders:  builders,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// SetClock replaces the time source used for heartbeat timestamps.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Build runs every builder and collects the sections. A failing builder
// yields an Unavailable section instead of aborting the report.
func (e *Engine) Build(f *fault.Fault, label string) *Report {
	ctx := &Context{
		Label:     label,
		Settings:  e.settings,
		Telemetry: e.telemetry,
		Now:       e.now(),
	}

	report := NewReport()
	for _, b := range e.builders {
		value, err := runBuilder(b, f, ctx)
		if err != nil {
			e.logger.Warn("section builder failed", "section", b.Name, "error", err)
			value = Unavailable{Status: "unavailable", Error: err.Error()}
		}
		if report.Set(b.Name, value) {
			e.logger.Error("section built twice", "section", b.Name)
		}
	}
	return report
}

// Apply enriches ev in place. It runs synchronously inside the transport's
// enrichment callback and performs no I/O; manifest must already be
// resolved and may be nil.
func (e *Engine) Apply(ev *event.Event, f *fault.Fault, label string, manifest *attach.Manifest) {
	ev.Context = label

	id, _ := ResolveIdentity(f, e.settings)
	ev.SetUser(id, "", ReporterName(e.settings))
	ev.Severity = event.SeverityError

	NewNormalizer(DeviceProfile{
		ID:              id,
		Model:           e.settings.Hardware,
		RTOS:            e.settings.RTOS,
		FirmwareVersion: e.settings.FirmwareVersion,
		Location:        e.settings.Location,
	}).Apply(ev)

	e.Build(f, label).MergeInto(ev)

	if manifest != nil {
		ev.AddMetadata(SectionAttachments, manifest)
	}
}

func runBuilder(b Builder, f *fault.Fault, ctx *Context) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	value, err = b.Build(f, ctx)
	if err != nil {
		return nil, err
	}
	if _, err := json.Marshal(value); err != nil {
		return nil, fmt.Errorf("encoding section: %w", err)
	}
	return value, nil
}
