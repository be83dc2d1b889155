package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sznuper/crashrelay/internal/event"
	"github.com/sznuper/crashrelay/internal/fault"
)

const NotifierName = "crashrelay"

// NotifierVersion is reported in every envelope. Overridden at build time.
var NotifierVersion = "0.1.0"

// Options configure a Backend.
type Options struct {
	APIKey       string
	AppType      string
	AppVersion   string
	ReleaseStage string

	URL      string            // Shoutrrr service URL
	Params   map[string]string // merged into the URL query
	Template string            // message template, DefaultTemplate when empty

	DryRun  bool   // validate the sender, never transmit
	OutPath string // also write the redacted envelope here
}

// Notifier identifies the sending library in an envelope.
type Notifier struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Envelope is the document handed to the backend.
type Envelope struct {
	APIKey   string         `json:"apiKey"`
	Notifier Notifier       `json:"notifier"`
	Events   []*event.Event `json:"events"`
}

// Backend delivers events through a Shoutrrr service. Notify enriches
// synchronously and transmits on a separate goroutine.
type Backend struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

func New(opts Options, logger *slog.Logger) *Backend {
	if opts.Template == "" {
		opts.Template = DefaultTemplate
	}
	return &Backend{opts: opts, logger: logger, now: time.Now}
}

// Notify implements delivery.Transport.
func (b *Backend) Notify(f *fault.Fault, enrich func(*event.Event), done func(error)) {
	ev := b.newEvent(f)
	if enrich != nil {
		enrich(ev)
	}

	env := Envelope{
		APIKey:   b.opts.APIKey,
		Notifier: Notifier{Name: NotifierName, Version: NotifierVersion},
		Events:   []*event.Event{ev},
	}

	msg, err := Render(b.opts.Template, TemplateData{Envelope: env, Event: ev, Fault: f})
	if err != nil {
		b.async(func() { done(fmt.Errorf("rendering payload: %w", err)) })
		return
	}

	if b.opts.OutPath != "" {
		if err := b.writeOut(env); err != nil {
			b.logger.Warn("writing report copy failed", "path", b.opts.OutPath, "error", err)
		}
	}

	b.async(func() { done(b.send(msg)) })
}

// Wait blocks until every in-flight transmission has reported back.
func (b *Backend) Wait() {
	b.wg.Wait()
}

func (b *Backend) async(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

func (b *Backend) send(msg string) error {
	rawURL, err := applyParams(b.opts.URL, b.opts.Params)
	if err != nil {
		return fmt.Errorf("building service url: %w", err)
	}

	sender, err := shoutrrr.CreateSender(rawURL)
	if err != nil {
		return fmt.Errorf("creating sender: %w", err)
	}

	if b.opts.DryRun {
		b.logger.Debug("dry run, not transmitting", "bytes", len(msg))
		return nil
	}

	params := types.Params{}
	for _, e := range sender.Send(msg, &params) {
		if e != nil {
			return fmt.Errorf("sending report: %w", e)
		}
	}
	return nil
}

// Validate checks that the service URL can be turned into a sender.
func (b *Backend) Validate() error {
	rawURL, err := applyParams(b.opts.URL, b.opts.Params)
	if err != nil {
		return fmt.Errorf("building service url: %w", err)
	}
	if _, err := shoutrrr.CreateSender(rawURL); err != nil {
		return fmt.Errorf("creating sender: %w", err)
	}
	return nil
}

// newEvent builds the event with the fields a crash SDK fills in on its
// own, including host details that the enrichment later strips.
func (b *Backend) newEvent(f *fault.Fault) *event.Event {
	now := b.now()
	ev := event.New(now)
	ev.App = event.App{
		Type:         b.opts.AppType,
		Version:      b.opts.AppVersion,
		ReleaseStage: b.opts.ReleaseStage,
	}
	if f != nil {
		ev.Exceptions = []event.Exception{{ErrorClass: f.Class(), Message: f.Message}}
	}

	if h, err := os.Hostname(); err == nil {
		ev.Device[event.DeviceHostname] = h
	}
	ev.Device[event.DeviceOSName] = runtime.GOOS
	if info, err := host.Info(); err == nil {
		ev.Device[event.DeviceOSVersion] = info.PlatformVersion
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		ev.Device[event.DeviceFreeMemory] = vm.Available
		ev.Device[event.DeviceTotalMemory] = vm.Total
	}
	ev.Device[event.DeviceTime] = now.UTC()
	ev.Device[event.DeviceRuntimeVersions] = map[string]string{
		"go":         runtime.Version(),
		NotifierName: NotifierVersion,
	}
	return ev
}

func (b *Backend) writeOut(env Envelope) error {
	env.APIKey = redacted
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return atomicWriteFile(b.opts.OutPath, data, 0o600)
}

const redacted = "[REDACTED]"

// applyParams merges params into the query string of rawURL.
func applyParams(rawURL string, params map[string]string) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
