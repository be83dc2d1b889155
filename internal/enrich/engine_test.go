package enrich

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sznuper/crashrelay/internal/attach"
	"github.com/sznuper/crashrelay/internal/event"
	"github.com/sznuper/crashrelay/internal/fault"
	"github.com/sznuper/crashrelay/internal/telemetry"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSettings() Settings {
	return Settings{
		FirmwareVersion: "1.0.0",
		Hardware:        "STM32WB55",
		Location:        "Garage Door",
		RTOS:            "FreeRTOS",
	}
}

func newTestEngine(t *testing.T, snap *telemetry.Snapshot, builders ...Builder) *Engine {
	t.Helper()
	e, err := NewEngine(testSettings(), snap, testLogger(), builders...)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	e.SetClock(func() time.Time { return fixedNow })
	return e
}

func testFault() *fault.Fault {
	f := fault.New("Garage intrusion MCU watchdog reset", fault.KindWatchdog, "", "BLE link lost")
	f.OccurredAt = fixedNow
	return f
}

func hostEvent() *event.Event {
	ev := event.New(fixedNow)
	ev.Device[event.DeviceHostname] = "ci-runner"
	ev.Device[event.DeviceOSName] = "linux"
	ev.Device[event.DeviceFreeMemory] = uint64(1024)
	ev.Device[event.DeviceRuntimeVersions] = map[string]string{"go": "go1.26"}
	return ev
}

func TestNewEngine_RejectsDuplicates(t *testing.T) {
	b := Builder{Name: "x", Build: func(*fault.Fault, *Context) (any, error) { return 1, nil }}
	if _, err := NewEngine(testSettings(), nil, testLogger(), b, b); err == nil {
		t.Error("expected error for duplicate builder names")
	}
}

func TestNewEngine_RejectsReservedAndIncomplete(t *testing.T) {
	build := func(*fault.Fault, *Context) (any, error) { return 1, nil }
	cases := []Builder{
		{Name: SectionAttachments, Build: build},
		{Name: "", Build: build},
		{Name: "nobuild"},
	}
	for _, b := range cases {
		if _, err := NewEngine(testSettings(), nil, testLogger(), b); err == nil {
			t.Errorf("builder %q: expected error", b.Name)
		}
	}
}

func TestBuild_AllSectionsWithEmptyInputs(t *testing.T) {
	e := newTestEngine(t, nil)
	report := e.Build(&fault.Fault{}, "")

	for _, name := range []string{SectionIdentity, SectionSensor, SectionDiagnostics, SectionRegisters, SectionTaskLog, SectionEventLog, SectionTasks} {
		v, ok := report.Get(name)
		if !ok {
			t.Errorf("section %q missing", name)
			continue
		}
		if _, failed := v.(Unavailable); failed {
			t.Errorf("section %q unavailable for empty input", name)
		}
	}

	sensor, _ := report.Get(SectionSensor)
	if s := sensor.(SensorSection); s.Reason != "unknown" || s.SensorID != DefaultSensorID {
		t.Errorf("sensor = %+v, want unknown reason and default id", s)
	}
	diag, _ := report.Get(SectionDiagnostics)
	if d := diag.(DiagnosticsSection); d.WatchdogWindowMs != "unknown" || d.Detail != "n/a" {
		t.Errorf("diagnostics = %+v, want placeholders", d)
	}
	tasks, _ := report.Get(SectionTasks)
	if ts := tasks.(TasksSection); len(ts.Entries) != 0 || ts.LastCommand != "tasks" {
		t.Errorf("tasks = %+v, want empty entries", ts)
	}
}

func TestBuild_NilFault(t *testing.T) {
	e := newTestEngine(t, telemetry.Sample())
	report := e.Build(nil, "label")
	if len(report.Names()) != len(DefaultBuilders()) {
		t.Errorf("sections = %v, want all defaults", report.Names())
	}
}

func TestBuild_FailingBuilderIsUnavailable(t *testing.T) {
	builders := []Builder{
		{Name: "ok", Build: func(*fault.Fault, *Context) (any, error) { return "fine", nil }},
		{Name: "err", Build: func(*fault.Fault, *Context) (any, error) { return nil, errors.New("no data") }},
		{Name: "panic", Build: func(*fault.Fault, *Context) (any, error) { panic("boom") }},
	}
	report := newTestEngine(t, nil, builders...).Build(testFault(), "label")

	if v, _ := report.Get("ok"); v != "fine" {
		t.Errorf("ok = %v, want fine", v)
	}
	for _, name := range []string{"err", "panic"} {
		v, ok := report.Get(name)
		if !ok {
			t.Fatalf("section %q missing", name)
		}
		u, isUnavailable := v.(Unavailable)
		if !isUnavailable || u.Status != "unavailable" || u.Error == "" {
			t.Errorf("%s = %#v, want unavailable marker", name, v)
		}
	}
}

func TestBuild_UnencodableSectionIsUnavailable(t *testing.T) {
	builders := []Builder{
		{Name: "ok", Build: func(*fault.Fault, *Context) (any, error) { return "fine", nil }},
		{Name: "nan", Build: func(*fault.Fault, *Context) (any, error) { return math.NaN(), nil }},
	}
	report := newTestEngine(t, nil, builders...).Build(testFault(), "label")

	v, _ := report.Get("nan")
	if u, ok := v.(Unavailable); !ok || u.Error == "" {
		t.Errorf("nan = %#v, want unavailable marker", v)
	}

	ev := event.New(fixedNow)
	report.MergeInto(ev)
	if _, err := json.Marshal(ev); err != nil {
		t.Errorf("event with one bad section does not encode: %v", err)
	}
	if ev.Metadata["ok"] != "fine" {
		t.Errorf("ok = %v, want fine", ev.Metadata["ok"])
	}
}

func TestBuild_NegativeOffsetKeepsSection(t *testing.T) {
	snap := &telemetry.Snapshot{Steps: []telemetry.Step{
		{Offset: "-1s", Name: "bad"},
		{Offset: "1s", Name: "boot"},
	}}
	report := newTestEngine(t, snap).Build(testFault(), "label")

	v, _ := report.Get(SectionTaskLog)
	tl, ok := v.(TaskLogSection)
	if !ok {
		t.Fatalf("tasklog = %#v, want section", v)
	}
	if len(tl.Entries) != 2 {
		t.Errorf("entries = %+v, want both steps", tl.Entries)
	}
}

func TestBuild_OrderIndependent(t *testing.T) {
	snap := telemetry.Sample()
	f := testFault()

	forward := DefaultBuilders()
	reversed := DefaultBuilders()
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}

	render := func(builders []Builder) string {
		ev := event.New(fixedNow)
		newTestEngine(t, snap, builders...).Build(f, "label").MergeInto(ev)
		data, err := json.Marshal(ev.Metadata)
		if err != nil {
			t.Fatalf("encoding metadata: %v", err)
		}
		return string(data)
	}

	if diff := cmp.Diff(render(forward), render(reversed)); diff != "" {
		t.Errorf("metadata depends on builder order (-forward +reversed):\n%s", diff)
	}
}

func TestBuild_Concurrent(t *testing.T) {
	e := newTestEngine(t, telemetry.Sample())
	f := testFault()

	want, err := json.Marshal(e.Build(f, "label").Sections())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, _ := json.Marshal(e.Build(f, "label").Sections())
			results[i] = string(data)
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		if got != string(want) {
			t.Errorf("run %d differs from sequential build", i)
		}
	}
}

func TestApply_EnrichesEvent(t *testing.T) {
	e := newTestEngine(t, telemetry.Sample())
	ev := hostEvent()

	e.Apply(ev, testFault(), "STM32WB55_Intrusion_Sensor", nil)

	if ev.Context != "STM32WB55_Intrusion_Sensor" {
		t.Errorf("context = %q", ev.Context)
	}
	if ev.Severity != event.SeverityError {
		t.Errorf("severity = %q, want error", ev.Severity)
	}
	if ev.User.ID != DefaultSensorID || ev.User.Name != DefaultReporterName {
		t.Errorf("user = %+v", ev.User)
	}
	for _, f := range hostOnlyFields {
		if _, ok := ev.Device[f]; ok {
			t.Errorf("host field %q survived", f)
		}
	}
	if ev.Device[event.DeviceID] != DefaultSensorID {
		t.Errorf("device id = %v, want %q", ev.Device[event.DeviceID], DefaultSensorID)
	}
	if ev.Device[event.DeviceRTOS] != "FreeRTOS" {
		t.Errorf("device rtos = %v", ev.Device[event.DeviceRTOS])
	}
	if _, ok := ev.Metadata[SectionAttachments]; ok {
		t.Error("attachments present without manifest")
	}

	diag := ev.Metadata[SectionDiagnostics].(DiagnosticsSection)
	if diag.CrashName != "STM32WB55_Intrusion_Sensor" {
		t.Errorf("crashName = %q", diag.CrashName)
	}
	if diag.WatchdogWindowMs != 1500 {
		t.Errorf("watchdogWindowMs = %v, want 1500", diag.WatchdogWindowMs)
	}
	if diag.LastHeartbeatTs != "2026-03-14T09:26:53.000Z" {
		t.Errorf("lastHeartbeatTs = %q", diag.LastHeartbeatTs)
	}
}

func TestApply_WithManifest(t *testing.T) {
	e := newTestEngine(t, nil)
	ev := hostEvent()
	m := &attach.Manifest{Mode: attach.ModeExternal, URL: "https://archive.example.com/x.tar.gz"}

	e.Apply(ev, testFault(), "label", m)

	got, ok := ev.Metadata[SectionAttachments].(*attach.Manifest)
	if !ok || got.URL != m.URL {
		t.Errorf("attachments = %#v, want manifest", ev.Metadata[SectionAttachments])
	}
}

func TestApply_Idempotent(t *testing.T) {
	e := newTestEngine(t, telemetry.Sample())
	f := testFault()

	once := hostEvent()
	e.Apply(once, f, "label", nil)
	twice := hostEvent()
	twice.ID = once.ID
	e.Apply(twice, f, "label", nil)
	e.Apply(twice, f, "label", nil)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("repeated Apply changed the event (-once +twice):\n%s", diff)
	}
}
