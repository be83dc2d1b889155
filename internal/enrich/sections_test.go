package enrich

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sznuper/crashrelay/internal/event"
	"github.com/sznuper/crashrelay/internal/fault"
	"github.com/sznuper/crashrelay/internal/telemetry"
)

func TestResolveIdentity(t *testing.T) {
	tests := []struct {
		name       string
		fault      *fault.Fault
		settings   Settings
		wantID     string
		wantSource string
	}{
		{"fault wins", &fault.Fault{SourceID: "node-7"}, Settings{SensorID: "cfg"}, "node-7", IdentityFromFault},
		{"config", &fault.Fault{}, Settings{SensorID: "cfg"}, "cfg", IdentityFromConfig},
		{"blank fault id", &fault.Fault{SourceID: "  "}, Settings{SensorID: "cfg"}, "cfg", IdentityFromConfig},
		{"default", &fault.Fault{}, Settings{}, DefaultSensorID, IdentityFromDefault},
		{"nil fault", nil, Settings{}, DefaultSensorID, IdentityFromDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, src := ResolveIdentity(tt.fault, tt.settings)
			if id != tt.wantID || src != tt.wantSource {
				t.Errorf("ResolveIdentity = (%q, %q), want (%q, %q)", id, src, tt.wantID, tt.wantSource)
			}
		})
	}
}

func TestReporterName(t *testing.T) {
	if got := ReporterName(Settings{}); got != DefaultReporterName {
		t.Errorf("ReporterName = %q, want %q", got, DefaultReporterName)
	}
	if got := ReporterName(Settings{ReporterName: "Porch"}); got != "Porch" {
		t.Errorf("ReporterName = %q, want %q", got, "Porch")
	}
}

func TestFormatStackUsage(t *testing.T) {
	tests := []struct {
		used, total int
		want        string
	}{
		{352, 512, "352/512 bytes (69%)"},
		{198, 384, "198/384 bytes (52%)"},
		{512, 512, "512/512 bytes (100%)"},
		{0, 512, "unknown"},
		{352, 0, "unknown"},
		{-1, 512, "unknown"},
	}
	for _, tt := range tests {
		if got := FormatStackUsage(tt.used, tt.total); got != tt.want {
			t.Errorf("FormatStackUsage(%d, %d) = %q, want %q", tt.used, tt.total, got, tt.want)
		}
	}
}

func TestFormatBacktrace(t *testing.T) {
	if got := FormatBacktrace(nil); got != "n/a" {
		t.Errorf("FormatBacktrace(nil) = %q, want n/a", got)
	}
	got := FormatBacktrace([]string{"ble_rx_isr", " ", "hci_dispatch"})
	if got != "ble_rx_isr <- hci_dispatch" {
		t.Errorf("FormatBacktrace = %q", got)
	}
}

func TestTaskLog_AnchoredAtFault(t *testing.T) {
	snap := &telemetry.Snapshot{Steps: []telemetry.Step{
		{Offset: "200ms", Name: "watchdog", Result: "reset"},
		{Offset: "3s", Name: "boot", Result: "ok"},
		{Offset: "1s", Name: "intrusion_detect"},
	}}
	f := testFault()
	c := &Context{Telemetry: snap, Now: fixedNow.Add(time.Hour)}

	v, err := buildTaskLog(f, c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := v.(TaskLogSection)
	want := []struct {
		step string
		ts   time.Time
	}{
		{"boot", fixedNow.Add(-3 * time.Second)},
		{"intrusion_detect", fixedNow.Add(-time.Second)},
		{"watchdog", fixedNow.Add(-200 * time.Millisecond)},
	}
	if len(got.Entries) != len(want) {
		t.Fatalf("entries = %d, want %d", len(got.Entries), len(want))
	}
	for i, w := range want {
		if got.Entries[i].Step != w.step || !got.Entries[i].Ts.Equal(w.ts) {
			t.Errorf("entry %d = %s@%s, want %s@%s", i, got.Entries[i].Step, got.Entries[i].Ts, w.step, w.ts)
		}
	}
	if got.Entries[1].Result != "unknown" {
		t.Errorf("missing result = %q, want unknown", got.Entries[1].Result)
	}
	if got.LastCommand != "tasklog" {
		t.Errorf("lastCommand = %q", got.LastCommand)
	}
}

func TestEventLog_TiesAreNudged(t *testing.T) {
	snap := &telemetry.Snapshot{Events: []telemetry.Event{
		{Offset: "1s", Label: "a"},
		{Offset: "1s", Label: "b"},
		{Offset: "1s", Label: "c"},
	}}
	v, err := buildEventLog(testFault(), &Context{Telemetry: snap, Now: fixedNow})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries := v.(EventLogSection).Entries
	for i := 1; i < len(entries); i++ {
		if !entries[i].OccurredAt.After(entries[i-1].OccurredAt) {
			t.Errorf("entry %d not strictly after entry %d", i, i-1)
		}
	}
	if entries[0].Label != "a" || entries[2].Label != "c" {
		t.Errorf("tie order not stable: %v", entries)
	}
	if entries[0].Detail != "n/a" || entries[0].Source != "unknown" {
		t.Errorf("placeholders = %q/%q", entries[0].Detail, entries[0].Source)
	}
}

func TestTimelines_MalformedOffsetIsUnknown(t *testing.T) {
	snap := &telemetry.Snapshot{
		Steps: []telemetry.Step{
			{Offset: "-1s", Name: "bad"},
			{Offset: "2s", Name: "boot", Result: "ok"},
		},
		Events: []telemetry.Event{
			{Offset: "soon", Label: "bad"},
			{Offset: "1s", Label: "door_open"},
			{Offset: "", Label: "reset"},
		},
	}
	c := &Context{Telemetry: snap, Now: fixedNow}

	v, err := buildTaskLog(testFault(), c)
	if err != nil {
		t.Fatalf("tasklog: unexpected error: %v", err)
	}
	steps := v.(TaskLogSection).Entries
	if len(steps) != 2 || steps[0].Step != "boot" || steps[1].Step != "bad" {
		t.Fatalf("steps = %+v, want boot then bad", steps)
	}
	if steps[0].TimeStatus != "" || steps[1].TimeStatus != "unknown" {
		t.Errorf("time status = %q/%q, want \"\"/unknown", steps[0].TimeStatus, steps[1].TimeStatus)
	}

	v, err = buildEventLog(testFault(), c)
	if err != nil {
		t.Fatalf("eventlog: unexpected error: %v", err)
	}
	events := v.(EventLogSection).Entries
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	for i := 1; i < len(events); i++ {
		if !events[i].OccurredAt.After(events[i-1].OccurredAt) {
			t.Errorf("event %d not strictly after event %d", i, i-1)
		}
	}
	for _, e := range events {
		if want := map[string]string{"bad": "unknown"}[e.Label]; e.TimeStatus != want {
			t.Errorf("%s time status = %q, want %q", e.Label, e.TimeStatus, want)
		}
	}
}

func TestEventLog_AnchorFallsBackToNow(t *testing.T) {
	snap := &telemetry.Snapshot{Events: []telemetry.Event{{Offset: "2s", Label: "x"}}}
	v, err := buildEventLog(&fault.Fault{}, &Context{Telemetry: snap, Now: fixedNow})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := v.(EventLogSection).Entries[0].OccurredAt
	if !got.Equal(fixedNow.Add(-2 * time.Second)) {
		t.Errorf("occurredAt = %s, want now - 2s", got)
	}
}

func TestTasks_SampleRows(t *testing.T) {
	v, err := buildTasks(nil, &Context{Telemetry: telemetry.Sample()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows := v.(TasksSection).Entries
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0].Stack != "352/512 bytes (69%)" {
		t.Errorf("stack = %q", rows[0].Stack)
	}
	if rows[2].Stack != "unknown" {
		t.Errorf("watchdog stack = %q, want unknown", rows[2].Stack)
	}
}

func TestRegisters_DumpURL(t *testing.T) {
	dir := t.TempDir()
	settings := Settings{
		DumpURL:         "https://artifacts.example.com/garage/dumps/core.bin",
		ArtifactBaseURL: "https://artifacts.example.com/garage/",
		ArtifactsDir:    dir,
	}
	tests := []struct {
		name string
		f    *fault.Fault
		want string
	}{
		{"configured", testFault(), settings.DumpURL},
		{"nil fault", nil, settings.DumpURL},
		{"detected in store", fault.CoreDump(filepath.Join(dir, "mcu-17.core"), 1, ""), "https://artifacts.example.com/garage/mcu-17.core"},
		{"detected elsewhere", fault.CoreDump("/tmp/stray.core", 1, ""), "/tmp/stray.core"},
	}
	for _, tt := range tests {
		v, err := buildRegisters(tt.f, &Context{Settings: settings})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if got := v.(RegistersSection).DumpURL; got != tt.want {
			t.Errorf("%s: dumpUrl = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestNormalizer_Idempotent(t *testing.T) {
	n := NewNormalizer(DeviceProfile{ID: "node-1", Model: "STM32WB55"})
	ev := hostEvent()
	n.Apply(ev)
	first := len(ev.Device)
	n.Apply(ev)

	if len(ev.Device) != first {
		t.Errorf("device size changed from %d to %d", first, len(ev.Device))
	}
	if ev.Device[event.DeviceID] != "node-1" || ev.Device[event.DeviceModel] != "STM32WB55" {
		t.Errorf("device = %v", ev.Device)
	}
	if _, ok := ev.Device[event.DeviceRTOS]; ok {
		t.Error("empty profile value should not be written")
	}
}

func TestNormalizer_NilDevice(t *testing.T) {
	ev := &event.Event{}
	NewNormalizer(DeviceProfile{ID: "x"}).Apply(ev)
	if ev.Device[event.DeviceID] != "x" {
		t.Errorf("device = %v", ev.Device)
	}
}

func TestReport_SetReplacesInPlace(t *testing.T) {
	r := NewReport()
	if r.Set("a", 1) {
		t.Error("first Set reported replace")
	}
	r.Set("b", 2)
	if !r.Set("a", 3) {
		t.Error("second Set did not report replace")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("names = %v, want [a b]", names)
	}
	if v, _ := r.Get("a"); v != 3 {
		t.Errorf("a = %v, want 3", v)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get on missing name returned ok")
	}

	ev := &event.Event{}
	r.MergeInto(ev)
	if len(ev.Metadata) != 2 {
		t.Errorf("metadata = %v", ev.Metadata)
	}
}
