package enrich

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sznuper/crashrelay/internal/attach"
	"github.com/sznuper/crashrelay/internal/fault"
	"github.com/sznuper/crashrelay/internal/telemetry"
)

// Section names. Dashboards key on these, so they are stable.
const (
	SectionIdentity    = "identity"
	SectionSensor      = "sensor"
	SectionDiagnostics = "diagnostics"
	SectionRegisters   = "registers"
	SectionTaskLog     = "tasklog"
	SectionEventLog    = "eventlog"
	SectionTasks       = "tasks"
	SectionAttachments = "attachments"
)

const (
	// DefaultSensorID is the last-resort reporter identity.
	DefaultSensorID = "garage-door-node-01"
	// DefaultReporterName is the display name of the reporting device.
	DefaultReporterName = "Garage Intrusion Sensor"

	unknown       = "unknown"
	notApplicable = "n/a"
)

// Settings are the read-only configuration values builders may consult.
type Settings struct {
	SensorID        string
	ReporterName    string
	FirmwareVersion string
	Hardware        string
	Location        string
	RTOS            string
	DumpURL         string // configured core dump location

	// Used to link a fault's own artifact in place of DumpURL.
	ArtifactBaseURL string
	ArtifactsDir    string
}

// Context is everything a builder sees besides the fault. Now is taken once
// per report so builders stay deterministic.
type Context struct {
	Label     string
	Settings  Settings
	Telemetry *telemetry.Snapshot
	Now       time.Time
}

// Builder produces one named section. Build must not depend on any other
// section and must be safe to call concurrently.
type Builder struct {
	Name  string
	Build func(f *fault.Fault, c *Context) (any, error)
}

// DefaultBuilders returns the standard section set.
func DefaultBuilders() []Builder {
	return []Builder{
		{Name: SectionIdentity, Build: buildIdentity},
		{Name: SectionSensor, Build: buildSensor},
		{Name: SectionDiagnostics, Build: buildDiagnostics},
		{Name: SectionRegisters, Build: buildRegisters},
		{Name: SectionTaskLog, Build: buildTaskLog},
		{Name: SectionEventLog, Build: buildEventLog},
		{Name: SectionTasks, Build: buildTasks},
	}
}

// Identity sources, in precedence order.
const (
	IdentityFromFault   = "fault"
	IdentityFromConfig  = "config"
	IdentityFromDefault = "default"
)

// ResolveIdentity picks the reporter id: the fault's source id, then the
// configured sensor id, then DefaultSensorID. It never returns "".
func ResolveIdentity(f *fault.Fault, s Settings) (id, source string) {
	switch {
	case f != nil && strings.TrimSpace(f.SourceID) != "":
		return f.SourceID, IdentityFromFault
	case strings.TrimSpace(s.SensorID) != "":
		return s.SensorID, IdentityFromConfig
	default:
		return DefaultSensorID, IdentityFromDefault
	}
}

// ReporterName is the configured display name or DefaultReporterName.
func ReporterName(s Settings) string {
	return orDefault(s.ReporterName, DefaultReporterName)
}

type IdentitySection struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Source string `json:"source"`
}

func buildIdentity(f *fault.Fault, c *Context) (any, error) {
	id, src := ResolveIdentity(f, c.Settings)
	return IdentitySection{ID: id, Name: ReporterName(c.Settings), Source: src}, nil
}

type SensorSection struct {
	SensorID        string `json:"sensorId"`
	FirmwareVersion string `json:"firmwareVersion"`
	Hardware        string `json:"hardware"`
	Location        string `json:"location"`
	Reason          string `json:"reason"`
}

func buildSensor(f *fault.Fault, c *Context) (any, error) {
	id, _ := ResolveIdentity(f, c.Settings)
	return SensorSection{
		SensorID:        id,
		FirmwareVersion: orDefault(c.Settings.FirmwareVersion, unknown),
		Hardware:        orDefault(c.Settings.Hardware, unknown),
		Location:        orDefault(c.Settings.Location, unknown),
		Reason:          orDefault(faultOf(f).Kind, unknown),
	}, nil
}

type DiagnosticsSection struct {
	WatchdogWindowMs any    `json:"watchdogWindowMs"`
	BLERSSI          string `json:"bleRssi"`
	LastHeartbeatTs  string `json:"lastHeartbeatTs"`
	Detail           string `json:"detail"`
	CrashName        string `json:"crashName"`
}

func buildDiagnostics(f *fault.Fault, c *Context) (any, error) {
	rt := snapshotOf(c).Runtime
	var window any = unknown
	if rt.WatchdogWindowMs > 0 {
		window = rt.WatchdogWindowMs
	}
	return DiagnosticsSection{
		WatchdogWindowMs: window,
		BLERSSI:          orDefault(rt.BLERSSI, unknown),
		LastHeartbeatTs:  c.Now.UTC().Format(isoMillis),
		Detail:           orDefault(faultOf(f).Detail, notApplicable),
		CrashName:        c.Label,
	}, nil
}

type RegistersSection struct {
	R0      string `json:"r0"`
	R1      string `json:"r1"`
	R2      string `json:"r2"`
	R3      string `json:"r3"`
	R12     string `json:"r12"`
	SP      string `json:"sp"`
	LR      string `json:"lr"`
	PC      string `json:"pc"`
	XPSR    string `json:"xpsr"`
	CFSR    string `json:"cfsr"`
	HFSR    string `json:"hfsr"`
	BFAR    string `json:"bfar"`
	DumpURL string `json:"dumpUrl"`
}

func buildRegisters(f *fault.Fault, c *Context) (any, error) {
	r := snapshotOf(c).Registers
	na := func(v string) string { return orDefault(v, notApplicable) }
	return RegistersSection{
		R0: na(r.R0), R1: na(r.R1), R2: na(r.R2), R3: na(r.R3), R12: na(r.R12),
		SP: na(r.SP), LR: na(r.LR), PC: na(r.PC), XPSR: na(r.XPSR),
		CFSR: na(r.CFSR), HFSR: na(r.HFSR), BFAR: na(r.BFAR),
		DumpURL: na(dumpURL(f, c.Settings)),
	}, nil
}

// dumpURL prefers the file the fault refers to over the configured dump.
// A file outside the artifact store is reported by its local path.
func dumpURL(f *fault.Fault, s Settings) string {
	if f == nil || f.Artifact == "" {
		return s.DumpURL
	}
	if u, ok := attach.ArtifactURL(s.ArtifactBaseURL, s.ArtifactsDir, f.Artifact); ok {
		return u
	}
	return f.Artifact
}

type StepEntry struct {
	Ts         time.Time `json:"ts"`
	TimeStatus string    `json:"timeStatus,omitempty"` // "unknown" when the offset was unusable
	Step       string    `json:"step"`
	Result     string    `json:"result"`
}

type TaskLogSection struct {
	Entries     []StepEntry `json:"entries"`
	LastCommand string      `json:"lastCommand"`
}

func buildTaskLog(f *fault.Fault, c *Context) (any, error) {
	steps := snapshotOf(c).Steps
	anchor := anchorTime(f, c)
	entries := make([]StepEntry, 0, len(steps))
	stamps := make([]time.Time, 0, len(steps))
	for _, s := range steps {
		d, timeStatus := offsetOf(s.Offset)
		entries = append(entries, StepEntry{
			TimeStatus: timeStatus,
			Step:       orDefault(s.Name, unknown),
			Result:     orDefault(s.Result, unknown),
		})
		stamps = append(stamps, anchor.Add(-d))
	}
	order := ascending(stamps)
	sorted := make([]StepEntry, len(entries))
	for i, j := range order {
		sorted[i] = entries[j]
		sorted[i].Ts = stamps[j]
	}
	return TaskLogSection{Entries: sorted, LastCommand: "tasklog"}, nil
}

type TimelineEntry struct {
	OccurredAt time.Time `json:"occurredAt"`
	TimeStatus string    `json:"timeStatus,omitempty"` // "unknown" when the offset was unusable
	Label      string    `json:"label"`
	Detail     string    `json:"detail"`
	Source     string    `json:"source"`
}

type EventLogSection struct {
	Entries     []TimelineEntry `json:"entries"`
	LastCommand string          `json:"lastCommand"`
}

func buildEventLog(f *fault.Fault, c *Context) (any, error) {
	events := snapshotOf(c).Events
	anchor := anchorTime(f, c)
	entries := make([]TimelineEntry, 0, len(events))
	stamps := make([]time.Time, 0, len(events))
	for _, e := range events {
		d, timeStatus := offsetOf(e.Offset)
		entries = append(entries, TimelineEntry{
			TimeStatus: timeStatus,
			Label:      orDefault(e.Label, unknown),
			Detail:     orDefault(e.Detail, notApplicable),
			Source:     orDefault(e.Source, unknown),
		})
		stamps = append(stamps, anchor.Add(-d))
	}
	order := ascending(stamps)
	sorted := make([]TimelineEntry, len(entries))
	for i, j := range order {
		sorted[i] = entries[j]
		sorted[i].OccurredAt = stamps[j]
	}
	return EventLogSection{Entries: sorted, LastCommand: "eventlog"}, nil
}

type TaskRow struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	State            string `json:"state"`
	Priority         string `json:"priority"`
	FaultReason      string `json:"faultReason"`
	PC               string `json:"pc"`
	LR               string `json:"lr"`
	SP               string `json:"sp"`
	Stack            string `json:"stack"`
	HighWaterMark    string `json:"highWaterMark"`
	LastBlockingCall string `json:"lastBlockingCall"`
	Backtrace        string `json:"backtrace"`
}

type TasksSection struct {
	Entries     []TaskRow `json:"entries"`
	LastCommand string    `json:"lastCommand"`
}

func buildTasks(_ *fault.Fault, c *Context) (any, error) {
	tasks := snapshotOf(c).Tasks
	rows := make([]TaskRow, 0, len(tasks))
	for i, t := range tasks {
		rows = append(rows, TaskRow{
			ID:               orDefault(t.ID, strconv.Itoa(i+1)),
			Name:             orDefault(t.Name, unknown),
			State:            orDefault(t.State, unknown),
			Priority:         intOrUnknown(t.Priority),
			FaultReason:      orDefault(t.FaultReason, notApplicable),
			PC:               orDefault(t.PC, notApplicable),
			LR:               orDefault(t.LR, notApplicable),
			SP:               orDefault(t.SP, notApplicable),
			Stack:            FormatStackUsage(t.StackUsed, t.StackTotal),
			HighWaterMark:    intOrUnknown(t.HighWaterMark),
			LastBlockingCall: orDefault(t.LastBlockingCall, notApplicable),
			Backtrace:        FormatBacktrace(t.Backtrace),
		})
	}
	return TasksSection{Entries: rows, LastCommand: "tasks"}, nil
}

// FormatStackUsage renders "used/total bytes (pct%)", or "unknown" when
// either value is missing or zero.
func FormatStackUsage(used, total int) string {
	if used <= 0 || total <= 0 {
		return unknown
	}
	pct := int(math.Round(float64(used) * 100 / float64(total)))
	return fmt.Sprintf("%d/%d bytes (%d%%)", used, total, pct)
}

// FormatBacktrace joins frames innermost first.
func FormatBacktrace(frames []string) string {
	kept := make([]string, 0, len(frames))
	for _, f := range frames {
		if f = strings.TrimSpace(f); f != "" {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return notApplicable
	}
	return strings.Join(kept, " <- ")
}

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// ascending returns the indexes of stamps in ascending time order and
// nudges ties forward by a millisecond so the sequence is strictly
// increasing.
func ascending(stamps []time.Time) []int {
	order := make([]int, len(stamps))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return stamps[order[a]].Before(stamps[order[b]])
	})
	for k := 1; k < len(order); k++ {
		prev, cur := stamps[order[k-1]], stamps[order[k]]
		if !cur.After(prev) {
			stamps[order[k]] = prev.Add(time.Millisecond)
		}
	}
	return order
}

// offsetOf parses a telemetry offset. An unusable offset places the entry
// at the anchor with its time marked unknown.
func offsetOf(offset string) (time.Duration, string) {
	d, err := telemetry.Before(offset)
	if err != nil {
		return 0, unknown
	}
	return d, ""
}

func anchorTime(f *fault.Fault, c *Context) time.Time {
	if f != nil && !f.OccurredAt.IsZero() {
		return f.OccurredAt.UTC()
	}
	return c.Now.UTC()
}

func faultOf(f *fault.Fault) fault.Fault {
	if f == nil {
		return fault.Fault{}
	}
	return *f
}

func snapshotOf(c *Context) *telemetry.Snapshot {
	if c.Telemetry == nil {
		return &telemetry.Snapshot{}
	}
	return c.Telemetry
}

func intOrUnknown(v *int) string {
	if v == nil {
		return unknown
	}
	return strconv.Itoa(*v)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
