package telemetry

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Snapshot is the device state captured around a fault: register file, task
// table, recent steps and discrete events. Any field may be absent.
type Snapshot struct {
	Runtime   Runtime   `yaml:"runtime"`
	Registers Registers `yaml:"registers"`
	Tasks     []Task    `yaml:"tasks"`
	Steps     []Step    `yaml:"steps"`
	Events    []Event   `yaml:"events"`
}

// Runtime holds fixed-shape operational metrics.
type Runtime struct {
	WatchdogWindowMs int    `yaml:"watchdog_window_ms"`
	BLERSSI          string `yaml:"ble_rssi"`
}

// Registers is a Cortex-M register file at fault time. Values are kept as
// the strings the device reader produced.
type Registers struct {
	R0   string `yaml:"r0"`
	R1   string `yaml:"r1"`
	R2   string `yaml:"r2"`
	R3   string `yaml:"r3"`
	R12  string `yaml:"r12"`
	SP   string `yaml:"sp"`
	LR   string `yaml:"lr"`
	PC   string `yaml:"pc"`
	XPSR string `yaml:"xpsr"`
	CFSR string `yaml:"cfsr"`
	HFSR string `yaml:"hfsr"`
	BFAR string `yaml:"bfar"`
}

// Task is one row of the RTOS task table.
type Task struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	State            string   `yaml:"state"`
	Priority         *int     `yaml:"priority"`
	FaultReason      string   `yaml:"fault_reason"`
	PC               string   `yaml:"pc"`
	LR               string   `yaml:"lr"`
	SP               string   `yaml:"sp"`
	StackUsed        int      `yaml:"stack_used"`
	StackTotal       int      `yaml:"stack_total"`
	HighWaterMark    *int     `yaml:"high_water_mark"`
	LastBlockingCall string   `yaml:"last_blocking_call"`
	Backtrace        []string `yaml:"backtrace"`
}

// Step is one entry of the task log.
type Step struct {
	Offset string `yaml:"offset"` // how long before the fault, e.g. "1s"
	Name   string `yaml:"step"`
	Result string `yaml:"result"`
}

// Event is one discrete entry of the event timeline.
type Event struct {
	Offset string `yaml:"offset"` // how long before the fault
	Label  string `yaml:"label"`
	Detail string `yaml:"detail"`
	Source string `yaml:"source"`
}

// Before parses an offset string. An empty offset means "at the fault".
func Before(offset string) (time.Duration, error) {
	if offset == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(offset)
	if err != nil {
		return 0, fmt.Errorf("parsing offset %q: %w", offset, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("offset %q is negative", offset)
	}
	return d, nil
}

// Parse decodes a YAML snapshot document.
func Parse(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing telemetry: %w", err)
	}
	return &snap, nil
}

// Load reads a YAML snapshot from path.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading telemetry: %w", err)
	}
	return Parse(data)
}
