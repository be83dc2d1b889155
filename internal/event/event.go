package event

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies how bad a reported event is.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// DeviceField names one entry of the device mapping. Normalization tables are
// written against these constants so a misspelled key fails to compile.
type DeviceField string

const (
	DeviceID              DeviceField = "id"
	DeviceModel           DeviceField = "model"
	DeviceRTOS            DeviceField = "rtos"
	DeviceFirmwareVersion DeviceField = "firmwareVersion"
	DeviceLocation        DeviceField = "location"

	// Host fields the transport fills in on its own.
	DeviceHostname        DeviceField = "hostname"
	DeviceOSName          DeviceField = "osName"
	DeviceOSVersion       DeviceField = "osVersion"
	DeviceFreeMemory      DeviceField = "freeMemory"
	DeviceTotalMemory     DeviceField = "totalMemory"
	DeviceTime            DeviceField = "time"
	DeviceRuntimeVersions DeviceField = "runtimeVersions"
)

// Device is the mutable device mapping attached to an event.
type Device map[DeviceField]any

// User identifies the reporting actor.
type User struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// App describes the reporting application.
type App struct {
	Type         string `json:"type,omitempty"`
	Version      string `json:"version,omitempty"`
	ReleaseStage string `json:"releaseStage,omitempty"`
}

// Exception is the serialized form of the fault that triggered the event.
type Exception struct {
	ErrorClass string `json:"errorClass"`
	Message    string `json:"message"`
}

// Event is the transport-owned object handed to the enrichment callback.
// It is mutated only inside that callback and serialized afterwards.
type Event struct {
	ID         string         `json:"id"`
	ReceivedAt time.Time      `json:"receivedAt"`
	Context    string         `json:"context,omitempty"`
	Severity   Severity       `json:"severity"`
	User       User           `json:"user"`
	App        App            `json:"app"`
	Device     Device         `json:"device"`
	Exceptions []Exception    `json:"exceptions"`
	Metadata   map[string]any `json:"metaData"`
}

// New returns an event with a fresh ID and empty device/metadata mappings.
func New(now time.Time) *Event {
	return &Event{
		ID:         uuid.NewString(),
		ReceivedAt: now.UTC(),
		Severity:   SeverityWarning,
		Device:     make(Device),
		Metadata:   make(map[string]any),
	}
}

// SetUser sets the reporter identity fields.
func (e *Event) SetUser(id, email, name string) {
	e.User = User{ID: id, Email: email, Name: name}
}

// AddMetadata stores value under section, replacing any earlier value.
func (e *Event) AddMetadata(section string, value any) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[section] = value
}
