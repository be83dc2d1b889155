package enrich

import "github.com/sznuper/crashrelay/internal/event"

// hostOnlyFields are filled in by the transport from the machine running
// the pipeline and mean nothing for the embedded target.
var hostOnlyFields = [...]event.DeviceField{
	event.DeviceFreeMemory,
	event.DeviceTotalMemory,
	event.DeviceHostname,
	event.DeviceOSName,
	event.DeviceOSVersion,
	event.DeviceTime,
	event.DeviceRuntimeVersions,
}

// DeviceProfile describes the embedded target an event is about.
type DeviceProfile struct {
	ID              string
	Model           string
	RTOS            string
	FirmwareVersion string
	Location        string
}

type override struct {
	field event.DeviceField
	value string
}

// Normalizer rewrites the device mapping of an event so it describes the
// embedded target instead of the host.
type Normalizer struct {
	overrides []override
}

// NewNormalizer builds the override table for p. Empty profile values are
// left out of the table and never overwrite a device field.
func NewNormalizer(p DeviceProfile) *Normalizer {
	all := []override{
		{event.DeviceID, p.ID},
		{event.DeviceModel, p.Model},
		{event.DeviceRTOS, p.RTOS},
		{event.DeviceFirmwareVersion, p.FirmwareVersion},
		{event.DeviceLocation, p.Location},
	}
	n := &Normalizer{}
	for _, o := range all {
		if o.value != "" {
			n.overrides = append(n.overrides, o)
		}
	}
	return n
}

// Apply mutates ev.Device in place. Missing keys are skipped; applying it
// more than once has no further effect.
func (n *Normalizer) Apply(ev *event.Event) {
	if ev.Device == nil {
		ev.Device = make(event.Device)
	}
	for _, f := range hostOnlyFields {
		delete(ev.Device, f)
	}
	for _, o := range n.overrides {
		ev.Device[o.field] = o.value
	}
}
