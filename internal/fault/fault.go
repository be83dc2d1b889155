package fault

import "time"

// Fault is a captured error condition raised on behalf of a device.
// It is immutable once created and implements error so it can propagate
// through ordinary return paths until it is handed to a delivery client.
type Fault struct {
	Message    string
	Kind       string // stable machine-readable reason code
	SourceID   string // originating device/sensor identity
	Detail     string // human narrative
	Artifact   string // local file the fault refers to, such as a detected core dump
	OccurredAt time.Time
}

// New creates a fault stamped with the current time.
func New(message, kind, sourceID, detail string) *Fault {
	return &Fault{
		Message:    message,
		Kind:       kind,
		SourceID:   sourceID,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
}

func (f *Fault) Error() string {
	return f.Message
}

// Class is the error class reported upstream: the kind when known,
// otherwise a generic label.
func (f *Fault) Class() string {
	if f.Kind != "" {
		return f.Kind
	}
	return "Error"
}
