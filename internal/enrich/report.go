package enrich

import "github.com/sznuper/crashrelay/internal/event"

// Section is one named block of diagnostic data.
type Section struct {
	Name  string
	Value any
}

// Report accumulates sections in insertion order. It is merged into an
// event in one step once every builder has run.
type Report struct {
	sections []Section
	index    map[string]int
}

func NewReport() *Report {
	return &Report{index: make(map[string]int)}
}

// Set stores value under name. A second Set for the same name replaces the
// value in place and reports true.
func (r *Report) Set(name string, value any) bool {
	if i, ok := r.index[name]; ok {
		r.sections[i].Value = value
		return true
	}
	r.index[name] = len(r.sections)
	r.sections = append(r.sections, Section{Name: name, Value: value})
	return false
}

// Get returns the value stored under name.
func (r *Report) Get(name string) (any, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.sections[i].Value, true
}

// Names lists section names in insertion order.
func (r *Report) Names() []string {
	names := make([]string, len(r.sections))
	for i, s := range r.sections {
		names[i] = s.Name
	}
	return names
}

// Sections returns a copy of the accumulated sections.
func (r *Report) Sections() []Section {
	return append([]Section(nil), r.sections...)
}

// MergeInto adds every section to the event's metadata.
func (r *Report) MergeInto(ev *event.Event) {
	for _, s := range r.sections {
		ev.AddMetadata(s.Name, s.Value)
	}
}
