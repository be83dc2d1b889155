package transport

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/sznuper/crashrelay/internal/event"
	"github.com/sznuper/crashrelay/internal/fault"
)

// DefaultTemplate sends the envelope as compact JSON. Encoding errors fail
// the render instead of producing an empty payload.
const DefaultTemplate = `{{ mustToJson .Envelope }}`

// SummaryTemplate is a one-line rendering for chat services.
const SummaryTemplate = `{{ .Event.Severity | toString | upper }} [{{ .Event.Context }}] {{ .Fault.Message }} ({{ .Event.User.ID }})`

// TemplateData holds all data available to message templates.
type TemplateData struct {
	Envelope Envelope
	Event    *event.Event
	Fault    *fault.Fault
}

// Render executes a Go text/template string with Sprig functions.
func Render(tmplStr string, data TemplateData) (string, error) {
	t, err := template.New("report").Funcs(sprig.TxtFuncMap()).Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}

	return buf.String(), nil
}
