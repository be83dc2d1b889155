package attach

import (
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sznuper/crashrelay/internal/fault"
	"github.com/sznuper/crashrelay/internal/telemetry"
)

// Mode is the attachment strategy of a report.
type Mode string

const (
	ModeExternal Mode = "external"
	ModeLinked   Mode = "linked"
	ModeInline   Mode = "inline"
)

// DetectedArtifact is the entry name of the file a fault refers to.
const DetectedArtifact = "detected"

// Manifest describes how a report's bulky artifacts can be retrieved.
// Exactly one of the mode-specific field groups is set.
type Manifest struct {
	Mode Mode `json:"mode"`

	// external
	URL string `json:"url,omitempty"`

	// linked
	Entries map[string]string `json:"entries,omitempty"`

	// inline
	Name      string `json:"name,omitempty"`
	SizeBytes int    `json:"sizeBytes,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
	Payload   string `json:"payload,omitempty"`
}

// Settings select and parameterize the attachment strategy.
type Settings struct {
	ArchiveURL   string            // external archive, wins over everything
	Enabled      bool              // local attachment generation
	Mode         Mode              // ModeLinked or ModeInline; empty means inline
	BaseURL      string            // artifact store root for linked mode
	ArtifactsDir string            // local mirror of the artifact store
	Artifacts    map[string]string // artifact name → path relative to the store
}

// Resolver picks the attachment strategy for a fault and produces its
// manifest. It runs before enrichment so archive work stays off the
// enrichment callback.
type Resolver struct {
	settings  Settings
	telemetry *telemetry.Snapshot
	logger    *slog.Logger
	now       func() time.Time
}

func NewResolver(settings Settings, snap *telemetry.Snapshot, logger *slog.Logger) *Resolver {
	return &Resolver{
		settings:  settings,
		telemetry: snap,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock replaces the time source used for archive names.
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

// Resolve returns the manifest for f, or nil when the report should carry
// no attachments (disabled, or archive synthesis failed).
func (r *Resolver) Resolve(f *fault.Fault, label string) *Manifest {
	s := r.settings
	switch {
	case s.ArchiveURL != "":
		return &Manifest{Mode: ModeExternal, URL: s.ArchiveURL}
	case !s.Enabled:
		r.logger.Debug("attachments disabled")
		return nil
	case s.Mode == ModeLinked:
		return r.linked(f)
	default:
		return r.inline(f, label)
	}
}

func (r *Resolver) linked(f *fault.Fault) *Manifest {
	if r.settings.BaseURL == "" {
		r.logger.Warn("linked attachments need an artifact base url, omitting attachments")
		return nil
	}
	entries := make(map[string]string, len(r.settings.Artifacts)+1)
	for name, rel := range r.settings.Artifacts {
		entries[name] = JoinURL(r.settings.BaseURL, rel)
	}
	if f != nil && f.Artifact != "" {
		if u, ok := ArtifactURL(r.settings.BaseURL, r.settings.ArtifactsDir, f.Artifact); ok {
			entries[DetectedArtifact] = u
		} else {
			r.logger.Warn("fault artifact is outside the artifacts dir, not linked", "path", f.Artifact)
		}
	}
	return &Manifest{Mode: ModeLinked, Entries: entries}
}

func (r *Resolver) inline(f *fault.Fault, label string) *Manifest {
	files, err := readArtifacts(r.settings.ArtifactsDir, r.settings.Artifacts, r.logger)
	if err != nil {
		r.logger.Warn("building attachment archive failed, omitting attachments", "error", err)
		return nil
	}
	if f != nil && f.Artifact != "" {
		if a, ok := r.readFaultArtifact(f.Artifact); ok {
			files = append(files, a)
		}
	}

	data, err := BuildArchive(f, label, r.telemetry, files)
	if err != nil {
		r.logger.Warn("building attachment archive failed, omitting attachments", "error", err)
		return nil
	}

	m := &Manifest{
		Mode:      ModeInline,
		Name:      ArchiveName(label, r.now()),
		SizeBytes: len(data),
		Encoding:  "base64",
		Payload:   base64.StdEncoding.EncodeToString(data),
	}
	r.logger.Debug("attachment archive built", "name", m.Name, "size", m.SizeBytes, "artifacts", len(files))
	return m
}

// readFaultArtifact loads the file a fault refers to. Files that would not
// fit an inline archive are left out.
func (r *Resolver) readFaultArtifact(path string) (ArtifactFile, bool) {
	info, err := os.Stat(path)
	if err != nil {
		r.logger.Warn("fault artifact unreadable, archiving without it", "path", path, "error", err)
		return ArtifactFile{}, false
	}
	if !info.Mode().IsRegular() || info.Size() > MaxInlineBytes {
		r.logger.Warn("fault artifact cannot be inlined", "path", path, "size", info.Size())
		return ArtifactFile{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		r.logger.Warn("fault artifact unreadable, archiving without it", "path", path, "error", err)
		return ArtifactFile{}, false
	}
	return ArtifactFile{Name: DetectedArtifact, Rel: filepath.Base(path), Data: data}, true
}

// ArtifactURL returns the linked location of the local file path, which
// must lie inside dir, the mirror of the artifact store at baseURL.
func ArtifactURL(baseURL, dir, path string) (string, bool) {
	if baseURL == "" || dir == "" || path == "" {
		return "", false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return JoinURL(baseURL, filepath.ToSlash(rel)), true
}

// JoinURL joins base and rel with exactly one slash between them.
func JoinURL(base, rel string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(rel, "/")
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ArchiveName suggests a file name for an inline archive.
func ArchiveName(label string, at time.Time) string {
	slug := strings.Trim(unsafeNameChars.ReplaceAllString(label, "_"), "_")
	if slug == "" {
		slug = "report"
	}
	return "crash-" + slug + "-" + at.UTC().Format("20060102T150405Z") + ".tar.gz"
}
