package attach

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/sznuper/crashrelay/internal/fault"
	"github.com/sznuper/crashrelay/internal/telemetry"
)

// MaxInlineBytes caps the size of an inline archive.
const MaxInlineBytes = 8 * 1024 * 1024

const (
	reportArchivePath    = "crash-report.json"
	telemetryArchivePath = "telemetry.yaml"
	eventsArchivePath    = "events.log"
	artifactsArchiveRoot = "artifacts"
)

// ArtifactFile is a local artifact copied into an inline archive.
type ArtifactFile struct {
	Name string
	Rel  string
	Data []byte
}

type crashReport struct {
	Label      string    `json:"label"`
	Message    string    `json:"message"`
	Kind       string    `json:"kind"`
	SourceID   string    `json:"sourceId"`
	Detail     string    `json:"detail"`
	Artifact   string    `json:"artifact,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
	Artifacts  []string  `json:"artifacts"`
}

// BuildArchive writes a gzip-compressed tar holding the crash report,
// the telemetry snapshot, a readable event log and the given artifacts.
// Entry times are the fault time, so the output depends only on its inputs.
func BuildArchive(f *fault.Fault, label string, snap *telemetry.Snapshot, files []ArtifactFile) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("building archive: no fault")
	}
	if snap == nil {
		snap = &telemetry.Snapshot{}
	}
	modTime := f.OccurredAt
	if modTime.IsZero() {
		modTime = time.Unix(0, 0)
	}

	report := crashReport{
		Label:      label,
		Message:    f.Message,
		Kind:       f.Kind,
		SourceID:   f.SourceID,
		Detail:     f.Detail,
		Artifact:   f.Artifact,
		OccurredAt: f.OccurredAt,
		Artifacts:  make([]string, 0, len(files)),
	}
	for _, a := range files {
		report.Artifacts = append(report.Artifacts, a.Name)
	}
	reportData, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding crash report: %w", err)
	}

	telemetryData, err := yaml.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding telemetry: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	entries := []struct {
		name string
		data []byte
	}{
		{reportArchivePath, reportData},
		{telemetryArchivePath, telemetryData},
		{eventsArchivePath, []byte(formatEvents(snap.Events))},
	}
	for _, a := range files {
		name, err := cleanArchivePath(path.Join(artifactsArchiveRoot, a.Name, path.Base(filepath.ToSlash(a.Rel))))
		if err != nil {
			return nil, fmt.Errorf("invalid archive path for %s: %w", a.Name, err)
		}
		entries = append(entries, struct {
			name string
			data []byte
		}{name, a.Data})
	}

	for _, e := range entries {
		if err := writeTarEntry(tw, e.name, e.data, modTime); err != nil {
			return nil, fmt.Errorf("writing %s: %w", e.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip: %w", err)
	}

	if buf.Len() > MaxInlineBytes {
		return nil, fmt.Errorf("archive too large (%d bytes, max %d)", buf.Len(), MaxInlineBytes)
	}
	return buf.Bytes(), nil
}

func writeTarEntry(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    int64(len(data)),
		ModTime: modTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

func cleanArchivePath(p string) (string, error) {
	clean := path.Clean(p)
	if clean == "." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return "", fmt.Errorf("path escapes archive root: %s", p)
	}
	return clean, nil
}

func formatEvents(events []telemetry.Event) string {
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "-%s\t%s\t%s\t%s\n", orNA(e.Offset), orNA(e.Label), orNA(e.Source), orNA(e.Detail))
	}
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}

// readArtifacts loads the configured artifacts from dir, sorted by name.
// Artifacts that do not exist locally are skipped.
func readArtifacts(dir string, artifacts map[string]string, logger *slog.Logger) ([]ArtifactFile, error) {
	if dir == "" || len(artifacts) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(artifacts))
	for name := range artifacts {
		names = append(names, name)
	}
	sort.Strings(names)

	root, err := os.OpenRoot(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("artifacts dir missing, archiving without artifacts", "dir", dir)
			return nil, nil
		}
		return nil, fmt.Errorf("opening artifacts dir: %w", err)
	}
	defer func() { _ = root.Close() }()

	files := make([]ArtifactFile, 0, len(names))
	for _, name := range names {
		rel := strings.TrimLeft(filepath.FromSlash(artifacts[name]), string(filepath.Separator))
		data, err := root.ReadFile(rel)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Debug("artifact not present locally", "artifact", name, "path", rel)
				continue
			}
			return nil, fmt.Errorf("reading artifact %s: %w", name, err)
		}
		files = append(files, ArtifactFile{Name: name, Rel: rel, Data: data})
	}
	return files, nil
}
