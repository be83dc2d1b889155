package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Source is a resolved telemetry URI.
type Source struct {
	URI    string
	Path   string
	Scheme string
}

// ResolveSource maps a telemetry URI to a concrete source.
//
// Supported schemes:
//   - "" or sample://  → built-in demo tables
//   - file://name      → YAML snapshot at filepath.Join(dir, name)
//   - file:///abs/path → YAML snapshot at an absolute path
//   - exec://name      → collector executable whose stdout is a YAML snapshot
func ResolveSource(uri, dir string) (*Source, error) {
	switch {
	case uri == "" || strings.HasPrefix(uri, "sample://"):
		return &Source{URI: uri, Scheme: "sample"}, nil
	case strings.HasPrefix(uri, "file://"):
		path, _, err := resolvePath(strings.TrimPrefix(uri, "file://"), dir)
		if err != nil {
			return nil, err
		}
		return &Source{URI: uri, Path: path, Scheme: "file"}, nil
	case strings.HasPrefix(uri, "exec://"):
		path, info, err := resolvePath(strings.TrimPrefix(uri, "exec://"), dir)
		if err != nil {
			return nil, err
		}
		if info.Mode()&0111 == 0 {
			return nil, fmt.Errorf("telemetry collector is not executable: %s", path)
		}
		return &Source{URI: uri, Path: path, Scheme: "exec"}, nil
	default:
		return nil, fmt.Errorf("unsupported telemetry URI scheme: %s", uri)
	}
}

func resolvePath(raw, dir string) (string, os.FileInfo, error) {
	path := raw
	if !strings.HasPrefix(raw, "/") {
		path = filepath.Join(dir, raw)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", nil, fmt.Errorf("telemetry source not found: %s", path)
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("telemetry source is a directory: %s", path)
	}
	return path, info, nil
}

// Read loads the snapshot behind a resolved source. Collectors run with
// timeout and receive env as CRASHRELAY_<KEY> variables.
func (s *Source) Read(ctx context.Context, timeout time.Duration, env map[string]string) (*Snapshot, error) {
	switch s.Scheme {
	case "sample":
		return Sample(), nil
	case "file":
		return Load(s.Path)
	case "exec":
		res, err := Exec(ctx, ExecOpts{Path: s.Path, Timeout: timeout, Env: env})
		if err != nil {
			return nil, err
		}
		if res.ExitCode != 0 {
			return nil, fmt.Errorf("telemetry collector exited with code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
		}
		return Parse([]byte(res.Stdout))
	default:
		return nil, fmt.Errorf("unsupported telemetry scheme: %s", s.Scheme)
	}
}

// Resolve resolves uri against dir and reads its snapshot.
func Resolve(ctx context.Context, uri, dir string, timeout time.Duration, env map[string]string) (*Snapshot, error) {
	src, err := ResolveSource(uri, dir)
	if err != nil {
		return nil, err
	}
	return src.Read(ctx, timeout, env)
}
