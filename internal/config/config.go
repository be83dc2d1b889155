package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/a8m/envsubst"
	"github.com/goccy/go-yaml"
)

//go:embed default.yaml
var defaultConfig []byte

type Config struct {
	Options   Options           `yaml:"options"`
	Backend   Backend           `yaml:"backend"`
	Artifacts map[string]string `yaml:"artifacts"`
}

// Options are the scalar settings that can also be overridden from the
// command line. Every field is a string so flags map onto them uniformly.
type Options struct {
	APIKey           string `yaml:"api_key" validate:"required"`
	AppType          string `yaml:"app_type"`
	AppVersion       string `yaml:"app_version"`
	ReleaseStage     string `yaml:"release_stage"`
	ContextName      string `yaml:"context_name"`
	ArchiveURL       string `yaml:"archive_url" validate:"omitempty,url"`
	LocalAttachments string `yaml:"local_attachments" validate:"omitempty,boolean"`
	AttachmentMode   string `yaml:"attachment_mode" validate:"omitempty,oneof=inline linked"`
	ArtifactBaseURL  string `yaml:"artifact_base_url" validate:"required_if=AttachmentMode linked,omitempty,url"`
	ArtifactsDir     string `yaml:"artifacts_dir"`
	SensorID         string `yaml:"sensor_id"`
	Hardware         string `yaml:"hardware"`
	Location         string `yaml:"location"`
	RTOS             string `yaml:"rtos"`
	Telemetry        string `yaml:"telemetry"`
	TelemetryTimeout string `yaml:"telemetry_timeout"`
	SmokeSchedule    string `yaml:"smoke_schedule"`
}

// Backend is the Shoutrrr service the reports are delivered through.
type Backend struct {
	URL      string            `yaml:"url" validate:"required"`
	Params   map[string]string `yaml:"params"`
	Template string            `yaml:"template"`
}

// LocalAttachmentsEnabled reports whether inline/linked attachments may be
// produced. Unset means enabled; a malformed value means disabled.
func (o Options) LocalAttachmentsEnabled() bool {
	if o.LocalAttachments == "" {
		return true
	}
	v, err := strconv.ParseBool(o.LocalAttachments)
	return err == nil && v
}

// TelemetryTimeoutDuration parses telemetry_timeout, returning 0 (no limit)
// when it is empty or malformed.
func (o Options) TelemetryTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(o.TelemetryTimeout)
	if err != nil {
		return 0
	}
	return d
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// LoadDefault parses the embedded default config, which reads everything
// from the environment.
func LoadDefault() (*Config, error) {
	return parse(defaultConfig)
}

func parse(data []byte) (*Config, error) {
	data, err := envsubst.Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("expanding env vars: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}
