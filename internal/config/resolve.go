package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Defaults applied by Resolve when an option is left empty.
const (
	DefaultAppType      = "stm32wb55-garage-sensor"
	DefaultAppVersion   = "1.0.0"
	DefaultReleaseStage = "development"
	DefaultContextName  = "STM32WB55_Intrusion_Sensor"
	DefaultHardware     = "STM32WB55"
	DefaultLocation     = "Garage Door"
	DefaultRTOS         = "FreeRTOS"
	DefaultTelemetry    = "sample://"
)

// DefaultConfigPaths returns the search order for config files.
func DefaultConfigPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "crashrelay", "config.yaml"))
	}
	paths = append(paths, "/etc/crashrelay/config.yaml")
	return paths
}

// Resolve loads .env (if present), then the config from the given explicit
// path or the default locations. When nothing is found and no explicit path
// was given, the embedded default config is used. Empty options are filled
// with defaults; validation is left to Validate so flag overrides can be
// applied first.
func Resolve(explicit string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	path, err := findConfig(explicit)
	if err != nil {
		return nil, err
	}

	var cfg *Config
	if path == "" {
		cfg, err = LoadDefault()
	} else {
		cfg, err = Load(path)
	}
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyDefaults fills empty options with their defaults.
func ApplyDefaults(cfg *Config) {
	o := &cfg.Options
	setDefault(&o.AppType, DefaultAppType)
	setDefault(&o.AppVersion, DefaultAppVersion)
	setDefault(&o.ReleaseStage, DefaultReleaseStage)
	setDefault(&o.ContextName, DefaultContextName)
	setDefault(&o.Hardware, DefaultHardware)
	setDefault(&o.Location, DefaultLocation)
	setDefault(&o.RTOS, DefaultRTOS)
	setDefault(&o.Telemetry, DefaultTelemetry)
	setDefault(&cfg.Backend.URL, "logger://")
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Validate checks the config. A missing api_key is reported here and must
// stop the process before any work is done.
func Validate(cfg *Config) error {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	err := v.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "required_if":
			msgs = append(msgs, fmt.Sprintf("%s is required when %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: invalid value %q (%s)", field, fe.Value(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// findConfig returns "" (and no error) when nothing was found and the
// caller should fall back to the embedded config.
func findConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultConfigPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", nil
}
