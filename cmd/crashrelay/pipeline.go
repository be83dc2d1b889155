package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sznuper/crashrelay/internal/attach"
	"github.com/sznuper/crashrelay/internal/config"
	"github.com/sznuper/crashrelay/internal/delivery"
	"github.com/sznuper/crashrelay/internal/enrich"
	"github.com/sznuper/crashrelay/internal/telemetry"
	"github.com/sznuper/crashrelay/internal/transport"
)

// pipeline is everything a command needs to deliver faults.
type pipeline struct {
	cfg     *config.Config
	backend *transport.Backend
	client  *delivery.Client
}

type deliveryFlags struct {
	dryRun  bool
	outPath string
}

func addDeliveryFlags(cmd *cobra.Command, f *deliveryFlags) {
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "build and validate the report without transmitting it")
	cmd.Flags().StringVar(&f.outPath, "out", "", "also write the redacted report to this file")
}

// loadConfig resolves the config, applies flag overrides and validates it.
// A missing api key stops the command here.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Resolve(cfgFile)
	if err != nil {
		return nil, err
	}
	applyOptionFlags(cmd, cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildPipeline(ctx context.Context, cmd *cobra.Command, flags deliveryFlags, logger *slog.Logger) (*pipeline, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	o := cfg.Options

	snap, err := telemetry.Resolve(ctx, o.Telemetry, ".", o.TelemetryTimeoutDuration(), map[string]string{
		"sensor_id":    o.SensorID,
		"context_name": o.ContextName,
		"hardware":     o.Hardware,
	})
	if err != nil {
		return nil, fmt.Errorf("loading telemetry: %w", err)
	}
	logger.Debug("telemetry loaded", "source", o.Telemetry, "tasks", len(snap.Tasks), "events", len(snap.Events))

	engine, err := enrich.NewEngine(enrich.Settings{
		SensorID:        o.SensorID,
		FirmwareVersion: o.AppVersion,
		Hardware:        o.Hardware,
		Location:        o.Location,
		RTOS:            o.RTOS,
		DumpURL:         dumpURL(cfg),
		ArtifactBaseURL: o.ArtifactBaseURL,
		ArtifactsDir:    o.ArtifactsDir,
	}, snap, logger)
	if err != nil {
		return nil, fmt.Errorf("creating enrichment engine: %w", err)
	}

	resolver := attach.NewResolver(attach.Settings{
		ArchiveURL:   o.ArchiveURL,
		Enabled:      o.LocalAttachmentsEnabled(),
		Mode:         attach.Mode(o.AttachmentMode),
		BaseURL:      o.ArtifactBaseURL,
		ArtifactsDir: o.ArtifactsDir,
		Artifacts:    cfg.Artifacts,
	}, snap, logger)

	backend := transport.New(transport.Options{
		APIKey:       o.APIKey,
		AppType:      o.AppType,
		AppVersion:   o.AppVersion,
		ReleaseStage: o.ReleaseStage,
		URL:          cfg.Backend.URL,
		Params:       cfg.Backend.Params,
		Template:     cfg.Backend.Template,
		DryRun:       flags.dryRun,
		OutPath:      flags.outPath,
	}, logger)

	return &pipeline{
		cfg:     cfg,
		backend: backend,
		client:  delivery.New(backend, engine, resolver, logger),
	}, nil
}

// dumpURL is the linked location of the coredump artifact, if any.
func dumpURL(cfg *config.Config) string {
	rel, ok := cfg.Artifacts["coredump"]
	if !ok || cfg.Options.ArtifactBaseURL == "" {
		return ""
	}
	return attach.JoinURL(cfg.Options.ArtifactBaseURL, rel)
}
