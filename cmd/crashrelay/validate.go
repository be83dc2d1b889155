package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sznuper/crashrelay/internal/watch"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config, backend URL and telemetry source",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		p, err := buildPipeline(cmd.Context(), cmd, deliveryFlags{dryRun: true}, logger)
		if err != nil {
			return err
		}
		if err := p.backend.Validate(); err != nil {
			return fmt.Errorf("validating backend: %w", err)
		}
		o := p.cfg.Options
		if o.SmokeSchedule != "" || o.ArtifactsDir != "" {
			dir := o.ArtifactsDir
			if dir == "" {
				dir = "."
			}
			if _, err := watch.New(p.client, watch.Options{Dir: dir, SmokeSchedule: o.SmokeSchedule}, logger, nil); err != nil {
				return fmt.Errorf("validating watch settings: %w", err)
			}
		}

		fmt.Printf("%s config valid\n", okStyle.Render("✓"))
		printField("Backend", redactURL(p.cfg.Backend.URL))
		printField("Context", o.ContextName)
		printField("Telemetry", o.Telemetry)
		printField("Attachments", attachmentSummary(p.cfg))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
