package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sznuper/crashrelay/internal/fault"
)

var smokeFlags deliveryFlags

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Send a test report to check the backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		p, err := buildPipeline(cmd.Context(), cmd, smokeFlags, logger)
		if err != nil {
			return err
		}

		o := p.client.Deliver(fault.SmokeTest(), p.cfg.Options.ContextName)
		p.backend.Wait()
		printOutcome(o, smokeFlags.dryRun)

		if !o.Sent() {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	addDeliveryFlags(smokeCmd, &smokeFlags)
	rootCmd.AddCommand(smokeCmd)
}
