package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sznuper/crashrelay/internal/delivery"
	"github.com/sznuper/crashrelay/internal/fault"
)

var (
	runFlags deliveryFlags
	runSmoke bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Simulate the sensor watchdog crash and report it",
	Long: "Raises the simulated garage sensor watchdog fault, delivers the enriched report " +
		"and exits 1, the way the crashed firmware process would. With --smoke a test report " +
		"is sent first. Use --dry-run to skip transmission.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		p, err := buildPipeline(cmd.Context(), cmd, runFlags, logger)
		if err != nil {
			return err
		}

		outcomes, err := simulateCrash(p, runSmoke, logger)
		if err != nil {
			return err
		}
		for _, o := range outcomes {
			printOutcome(o, runFlags.dryRun)
		}

		os.Exit(1)
		return nil
	},
}

// simulateCrash delivers the simulated watchdog fault, preceded by a test
// report when smoke is set, and returns the outcomes in delivery order.
// A failed test report does not stop the crash report.
func simulateCrash(p *pipeline, smoke bool, logger *slog.Logger) ([]delivery.Outcome, error) {
	label := p.cfg.Options.ContextName
	var outcomes []delivery.Outcome

	if smoke {
		o := p.client.Deliver(fault.SmokeTest(), label)
		if !o.Sent() {
			logger.Warn("test report not sent", "stage", o.ErrStage, "error", o.Err)
		}
		outcomes = append(outcomes, o)
	}

	err := fault.Simulate("")
	var f *fault.Fault
	if !errors.As(err, &f) {
		return nil, fmt.Errorf("simulated crash is not a fault: %w", err)
	}
	logger.Error("sensor crashed", "kind", f.Kind, "error", f)

	outcomes = append(outcomes, p.client.Deliver(f, label))
	p.backend.Wait()
	return outcomes, nil
}

func init() {
	addDeliveryFlags(runCmd, &runFlags)
	runCmd.Flags().BoolVar(&runSmoke, "smoke", false, "send a test report before the crash report")
	rootCmd.AddCommand(runCmd)
}
