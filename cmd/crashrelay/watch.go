package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sznuper/crashrelay/internal/delivery"
	"github.com/sznuper/crashrelay/internal/watch"
)

var (
	watchFlags  deliveryFlags
	watchSettle time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Report new core dumps in artifacts_dir until interrupted",
	Long: "Watches artifacts_dir for new *.core and *.dump files and reports each one as a " +
		"CORE_DUMP_DETECTED fault. When smoke_schedule is set, test reports are sent on that schedule.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		p, err := buildPipeline(ctx, cmd, watchFlags, logger)
		if err != nil {
			return err
		}
		o := p.cfg.Options
		if o.ArtifactsDir == "" {
			return fmt.Errorf("watch needs options.artifacts_dir")
		}

		w, err := watch.New(p.client, watch.Options{
			Dir:           o.ArtifactsDir,
			Label:         o.ContextName,
			SensorID:      o.SensorID,
			SmokeSchedule: o.SmokeSchedule,
			Settle:        watchSettle,
		}, logger, func(out delivery.Outcome) {
			printOutcome(out, watchFlags.dryRun)
		})
		if err != nil {
			return err
		}

		err = w.Run(ctx)
		p.backend.Wait()
		return err
	},
}

func init() {
	addDeliveryFlags(watchCmd, &watchFlags)
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 0, "quiet period before a new dump is reported (default 500ms)")
	rootCmd.AddCommand(watchCmd)
}
