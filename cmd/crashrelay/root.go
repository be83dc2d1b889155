package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "crashrelay",
	Short: "Crash report relay for embedded sensor nodes",
	Long: "crashrelay turns sensor faults into enriched crash reports and delivers each one " +
		"exactly once through a Shoutrrr service. Configuration is YAML plus environment variables.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	registerOptionFlags(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
