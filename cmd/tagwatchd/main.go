// Command tagwatchd supervises acquisition processes and maintains the
// quality of the tags they feed.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/tagwatch/config"
)

var version = "dev"

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "tagwatchd",
		Short: "Heartbeat supervision and tag quality for industrial telemetry",
		Long: `tagwatchd tracks heartbeats of acquisition processes, equipment and
sub-equipment, raises their communication fault and state tags, and marks
the quality of every tag they feed as degraded while they are down.`,
		SilenceUsage: true,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor",
		Args:  cobra.NoArgs,
		RunE:  runDaemon,
	}
	simulateCmd = &cobra.Command{
		Use:   "simulate",
		Short: "Act as the configured acquisition processes over NATS",
		Long: `Sends heartbeats for every configured entity and random values for
every plain tag. Entities named with --silence send one heartbeat and then
go quiet, so the supervisor declares them down.`,
		Args: cobra.NoArgs,
		RunE: runSimulate,
	}
	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE:  runCheck,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"configuration file (default: first of "+fmt.Sprint(config.StandardPaths())+")")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringSliceVar(&silenced, "silence", nil, "entity ids that stop heartbeating after the first one")
	simulateCmd.Flags().DurationVar(&updateEvery, "every", 0, "interval between value updates (default: 1s)")
	simulateCmd.Flags().DurationVar(&simulateFor, "for", 0, "stop after this long (default: until interrupted)")
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	if configPath != "" {
		cfg, err := config.LoadFile(configPath)
		return cfg, configPath, err
	}
	return config.Load()
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entities, %d tags\n", path, len(cfg.Entities), len(cfg.Tags))
	return nil
}
