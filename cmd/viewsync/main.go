package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"viewsync/internal/config"
	"viewsync/internal/logging"
)

var (
	version = "0.3.0"

	// Global flags
	cfgPath  string
	verbose  bool
	jsonLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "viewsync",
	Short: "viewsync - multi-view state synchronization and consistency engine",
	Long: `viewsync keeps the pipeline views (discover, research, qualify,
outreach, report) synchronized through declarative flow mappings and
continuously validates them for drift, staleness, and referential breakage.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if jsonLogs {
			cfg.Logging.JSONFormat = true
		}
		return logging.Initialize(cfg.Logging)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("viewsync %s\n", version)
	},
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and validate the configuration, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		fmt.Printf("configuration valid: %d flow mappings, tick %v, validation every %v\n",
			len(cfg.FlowMappings()), cfg.EngineConfig().TickInterval, cfg.GetValidationInterval())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
