package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	flagConfig string
	flagEnv    string
)

var rootCmd = &cobra.Command{
	Use:   "marketsync",
	Short: "Market dashboard data-sync service",
	Long:  "marketsync polls quote, news, sector and content upstreams, caches and repairs their results and serves them to the dashboard together with an AI market assistant.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(flagEnv); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", flagEnv, err)
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "configs/config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&flagEnv, "env", ".env", "path to .env file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "marketsync %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}
