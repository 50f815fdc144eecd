package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Rrens/secassist/internal/config"
	"github.com/Rrens/secassist/internal/logging"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

type globalFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "assistctl",
		Short:         "Security assistant control tool",
		Long:          "assistctl manages provider keys, client tokens and chat sessions of the security assistant.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to config file (default $CONFIG_PATH or ./configs/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log debug output to stderr")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newTokenCmd(flags))
	cmd.AddCommand(newKeysCmd(flags))
	cmd.AddCommand(newSessionsCmd(flags))
	cmd.AddCommand(newAskCmd(flags))
	cmd.AddCommand(newFixCmd(flags))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "assistctl %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// loadConfig reads .env and the config file, and quiets logging for CLI use
func loadConfig(flags *globalFlags) (*config.Config, error) {
	_ = godotenv.Load()
	if flags.configPath != "" {
		os.Setenv("CONFIG_PATH", flags.configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := "warn"
	if flags.verbose {
		level = "debug"
	}
	if _, err := logging.Setup(config.LoggingConfig{Level: level, Format: "console"}); err != nil {
		return nil, err
	}
	return cfg, nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
