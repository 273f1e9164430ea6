// Package cmd implements the walink command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/walink/internal/config"
)

// Set at build time with -ldflags "-X github.com/nextlevelbuilder/walink/cmd.Version=...".
var Version = "dev"

var (
	cfgFile   string
	sessionID string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "walink",
	Short: "walink - WhatsApp automation through a backend bridge",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := config.LoadDotEnv(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", err)
		}
		// Logging needs the config, but a broken config must still be
		// reportable, so fall back to defaults here.
		level, format := "info", "text"
		if cfg, err := config.Load(resolveConfigPath()); err == nil {
			level, format = cfg.Logging.Level, cfg.Logging.Format
		}
		if verbose {
			level = "debug"
		}
		setupLogging(level, format)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $WALINK_CONFIG or ~/.walink/config.json5)")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session-id", "", "session id (default from config, else generated)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		sendCmd(),
		statusCmd(),
		groupsCmd(),
		createGroupCmd(),
		interactiveMessageCmd(),
		callCmd(),
		pairCmd(),
		setProfileCmd(),
		interactiveCmd(),
		sessionsCmd(),
		configCmd(),
		versionCmd(),
	)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	return config.ResolvePath(cfgFile)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the walink version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("walink %s\n", Version)
		},
	}
}
