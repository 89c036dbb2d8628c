// Package commands implements the sagactl CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arkivo/saga/cli/styles"
)

// Version information, set at build time via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// NewRootCommand creates the root sagactl command.
func NewRootCommand() *cobra.Command {
	var noColor bool
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "sagactl",
		Short: "Operate saga executions, locks and recovery",
		Long: styles.Title.Render("sagactl") + "\n" +
			styles.Muted.Render("Operator tooling for the saga orchestration engine.") + "\n\n" +
			"Inspect running executions, list orphans, manage resource locks\n" +
			"and run schema migrations against the PostgreSQL stores.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				styles.DisableColors()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default sagactl.yaml)")

	rootCmd.AddCommand(
		newMigrateCommand(&configPath),
		newListCommand(&configPath),
		newInspectCommand(&configPath),
		newRecoverCommand(&configPath),
		newLocksCommand(&configPath),
		newVersionCommand(),
	)

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.FormatError(err.Error()))
		os.Exit(1)
	}
}
