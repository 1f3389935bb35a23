// Package cli implements the chatpilot command line interface.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/chatpilot/chatpilot/internal/cli.version=1.2.3"
	version = "0.4.1"
	logo    = "\n" +
		"       _           _         _ _       _\n" +
		"   ___| |__   __ _| |_ _ __ (_) | ___ | |_\n" +
		"  / __| '_ \\ / _` | __| '_ \\| | |/ _ \\| __|\n" +
		" | (__| | | | (_| | |_| |_) | | | (_) | |_\n" +
		"  \\___|_| |_|\\__,_|\\__| .__/|_|_|\\___/ \\__|\n" +
		"                      |_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "chatpilot",
	Short: "chatpilot - per-chat messaging autopilot",
	Long: color.CyanString(logo) +
		"\nA messaging client sidecar that drafts, schedules and sends replies on your behalf.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(autopilotCmd)
	rootCmd.AddCommand(agentsCmd)
}

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}
