// Package app provides the entry point for the jitaccess command-line
// application.
package app

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:               "jitaccess",
	DisableAutoGenTag: true,
	Short:             "Just-in-time privileged access activation service",
	Long: `jitaccess lets eligible users activate time-bounded IAM privileges on
demand, with self-approval or multi-party approval, instead of holding
standing access.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
