// Package cmd implements the spechawk command-line interface: the root
// command and the harvest, frontier, intel, httpd, and scheduler
// subcommands.
package cmd

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/spechawk/cmd/frontier"
	"github.com/jonesrussell/spechawk/cmd/harvest"
	"github.com/jonesrussell/spechawk/cmd/httpd"
	"github.com/jonesrussell/spechawk/cmd/intel"
	"github.com/jonesrussell/spechawk/cmd/scheduler"
)

// version is stamped by the build.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "spechawk",
	Short: "A product spec harvester",
	Long: `spechawk harvests structured product specifications from the open web:
it plans searches, fetches pages politely, extracts candidate values,
gates them on product identity, and merges them by weighted consensus
until each product's spec converges.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	_ = godotenv.Load()
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("spechawk version %s\n", version)
		},
	})

	rootCmd.AddCommand(harvest.Command())
	rootCmd.AddCommand(frontier.Command())
	rootCmd.AddCommand(intel.Command())
	rootCmd.AddCommand(httpd.Command())
	rootCmd.AddCommand(scheduler.Command())
}
