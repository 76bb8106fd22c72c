// Package cmd defines the onedrive-extractor command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "onedrive-extractor",
	Short: "Download files from OneDrive and SharePoint into a destination store",
	Long: `onedrive-extractor downloads files from a personal OneDrive, OneDrive for
Business or a SharePoint document library. Files are selected with a wildcard
path mask such as "db_exports/report_*.xlsx" and written to a local directory
or an S3 compatible bucket with a custom tag and a retention flag.

With new_files_only enabled only files modified after the newest file of the
previous successful run are downloaded.

Typical usage:
  onedrive-extractor validate
  onedrive-extractor auth login
  onedrive-extractor run`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Configuration file (.json, .yaml or .yml); defaults to $ONEDRIVE_EXTRACTOR_CONFIG or the user config directory")
}
