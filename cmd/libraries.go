package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/onedrive-extractor/internal/app"
	"github.com/tonimelisma/onedrive-extractor/internal/ui"
)

var librariesCmd = &cobra.Command{
	Use:   "libraries",
	Short: "List the document libraries of the configured SharePoint site",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.NewApp(cmd)
		if err != nil {
			return err
		}
		return librariesLogic(a, cmd)
	},
}

func librariesLogic(a *app.App, cmd *cobra.Command) error {
	drives, err := a.Libraries(cmd.Context())
	if err != nil {
		return err
	}
	ui.DisplayLibraries(drives)
	return nil
}

func init() {
	rootCmd.AddCommand(librariesCmd)
}
