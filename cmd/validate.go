package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/onedrive-extractor/internal/app"
	"github.com/tonimelisma/onedrive-extractor/internal/config"
	"github.com/tonimelisma/onedrive-extractor/internal/mask"
	"github.com/tonimelisma/onedrive-extractor/internal/ui"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without contacting Microsoft",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := app.LoadConfig(cmd)
		if err != nil {
			return err
		}
		return validateLogic(cfg)
	},
}

func validateLogic(cfg *config.Configuration) error {
	m := mask.Compile(cfg.Settings.FilePath)
	fmt.Printf("Configuration: %s\n", cfg.Path())
	fmt.Printf("Account:       %s\n", cfg.Account.AccountType)
	fmt.Printf("Mask:          %s (listing starts at %q)\n", m.String(), m.Root())
	fmt.Printf("Destination:   %s\n", cfg.Destination.Type)
	fmt.Printf("Row key:       %s\n", cfg.RowKey())
	ui.Success("Configuration is valid.")
	return nil
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
