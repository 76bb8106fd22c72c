package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/onedrive-extractor/internal/app"
	"github.com/tonimelisma/onedrive-extractor/internal/config"
	"github.com/tonimelisma/onedrive-extractor/internal/logger"
	"github.com/tonimelisma/onedrive-extractor/internal/ui"
)

var watermarkCmd = &cobra.Command{
	Use:   "watermark",
	Short: "Inspect or reset the incremental download watermark",
}

var watermarkShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored watermark of the configured row",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := app.LoadConfig(cmd)
		if err != nil {
			return err
		}
		return watermarkShowLogic(cmd, cfg)
	},
}

var watermarkResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the watermark so the next run downloads every matching file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.LoadConfig(cmd)
		if err != nil {
			return err
		}
		return watermarkResetLogic(cmd, cfg, log)
	},
}

func watermarkShowLogic(cmd *cobra.Command, cfg *config.Configuration) error {
	state, found, err := app.Watermark(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	ui.DisplayWatermark(cfg.RowKey(), state, found)
	return nil
}

func watermarkResetLogic(cmd *cobra.Command, cfg *config.Configuration, log logger.Logger) error {
	if err := app.ResetWatermark(cmd.Context(), cfg, log); err != nil {
		return err
	}
	ui.Success("Watermark reset.")
	return nil
}

func init() {
	watermarkCmd.AddCommand(watermarkShowCmd)
	watermarkCmd.AddCommand(watermarkResetCmd)
	rootCmd.AddCommand(watermarkCmd)
}
