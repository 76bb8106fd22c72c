package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/onedrive-extractor/internal/app"
	"github.com/tonimelisma/onedrive-extractor/internal/pipeline"
	"github.com/tonimelisma/onedrive-extractor/internal/ui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Download the files selected by the configuration",
	Long: `Lists the configured drive, selects files matching settings.file_path,
skips files not newer than the stored watermark when settings.new_files_only is
set, and writes the rest to the destination. The watermark advances only when
every selected file was stored.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.NewApp(cmd)
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		noProgress, _ := cmd.Flags().GetBool("no-progress")
		return runLogic(a, cmd, dryRun, !noProgress)
	},
}

func runLogic(a *app.App, cmd *cobra.Command, dryRun, progress bool) error {
	opts := app.RunOptions{DryRun: dryRun}
	if progress && !dryRun {
		opts.Progress = ui.NewTransferProgress(os.Stderr)
	}

	result, err := a.Run(cmd.Context(), opts)
	if dryRun {
		if err != nil {
			return err
		}
		ui.DisplaySelected(result)
		return nil
	}

	if result.RunID != "" {
		ui.DisplayRunResult(result)
	}
	if err != nil {
		if errors.Is(err, pipeline.ErrPartialRun) {
			return fmt.Errorf("%d file(s) failed, watermark not advanced", result.Failed)
		}
		return err
	}
	return nil
}

func init() {
	runCmd.Flags().Bool("dry-run", false, "List the files that would be downloaded without downloading them")
	runCmd.Flags().Bool("no-progress", false, "Do not show a progress bar")
	rootCmd.AddCommand(runCmd)
}
