// Package ui prints run results, libraries, watermarks and authentication
// state to the console, and reports transfer progress.
package ui

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tonimelisma/onedrive-extractor/internal/pipeline"
	"github.com/tonimelisma/onedrive-extractor/internal/watermark"
	"github.com/tonimelisma/onedrive-extractor/pkg/onedrive"
)

// Success prints a simple success message to standard output.
func Success(msg string) {
	fmt.Println(msg)
}

// PrintError prints an error using the standard logger.
func PrintError(err error) {
	log.Printf("ERROR: %v", err)
}

// DisplayRunResult prints the summary of a run.
func DisplayRunResult(result pipeline.Result) {
	fmt.Printf("Run %s\n", result.RunID)
	fmt.Printf("  Listed:     %d\n", result.Listed)
	fmt.Printf("  Matched:    %d\n", result.Matched)
	fmt.Printf("  Stale:      %d\n", result.Stale)
	if result.Superseded > 0 {
		fmt.Printf("  Superseded: %d\n", result.Superseded)
	}
	fmt.Printf("  Downloaded: %d\n", result.Downloaded)
	fmt.Printf("  Failed:     %d\n", result.Failed)

	if len(result.Artifacts) > 0 {
		fmt.Println()
		fmt.Printf("%-40s %12s %s\n", "Source", "Size", "Location")
		fmt.Println(strings.Repeat("-", 90))
		for _, a := range result.Artifacts {
			fmt.Printf("%-40.40s %12s %s\n", a.SourcePath, formatBytes(a.Size), a.Location)
		}
	}

	if len(result.Failures) > 0 {
		fmt.Println()
		fmt.Println("Failed files:")
		for _, f := range result.Failures {
			fmt.Printf("  %s: %v\n", f.Path, f.Err)
		}
	}

	fmt.Println()
	switch {
	case result.Advanced:
		fmt.Printf("Watermark advanced from %s to %s\n", formatTime(result.WatermarkBefore), formatTime(result.WatermarkAfter))
	default:
		fmt.Printf("Watermark unchanged: %s\n", formatTime(result.WatermarkAfter))
	}
}

// DisplaySelected prints the files a dry run would transfer.
func DisplaySelected(result pipeline.Result) {
	if len(result.Selected) == 0 {
		fmt.Printf("No files selected (%d listed, %d matched, %d stale).\n", result.Listed, result.Matched, result.Stale)
		return
	}

	fmt.Printf("%-50s %12s %s\n", "Path", "Size", "Last Modified")
	fmt.Println(strings.Repeat("-", 90))
	for _, f := range result.Selected {
		fmt.Printf("%-50.50s %12s %s\n", f.Path, formatBytes(f.Size), f.LastModified.UTC().Format(time.RFC3339))
	}
	fmt.Printf("\n%d of %d listed files would be downloaded.\n", len(result.Selected), result.Listed)
}

// DisplayLibraries prints the document libraries of a SharePoint site.
func DisplayLibraries(drives []onedrive.Drive) {
	if len(drives) == 0 {
		fmt.Println("No document libraries found for this site.")
		return
	}

	fmt.Printf("%-35s %-20s %s\n", "Library Name", "Drive Type", "Web URL")
	fmt.Println(strings.Repeat("-", 90))
	for _, d := range drives {
		fmt.Printf("%-35.35s %-20s %s\n", d.Name, d.DriveType, d.WebURL)
	}
}

// DisplayWatermark prints the stored watermark of a row.
func DisplayWatermark(key string, state watermark.State, found bool) {
	fmt.Printf("Row:           %s\n", key)
	if !found {
		fmt.Println("Watermark:     none (the next incremental run downloads every matching file)")
		return
	}
	fmt.Printf("Watermark:     %s\n", formatTime(state.LastModified))
	fmt.Printf("Last updated:  %s\n", formatTime(state.UpdatedAt))
}

// DisplayAuthStatus prints whether a token is stored and when it expires.
func DisplayAuthStatus(account onedrive.AccountType, loggedIn bool, expiry time.Time) {
	if !loggedIn {
		fmt.Println("You are not logged in. Please run 'onedrive-extractor auth login'.")
		return
	}
	fmt.Printf("Logged in (%s).\n", account)
	if !expiry.IsZero() {
		fmt.Printf("Access token expires: %s (refreshed automatically)\n", expiry.Local().Format(time.RFC1123))
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "none"
	}
	return t.UTC().Format(time.RFC3339)
}

// formatBytes converts a size in bytes to a human-readable string using IEC
// units (KiB, MiB, GiB, etc.).
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
