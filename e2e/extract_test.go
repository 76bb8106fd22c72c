//go:build e2e

package e2e

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tonimelisma/onedrive-extractor/internal/app"
	"github.com/tonimelisma/onedrive-extractor/internal/storage"
)

func TestResolveDrive(t *testing.T) {
	helper := NewE2ETestHelper(t)
	helper.LogTestInfo(t)

	drive, err := helper.App.SDK.ResolveDrive(helper.Context(t), helper.App.Config.DriveTarget())
	if err != nil {
		t.Fatalf("Failed to resolve drive: %v", err)
	}
	if drive.ID() == "" {
		t.Error("Expected a drive ID")
	}
	t.Logf("Resolved drive %q (%s)", drive.Drive.Name, drive.ID())
}

func TestExtractIncremental(t *testing.T) {
	helper := NewE2ETestHelper(t)
	helper.LogTestInfo(t)

	preview, err := helper.App.Run(helper.Context(t), app.RunOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Dry run failed: %v", err)
	}
	t.Logf("Listed %d, matched %d, selected %d", preview.Listed, preview.Matched, len(preview.Selected))
	if _, err := os.Stat(helper.OutDir); !os.IsNotExist(err) {
		t.Fatalf("Dry run must not create %s", helper.OutDir)
	}
	if len(preview.Selected) == 0 {
		t.Skip("The mask selects no files; set ONEDRIVE_EXTRACTOR_E2E_FILE_PATH")
	}
	if len(preview.Selected) > helper.Config.MaxFiles {
		t.Skipf("The mask selects %d files, more than ONEDRIVE_EXTRACTOR_E2E_MAX_FILES=%d", len(preview.Selected), helper.Config.MaxFiles)
	}

	first, err := helper.App.Run(helper.Context(t), app.RunOptions{})
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if first.Downloaded+first.Superseded != len(preview.Selected) {
		t.Errorf("Expected %d files handled, got %d downloaded and %d superseded", len(preview.Selected), first.Downloaded, first.Superseded)
	}
	if !first.Advanced {
		t.Error("Expected the watermark to advance")
	}
	for _, a := range first.Artifacts {
		info, err := os.Stat(filepath.Join(helper.OutDir, a.Name))
		if err != nil {
			t.Errorf("Missing %s: %v", a.Name, err)
			continue
		}
		if info.Size() != a.Size {
			t.Errorf("%s: size %d, artifact says %d", a.Name, info.Size(), a.Size)
		}
		manifest, err := storage.ReadManifest(filepath.Join(helper.OutDir, a.Name))
		if err != nil {
			t.Errorf("Missing manifest for %s: %v", a.Name, err)
			continue
		}
		if manifest.Tags[storage.TagCustom] != "e2e" {
			t.Errorf("%s: custom tag %q", a.Name, manifest.Tags[storage.TagCustom])
		}
	}

	second, err := helper.App.Run(helper.Context(t), app.RunOptions{})
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if second.Downloaded != 0 {
		t.Errorf("Expected no new files on the second run, got %d", second.Downloaded)
	}
	if !second.WatermarkAfter.Equal(first.WatermarkAfter) {
		t.Errorf("Watermark moved from %s to %s without new files", first.WatermarkAfter, second.WatermarkAfter)
	}
}
