package app

import (
	"context"
	"io"

	"github.com/tonimelisma/onedrive-extractor/internal/storage"
	"github.com/tonimelisma/onedrive-extractor/pkg/onedrive"
)

// SDK defines the Graph operations the commands use. This allows for
// mocking in tests.
type SDK interface {
	ResolveDrive(ctx context.Context, target onedrive.DriveTarget) (onedrive.DriveRef, error)
	ListFiles(ctx context.Context, drive onedrive.DriveRef, root string, descend func(dir string) bool) ([]onedrive.RemoteFile, error)
	Download(ctx context.Context, file onedrive.RemoteFile) (io.ReadCloser, error)
	GetDocumentLibraries(ctx context.Context, siteURL string) ([]onedrive.Drive, error)
}

var _ SDK = (*onedrive.Client)(nil)

// driveSource binds the SDK to one resolved drive for the pipeline.
type driveSource struct {
	sdk   SDK
	drive onedrive.DriveRef
}

func (s driveSource) ListFiles(ctx context.Context, root string, descend func(dir string) bool) ([]onedrive.RemoteFile, error) {
	return s.sdk.ListFiles(ctx, s.drive, root, descend)
}

func (s driveSource) Download(ctx context.Context, file onedrive.RemoteFile) (io.ReadCloser, error) {
	return s.sdk.Download(ctx, file)
}

// discardWriter is used for dry runs, which never write.
type discardWriter struct{}

func (discardWriter) Write(_ context.Context, obj storage.Object, _ storage.Options) (storage.Artifact, error) {
	n, err := io.Copy(io.Discard, obj.Body)
	return storage.Artifact{Name: obj.Name, SourcePath: obj.Path, Size: n}, err
}
