package provider

import (
	"context"
)

// FileProvider is the interface of a granule file download service
type FileProvider interface {
	// DownloadFile downloads url into localDir, keeping the remote file name.
	// A file already present in localDir is not downloaded again.
	DownloadFile(ctx context.Context, url, localDir string) error

	// Name of the provider
	Name() string
}
