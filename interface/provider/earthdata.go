package provider

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/cavaliercoder/grab"

	"github.com/lpdaac/hls-super/service/log"
)

// Earthdata downloads granule files from the LP DAAC cloud archive,
// authenticated with an Earthdata URS bearer token
type Earthdata struct {
	// Token is the Earthdata URS bearer token (empty for public files)
	Token string
}

// Name implements FileProvider
func (p *Earthdata) Name() string {
	return "earthdata"
}

// DownloadFile implements FileProvider
func (p *Earthdata) DownloadFile(ctx context.Context, fileURL, localDir string) error {
	u, err := url.Parse(fileURL)
	if err != nil {
		return fmt.Errorf("Earthdata.DownloadFile: %w", err)
	}
	name := path.Base(u.Path)
	local := filepath.Join(localDir, name)
	if _, err := os.Stat(local); err == nil {
		log.Logger(ctx).Sugar().Debugf("%s already downloaded, skipping", name)
		return nil
	}

	req, err := grab.NewRequest(local, fileURL)
	if err != nil {
		return fmt.Errorf("Earthdata.DownloadFile.NewRequest: %w", err)
	}
	req = req.WithContext(ctx)
	if p.Token != "" {
		req.HTTPRequest.Header.Add("Authorization", "Bearer "+p.Token)
	}

	if err := download(ctx, req, p.Name()+":"+name, true); err != nil {
		return fmt.Errorf("Earthdata.DownloadFile.%w", err)
	}
	return nil
}
