package raster

import (
	"fmt"
	"strings"
)

// Env is the immutable I/O configuration applied to every raster access. It
// replaces process-wide GDAL configuration so that concurrent granule
// processings share nothing but read-only values.
type Env struct {
	// CookieFile holds the Earthdata URS session cookies (cookie file and jar)
	CookieFile string
	// MaxRetry is the number of HTTP retries performed by the raster driver
	MaxRetry int
	// RetryDelay is the initial HTTP retry delay, in seconds
	RetryDelay float64
	// AllowedExtensions restricts remote directory probing (default "TIF")
	AllowedExtensions string
}

// DefaultEnv is the recommended configuration for LP DAAC cloud assets
func DefaultEnv(cookieFile string) Env {
	return Env{
		CookieFile:        cookieFile,
		MaxRetry:          10,
		RetryDelay:        0.5,
		AllowedExtensions: "TIF",
	}
}

func (e Env) configOptions() []string {
	opts := []string{"GDAL_DISABLE_READDIR_ON_OPEN=EMPTY_DIR"}
	if e.CookieFile != "" {
		opts = append(opts,
			"GDAL_HTTP_COOKIEFILE="+e.CookieFile,
			"GDAL_HTTP_COOKIEJAR="+e.CookieFile)
	}
	if e.MaxRetry > 0 {
		opts = append(opts, fmt.Sprintf("GDAL_HTTP_MAX_RETRY=%d", e.MaxRetry))
	}
	if e.RetryDelay > 0 {
		opts = append(opts, fmt.Sprintf("GDAL_HTTP_RETRY_DELAY=%g", e.RetryDelay))
	}
	if e.AllowedExtensions != "" {
		opts = append(opts, "CPL_VSIL_CURL_ALLOWED_EXTENSIONS="+e.AllowedExtensions)
	}
	return opts
}

// vsiPath maps remote references to GDAL virtual filesystem paths
func vsiPath(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return "/vsicurl/" + ref
	}
	return ref
}
