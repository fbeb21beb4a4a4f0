package common

import (
	"sort"
	"strings"
)

// Granule is one observation instance (one tile, one acquisition time) and the
// raster assets belonging to it. It is materialized once from a catalog search
// result or a persisted link list and consumed exactly once by the processor.
type Granule struct {
	// Key is the <tile>.<timestamp> identifier
	Key string
	// Assets are the per-band raster asset references (URL or path)
	Assets []string
}

// IsAncillary returns whether a link is a non-raster companion file
// (browse image or metadata) downloaded as-is
func IsAncillary(link string) bool {
	return strings.HasSuffix(link, ".jpg") || strings.HasSuffix(link, ".jpeg") || strings.HasSuffix(link, ".xml")
}

// GranulesFromLinks groups a flat list of asset links into granules by
// tile+timestamp key. Browse/metadata links are returned separately as
// ancillary files; links that do not parse as HLS assets are returned as the
// third value for the caller to report.
func GranulesFromLinks(links []string) ([]Granule, []string, []string) {
	var ancillary, malformed []string
	byKey := map[string]*Granule{}
	var keys []string
	for _, link := range links {
		if link = strings.TrimSpace(link); link == "" {
			continue
		}
		if IsAncillary(link) {
			ancillary = append(ancillary, link)
			continue
		}
		info, err := ParseAssetRef(link)
		if err != nil {
			malformed = append(malformed, link)
			continue
		}
		key := info.GranuleKey()
		g, ok := byKey[key]
		if !ok {
			g = &Granule{Key: key}
			byKey[key] = g
			keys = append(keys, key)
		}
		g.Assets = append(g.Assets, link)
	}

	sort.Strings(keys)
	granules := make([]Granule, 0, len(keys))
	for _, key := range keys {
		granules = append(granules, *byKey[key])
	}
	return granules, ancillary, malformed
}
