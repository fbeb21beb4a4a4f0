package earthdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lpdaac/hls-super/common"
	"github.com/lpdaac/hls-super/service"
	"github.com/lpdaac/hls-super/service/geometry"
	"github.com/lpdaac/hls-super/service/log"
)

// SearchEndpoint is the CMR-STAC search endpoint of the LP DAAC cloud catalog
const SearchEndpoint = "https://cmr.earthdata.nasa.gov/stac/LPCLOUD/search"

const pageSize = 100

// Provider searches HLS granules in the CMR-STAC catalog
type Provider struct {
	// Endpoint overrides SearchEndpoint (used by tests)
	Endpoint string
}

// Query is one spatio-temporal search
type Query struct {
	Products []common.Product
	ROI      *geometry.ROI
	Start    time.Time
	End      time.Time
	// CloudCover is the maximum granule cloud cover in percent (100 keeps all)
	CloudCover int
	// PageLimit bounds the number of result pages fetched (0: no bound)
	PageLimit int
}

// SearchGranules searches the catalog and returns the matching granules with
// their asset links, plus the ancillary (browse, metadata) links
func (p *Provider) SearchGranules(ctx context.Context, query Query) ([]common.Granule, []string, error) {
	links, err := p.SearchLinks(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("SearchGranules.%w", err)
	}
	granules, ancillary, malformed := common.GranulesFromLinks(links)
	for _, link := range malformed {
		log.Logger(ctx).Sugar().Warnf("ignoring unrecognized asset link %s", link)
	}
	return granules, ancillary, nil
}

// SearchLinks searches the catalog and returns the raw asset links of every
// matching granule
func (p *Provider) SearchLinks(ctx context.Context, query Query) ([]string, error) {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = SearchEndpoint
	}
	intersects, err := query.ROI.GeoJSON()
	if err != nil {
		return nil, fmt.Errorf("SearchLinks.%w", err)
	}
	collections := make([]string, len(query.Products))
	for i, product := range query.Products {
		collections[i] = fmt.Sprintf("%s.%s", product, common.ProcessingVersion)
	}

	var links []string
	granules, clouded := 0, 0
	for page := 1; query.PageLimit <= 0 || page <= query.PageLimit; page++ {
		log.Logger(ctx).Sugar().Debugf("[earthdata] search page %d", page)
		items, err := p.searchPage(ctx, endpoint, stacRequest{
			Collections: collections,
			Intersects:  intersects,
			Datetime:    fmt.Sprintf("%s/%s", query.Start.UTC().Format(time.RFC3339), query.End.UTC().Format(time.RFC3339)),
			Limit:       pageSize,
			Page:        page,
		})
		if err != nil {
			return nil, fmt.Errorf("SearchLinks.%w", err)
		}
		for _, item := range items {
			if query.CloudCover < 100 && item.Properties.CloudCover > float64(query.CloudCover) {
				clouded++
				continue
			}
			granules++
			for _, asset := range item.Assets {
				links = append(links, asset.Href)
			}
		}
		if len(items) < pageSize {
			break
		}
	}
	log.Logger(ctx).Sugar().Infof("%d granule(s) found, %d discarded for cloud cover", granules, clouded)
	return links, nil
}

type stacRequest struct {
	Collections []string        `json:"collections"`
	Intersects  json.RawMessage `json:"intersects"`
	Datetime    string          `json:"datetime"`
	Limit       int             `json:"limit"`
	Page        int             `json:"page"`
}

type stacItem struct {
	Id         string `json:"id"`
	Properties struct {
		Datetime   string  `json:"datetime"`
		CloudCover float64 `json:"eo:cloud_cover"`
	} `json:"properties"`
	Assets map[string]struct {
		Href string `json:"href"`
	} `json:"assets"`
}

func (p *Provider) searchPage(ctx context.Context, endpoint string, request stacRequest) ([]stacItem, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("searchPage.Marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("searchPage.NewRequest: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	jsonResults, err := service.GetBodyRetryReq(req, 3)
	if err != nil {
		return nil, fmt.Errorf("searchPage.GetBodyRetryReq: %w", err)
	}

	results := struct {
		Features []stacItem `json:"features"`
	}{}
	if err := json.Unmarshal(jsonResults, &results); err != nil {
		return nil, fmt.Errorf("searchPage.Unmarshal: %w (response: %s)", err, jsonResults)
	}
	return results.Features, nil
}
