package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/osio"
	osios3 "github.com/airbusgeo/osio/s3"
	"github.com/araddon/dateparse"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lpdaac/hls-super/common"
	"github.com/lpdaac/hls-super/interface/catalog/earthdata"
	"github.com/lpdaac/hls-super/interface/provider"
	"github.com/lpdaac/hls-super/processor"
	"github.com/lpdaac/hls-super/raster"
	"github.com/lpdaac/hls-super/service"
	"github.com/lpdaac/hls-super/service/geometry"
	"github.com/lpdaac/hls-super/service/log"
	"github.com/lpdaac/hls-super/timeseries"
)

type config struct {
	ROI          string
	ROIReduction string
	OutputDir    string
	Start        string
	End          string
	Products     string
	Bands        string
	CloudCover   int

	QualityFilter bool
	QualityBits   string
	ApplyScale    bool
	OutputFormat  string
	KeepRasters   bool
	Ancillary     bool

	LinksFile   string
	CookieFile  string
	Concurrency int
	ChunkSize   int
	PageLimit   int
	S3Access    bool
}

func newAppConfig() (*config, error) {
	config := config{}

	// Search
	flag.StringVar(&config.ROI, "roi", "", "region of interest: geojson file or bounding box 'LLLon,LLLat,URLon,URLat'")
	flag.StringVar(&config.ROIReduction, "roi-reduction", "first", "reduction of a multi-feature roi to a single polygon (first, hull)")
	flag.StringVar(&config.Start, "start", "", "start date of the search (default: 6 months ago)")
	flag.StringVar(&config.End, "end", "", "end date of the search (default: today)")
	flag.StringVar(&config.Products, "products", "both", "products to search: HLSS30, HLSL30 or both")
	flag.StringVar(&config.Bands, "bands", "ALL", "comma-separated list of bands (e.g. RED,GREEN,BLUE,NIR1) or ALL")
	flag.IntVar(&config.CloudCover, "cloud-cover", 100, "maximum granule cloud cover in percent")
	flag.IntVar(&config.PageLimit, "page-limit", 0, "maximum number of catalog result pages (0: no limit)")

	// Processing
	flag.StringVar(&config.OutputDir, "dir", "", "output directory")
	flag.BoolVar(&config.QualityFilter, "quality", true, "mask out pixels flagged by the quality band")
	flag.StringVar(&config.QualityBits, "quality-bits", "", "comma-separated quality bits to screen (default: 0,1,2,3,4,5)")
	flag.BoolVar(&config.ApplyScale, "scale", true, "apply the band scale factors")
	flag.StringVar(&config.OutputFormat, "of", "COG", "output format: COG (one file per date and band) or NC4 (one timeseries file per tile)")
	flag.BoolVar(&config.KeepRasters, "keep-rasters", false, "keep the single-date rasters after the timeseries assembly")
	flag.BoolVar(&config.Ancillary, "ancillary", false, "also download the browse images and metadata files")

	// Access
	flag.StringVar(&config.LinksFile, "links-file", "", "file persisting the catalog search results (default: <dir>/hls-super-links.json)")
	flag.StringVar(&config.CookieFile, "cookie-file", "", "Earthdata URS cookie file (default: <dir>/.urs_cookies)")
	flag.IntVar(&config.Concurrency, "concurrency", 4, "number of granules processed concurrently")
	flag.IntVar(&config.ChunkSize, "chunk-size", 512, "raster read window size in pixels")
	flag.BoolVar(&config.S3Access, "s3", false, "access the assets through s3:// instead of https (requires AWS credentials for in-region access)")
	flag.Parse()

	if config.ROI == "" {
		return nil, fmt.Errorf("missing roi config flag")
	}
	if config.OutputDir == "" {
		return nil, fmt.Errorf("missing dir config flag")
	}
	if f := strings.ToUpper(config.OutputFormat); f != "COG" && f != "NC4" {
		return nil, fmt.Errorf("wrong of config flag (expecting COG or NC4): %s", config.OutputFormat)
	}
	if config.ROIReduction != "first" && config.ROIReduction != "hull" {
		return nil, fmt.Errorf("wrong roi-reduction config flag (expecting first or hull): %s", config.ROIReduction)
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(config.OutputDir, 0766); err != nil {
		return fmt.Errorf("make directory %s: %w", config.OutputDir, err)
	}

	godal.RegisterAll()
	if config.S3Access {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("aws.LoadDefaultConfig: %w", err)
		}
		s3h, err := osios3.Handle(ctx, osios3.S3Client(awss3.NewFromConfig(cfg)))
		if err != nil {
			return fmt.Errorf("s3.handle: %w", err)
		}
		s3a, err := osio.NewAdapter(s3h)
		if err != nil {
			return fmt.Errorf("osio.new: %w", err)
		}
		if err := godal.RegisterVSIHandler("s3://", s3a); err != nil {
			return fmt.Errorf("register osio: %w", err)
		}
	}

	// Region of interest
	reduction := geometry.FirstFeature
	if config.ROIReduction == "hull" {
		reduction = geometry.ConvexHull
	}
	roi, note, err := geometry.Load(config.ROI, reduction)
	if err != nil {
		return fmt.Errorf("roi[%s]: %w", config.ROI, err)
	}
	if note != "" {
		log.Logger(ctx).Sugar().Warnf("%s", note)
	}
	if _, err := roi.MaterializeCutline(config.OutputDir); err != nil {
		return fmt.Errorf("roi.%w", err)
	}

	// Bands
	products, err := parseProducts(config.Products)
	if err != nil {
		return err
	}
	bands, err := common.NewBandTable(products, strings.Split(config.Bands, ","))
	if err != nil {
		return err
	}

	// Time range
	start, end, err := timeRange(config.Start, config.End)
	if err != nil {
		return err
	}

	// Search, or reuse the links of a previous run
	linksFile := config.LinksFile
	if linksFile == "" {
		linksFile = filepath.Join(config.OutputDir, "hls-super-links.json")
	}
	links, err := earthdata.ReadLinks(linksFile)
	if err != nil {
		return err
	}
	if links == nil {
		catalog := earthdata.Provider{}
		if links, err = catalog.SearchLinks(ctx, earthdata.Query{
			Products:   products,
			ROI:        roi,
			Start:      start,
			End:        end,
			CloudCover: config.CloudCover,
			PageLimit:  config.PageLimit,
		}); err != nil {
			return err
		}
		if err := earthdata.WriteLinks(linksFile, links); err != nil {
			return err
		}
	} else {
		log.Logger(ctx).Sugar().Infof("reusing the %d link(s) of %s", len(links), linksFile)
	}

	granules, ancillary, malformed := common.GranulesFromLinks(links)
	for _, link := range malformed {
		log.Logger(ctx).Sugar().Warnf("ignoring unrecognized asset link %s", link)
	}
	if len(granules) == 0 {
		log.Logger(ctx).Info("no granule to process")
		return nil
	}
	log.Logger(ctx).Sugar().Infof("processing %d granule(s)", len(granules))

	// Ancillary files
	if config.Ancillary {
		p := &provider.Earthdata{Token: os.Getenv("EARTHDATA_TOKEN")}
		downloadAncillary(ctx, p, ancillary, config.OutputDir)
	}

	// Process granules
	cookieFile := config.CookieFile
	if cookieFile == "" {
		cookieFile = filepath.Join(config.OutputDir, ".urs_cookies")
	}
	qualityBits, err := parseBits(config.QualityBits)
	if err != nil {
		return err
	}
	params := processor.Params{
		ROI:           roi,
		QualityFilter: config.QualityFilter,
		QualityBits:   qualityBits,
		ApplyScale:    config.ApplyScale,
		Bands:         &bands,
		OutputDir:     config.OutputDir,
		Chunking:      raster.Chunking{X: config.ChunkSize, Y: config.ChunkSize},
		Env:           raster.DefaultEnv(cookieFile),
	}
	results := processGranules(ctx, granules, params, config.Concurrency)
	summarize(ctx, results)

	// Timeseries assembly
	if strings.ToUpper(config.OutputFormat) == "NC4" {
		assembled, err := timeseries.Assemble(ctx, timeseries.Params{
			RasterDir:     config.OutputDir,
			RemoveRasters: !config.KeepRasters,
			Env:           params.Env,
		})
		if err != nil {
			return err
		}
		summarize(ctx, assembled)
	}
	return nil
}

// processGranules fans the granules out to a bounded worker group. A granule
// with a temporary failure is retried before being reported.
func processGranules(ctx context.Context, granules []common.Granule, params processor.Params, concurrency int) []common.Result {
	results := make([]common.Result, len(granules))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, granule := range granules {
		i, granule := i, granule
		g.Go(func() error {
			err := service.Retriable(gctx, func() error {
				results[i] = processor.ProcessGranule(gctx, granule, params)
				if results[i].Status == common.StatusRETRY {
					return service.MakeTemporary(fmt.Errorf("%s", results[i].Message))
				}
				return nil
			}, 15*time.Second, 3)
			if err != nil && results[i].Status == common.StatusRETRY {
				results[i].Status = common.StatusFAILED
				results[i].Message += " (after 3 retries)"
			}
			return nil
		})
	}
	g.Wait()
	return results
}

func downloadAncillary(ctx context.Context, p provider.FileProvider, links []string, dir string) {
	for _, link := range links {
		if err := p.DownloadFile(ctx, link, dir); err != nil {
			log.Logger(ctx).Sugar().Warnf("ancillary %s: %v", link, err)
		}
	}
}

func summarize(ctx context.Context, results []common.Result) {
	count := map[common.Status]int{}
	for _, r := range results {
		count[r.Status]++
		if r.Status == common.StatusFAILED || r.Status == common.StatusRETRY {
			log.Logger(ctx).Sugar().Errorf("%s: %s", r.Unit, r.Message)
		}
	}
	log.Logger(ctx).Sugar().Infof("%d done, %d skipped, %d failed",
		count[common.StatusDONE], count[common.StatusSKIPPED], count[common.StatusFAILED]+count[common.StatusRETRY])
}

func parseProducts(s string) ([]common.Product, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BOTH":
		return []common.Product{common.HLSS30, common.HLSL30}, nil
	case string(common.HLSS30), "S30":
		return []common.Product{common.HLSS30}, nil
	case string(common.HLSL30), "L30":
		return []common.Product{common.HLSL30}, nil
	}
	return nil, fmt.Errorf("wrong products config flag (expecting HLSS30, HLSL30 or both): %s", s)
}

func parseBits(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var bits []int
	for _, f := range strings.Split(s, ",") {
		b, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || b < 0 || b > 7 {
			return nil, fmt.Errorf("wrong quality-bits config flag (expecting bits between 0 and 7): %s", s)
		}
		bits = append(bits, b)
	}
	return bits, nil
}

// timeRange parses the search window, defaulting to the last 6 months
func timeRange(start, end string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	startTime, endTime := now.AddDate(0, -6, 0), now
	var err error
	if start != "" {
		if startTime, err = dateparse.ParseAny(start); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("wrong start config flag: %w", err)
		}
	}
	if end != "" {
		if endTime, err = dateparse.ParseAny(end); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("wrong end config flag: %w", err)
		}
	}
	if !startTime.Before(endTime) {
		return time.Time{}, time.Time{}, fmt.Errorf("start date must be before end date")
	}
	return startTime, endTime, nil
}
