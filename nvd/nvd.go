package nvd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-match/utils"
)

const (
	baseURL   = "https://nvd.nist.gov/feeds/json/cve/1.1"
	feedFile  = "nvdcve-1.1-%d.json.gz"
	nvdDir    = "nvd"
	firstYear = 2002
)

type options struct {
	baseURL string
	dir     string
	years   []int
	appFs   afero.Fs
}

type option func(*options)

func WithBaseURL(url string) option {
	return func(opts *options) {
		opts.baseURL = url
	}
}

func WithDir(dir string) option {
	return func(opts *options) {
		opts.dir = dir
	}
}

func WithYears(years ...int) option {
	return func(opts *options) {
		opts.years = years
	}
}

func WithFs(fs afero.Fs) option {
	return func(opts *options) {
		opts.appFs = fs
	}
}

type Updater struct {
	*options
}

func NewUpdater(opts ...option) Updater {
	o := &options{
		baseURL: baseURL,
		dir:     filepath.Join(utils.VulnListDir(), nvdDir),
		years:   Years(time.Now().Year()),
		appFs:   afero.NewOsFs(),
	}

	for _, opt := range opts {
		opt(o)
	}
	return Updater{
		options: o,
	}
}

// Years returns every feed year from 2002 up to and including lastYear.
func Years(lastYear int) []int {
	var years []int
	for y := firstYear; y <= lastYear; y++ {
		years = append(years, y)
	}
	return years
}

func (u Updater) Update(ctx context.Context) error {
	for _, year := range u.years {
		log.Printf("Fetching NVD feed for %d", year)
		saved, skipped, err := u.updateYear(ctx, year)
		if err != nil {
			return xerrors.Errorf("unable to update NVD %d: %w", year, err)
		}
		log.Printf("NVD %d: saved %d CVEs, skipped %d reserved CVEs", year, saved, skipped)
	}
	return nil
}

func (u Updater) updateYear(ctx context.Context, year int) (int, int, error) {
	url := fmt.Sprintf("%s/%s", u.baseURL, fmt.Sprintf(feedFile, year))

	// go-getter decompresses .gz sources
	filePath, err := utils.DownloadToTempFile(ctx, url)
	if err != nil {
		return 0, 0, xerrors.Errorf("failed to download %s: %w", url, err)
	}
	defer os.Remove(filePath)

	feed, err := decodeFeed(filePath)
	if err != nil {
		return 0, 0, err
	}

	return u.save(feed.Items)
}

func decodeFeed(filePath string) (Feed, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return Feed{}, xerrors.Errorf("file open error (%s): %w", filePath, err)
	}
	defer f.Close()

	var feed Feed
	if err = json.NewDecoder(f).Decode(&feed); err != nil {
		return Feed{}, xerrors.Errorf("unable to decode NVD feed: %w", err)
	}
	return feed, nil
}

func (u Updater) save(items []Item) (saved, skipped int, err error) {
	fs := utils.NewFs(u.appFs)
	bar := pb.StartNew(len(items))
	defer bar.Finish()

	for _, item := range items {
		bar.Increment()
		if !item.IsComplete() {
			skipped++
			continue
		}

		year := item.Year()
		if year == "" {
			log.Printf("invalid CVE-ID format: %s", item.ID())
			skipped++
			continue
		}

		dir := filepath.Join(u.dir, year)
		if err = fs.WriteJSON(dir, fmt.Sprintf("%s.json", item.ID()), item); err != nil {
			return saved, skipped, xerrors.Errorf("unable to write %s: %w", item.ID(), err)
		}
		saved++
	}
	return saved, skipped, nil
}
