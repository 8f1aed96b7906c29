package kevc

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-match/utils"
)

const (
	kevcURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"
	retry   = 5
	kevcDir = "kevc"
)

type options struct {
	url   string
	dir   string
	retry int
	appFs afero.Fs
}

type option func(*options)

func WithURL(url string) option {
	return func(opts *options) { opts.url = url }
}

func WithDir(dir string) option {
	return func(opts *options) { opts.dir = dir }
}

func WithRetry(retry int) option {
	return func(opts *options) { opts.retry = retry }
}

func WithFs(fs afero.Fs) option {
	return func(opts *options) { opts.appFs = fs }
}

// Config updates the CISA Known Exploited Vulnerabilities Catalog.
type Config struct {
	*options
}

func NewConfig(opts ...option) Config {
	o := &options{
		url:   kevcURL,
		dir:   DefaultDir(),
		retry: retry,
		appFs: afero.NewOsFs(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return Config{
		options: o,
	}
}

func DefaultDir() string {
	return filepath.Join(utils.VulnListDir(), kevcDir)
}

func (c Config) Update() error {
	log.Print("Fetching Known Exploited Vulnerabilities Catalog")

	res, err := utils.FetchURL(c.url, "", c.retry)
	if err != nil {
		return xerrors.Errorf("failed to fetch KEVC: %w", err)
	}
	kevc := KEVC{}
	if err = json.Unmarshal(res, &kevc); err != nil {
		return xerrors.Errorf("failed to KEVC json unmarshal error: %w", err)
	}
	if kevc.Count != len(kevc.Vulnerabilities) {
		return xerrors.Errorf("failed to Vulnerabilities count error: kevc.Count %d, kevc.Vulnerability length %d", kevc.Count, len(kevc.Vulnerabilities))
	}
	if err = c.update(kevc); err != nil {
		return xerrors.Errorf("failed to update KEVC: %w", err)
	}

	return nil
}

func (c Config) update(kevc KEVC) error {
	fs := utils.NewFs(c.appFs)
	bar := pb.StartNew(kevc.Count)
	defer bar.Finish()

	for _, vuln := range kevc.Vulnerabilities {
		bar.Increment()
		year, ok := cveYear(vuln.CveID)
		if !ok {
			log.Printf("invalid CVE-ID format: %s", vuln.CveID)
			continue
		}
		if err := fs.WriteJSON(filepath.Join(c.dir, year), fmt.Sprintf("%s.json", vuln.CveID), vuln); err != nil {
			return xerrors.Errorf("unable to write a JSON file: %w", err)
		}
	}
	return nil
}

func cveYear(id string) (string, bool) {
	if !strings.HasPrefix(id, "CVE") {
		return "", false
	}
	s := strings.Split(id, "-")
	if len(s) != 3 {
		return "", false
	}
	return s[1], true
}

// Catalog is a read-only index of known exploited vulnerabilities by CVE ID.
type Catalog struct {
	entries map[string]Vulnerability
}

// Load reads a catalog previously written by Update. A missing directory
// yields an empty catalog.
func Load(appFs afero.Fs, dir string) (Catalog, error) {
	c := Catalog{entries: map[string]Vulnerability{}}
	if ok, err := afero.DirExists(appFs, dir); err != nil {
		return Catalog{}, xerrors.Errorf("unable to stat %s: %w", dir, err)
	} else if !ok {
		return c, nil
	}

	fs := utils.NewFs(appFs)
	err := afero.Walk(appFs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return xerrors.Errorf("file walk error: %w", err)
		}
		if info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		var vuln Vulnerability
		if err = fs.ReadJSON(path, &vuln); err != nil {
			return err
		}
		c.entries[vuln.CveID] = vuln
		return nil
	})
	if err != nil {
		return Catalog{}, xerrors.Errorf("unable to load KEVC: %w", err)
	}
	return c, nil
}

func (c Catalog) Lookup(cveID string) (Vulnerability, bool) {
	v, ok := c.entries[cveID]
	return v, ok
}

func (c Catalog) Len() int {
	return len(c.entries)
}
