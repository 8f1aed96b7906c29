package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"github.com/aquasecurity/vuln-match/utils"
)

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

type Config struct {
	Listen         string        `yaml:"listen"`
	Store          string        `yaml:"store"`
	VulnListDir    string        `yaml:"vuln_list_dir"`
	SQLitePath     string        `yaml:"sqlite_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Workers        int           `yaml:"workers"`
}

func Default() Config {
	return Config{
		Listen:         ":8080",
		Store:          StoreFile,
		VulnListDir:    utils.VulnListDir(),
		SQLitePath:     filepath.Join(utils.CacheDir(), "vuln-match.db"),
		RequestTimeout: 10 * time.Second,
		Workers:        runtime.NumCPU(),
	}
}

// Load applies the YAML file at path, if any, and then the environment on top
// of the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, xerrors.Errorf("file open error (%s): %w", path, err)
		}
		defer f.Close()

		if err = yaml.NewDecoder(f).Decode(&c); err != nil {
			return Config{}, xerrors.Errorf("unable to decode YAML (%s): %w", path, err)
		}
	}

	if err := c.loadEnv(); err != nil {
		return Config{}, err
	}
	if err := c.validate(); err != nil {
		return Config{}, xerrors.Errorf("invalid config: %w", err)
	}
	return c, nil
}

func (c *Config) loadEnv() error {
	c.Listen = utils.LookupEnv("VULNMATCH_LISTEN", c.Listen)
	c.Store = utils.LookupEnv("VULNMATCH_STORE", c.Store)
	c.VulnListDir = utils.LookupEnv("VULN_LIST_DIR", c.VulnListDir)
	c.SQLitePath = utils.LookupEnv("VULNMATCH_SQLITE_PATH", c.SQLitePath)

	if s, ok := os.LookupEnv("VULNMATCH_REQUEST_TIMEOUT"); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return xerrors.Errorf("invalid VULNMATCH_REQUEST_TIMEOUT: %w", err)
		}
		c.RequestTimeout = d
	}
	if s, ok := os.LookupEnv("VULNMATCH_WORKERS"); ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return xerrors.Errorf("invalid VULNMATCH_WORKERS: %w", err)
		}
		c.Workers = n
	}
	return nil
}

func (c Config) validate() error {
	switch c.Store {
	case StoreFile, StoreSQLite:
	default:
		return xerrors.Errorf("unknown store: %s", c.Store)
	}
	if c.RequestTimeout <= 0 {
		return xerrors.Errorf("request timeout must be positive: %s", c.RequestTimeout)
	}
	if c.Workers <= 0 {
		return xerrors.Errorf("workers must be positive: %d", c.Workers)
	}
	return nil
}

func (c Config) NVDDir() string {
	return filepath.Join(c.VulnListDir, "nvd")
}

func (c Config) KEVCDir() string {
	return filepath.Join(c.VulnListDir, "kevc")
}
