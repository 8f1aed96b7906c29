package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-match/api"
	"github.com/aquasecurity/vuln-match/config"
	"github.com/aquasecurity/vuln-match/kevc"
	"github.com/aquasecurity/vuln-match/nvd"
	"github.com/aquasecurity/vuln-match/store"
	"github.com/aquasecurity/vuln-match/store/filestore"
	"github.com/aquasecurity/vuln-match/store/sqlstore"
	"github.com/aquasecurity/vuln-match/utils"
)

const indexBatchSize = 500

var (
	target     = flag.String("target", "", "target (nvd, kevc, index, serve)")
	configFile = flag.String("config", "", "path to a YAML config file")
	years      = flag.String("years", "", "comma-separated feed years (only nvd)")
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return xerrors.Errorf("config error: %w", err)
	}
	utils.SetVulnListDir(cfg.VulnListDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	now := time.Now().UTC()
	switch *target {
	case "nvd":
		yearList := nvd.Years(now.Year())
		if *years != "" {
			if yearList, err = parseYears(*years); err != nil {
				return err
			}
		}
		if err := nvd.NewUpdater(nvd.WithDir(cfg.NVDDir()), nvd.WithYears(yearList...)).Update(ctx); err != nil {
			return xerrors.Errorf("error in NVD update: %w", err)
		}
	case "kevc":
		kc := kevc.NewConfig(kevc.WithDir(cfg.KEVCDir()))
		if err := kc.Update(); err != nil {
			return xerrors.Errorf("error in KEVC update: %w", err)
		}
	case "index":
		if err := index(ctx, cfg); err != nil {
			return xerrors.Errorf("error in index: %w", err)
		}
	case "serve":
		return serve(ctx, cfg)
	default:
		return xerrors.New("unknown target")
	}

	if err := utils.SetLastUpdatedDate(*target, now); err != nil {
		return err
	}
	return nil
}

func parseYears(s string) ([]int, error) {
	var yearList []int
	for _, y := range strings.Split(s, ",") {
		yearInt, err := strconv.Atoi(strings.TrimSpace(y))
		if err != nil {
			return nil, xerrors.Errorf("invalid years: %w", err)
		}
		yearList = append(yearList, yearInt)
	}
	return yearList, nil
}

// index copies the file tree into SQLite.
func index(ctx context.Context, cfg config.Config) error {
	lastUpdated, err := utils.GetLastUpdatedDate("nvd")
	if err != nil {
		return err
	}
	log.Printf("Indexing NVD records last updated at %s", lastUpdated.Format(time.RFC3339))

	items, err := filestore.New(cfg.NVDDir()).All(ctx)
	if err != nil {
		return xerrors.Errorf("unable to load records: %w", err)
	}

	db, err := sqlstore.Open(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	bar := pb.StartNew(len(items))
	defer bar.Finish()
	for _, batch := range lo.Chunk(items, indexBatchSize) {
		if err = db.Put(ctx, batch...); err != nil {
			return xerrors.Errorf("unable to index records: %w", err)
		}
		bar.Add(len(batch))
	}
	log.Printf("Indexed %d records into %s", len(items), cfg.SQLitePath)
	return nil
}

func serve(ctx context.Context, cfg config.Config) error {
	var storage store.Storage
	switch cfg.Store {
	case config.StoreSQLite:
		db, err := sqlstore.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		storage = db
	default:
		storage = filestore.New(cfg.NVDDir())
	}
	defer storage.Close()

	catalog, err := kevc.Load(afero.NewOsFs(), cfg.KEVCDir())
	if err != nil {
		return xerrors.Errorf("unable to load KEVC: %w", err)
	}
	log.Printf("Loaded %d known exploited vulnerabilities", catalog.Len())

	s := api.NewServer(storage,
		api.WithTimeout(cfg.RequestTimeout),
		api.WithWorkers(cfg.Workers),
		api.WithCatalog(catalog),
	)
	return s.ListenAndServe(ctx, cfg.Listen)
}
