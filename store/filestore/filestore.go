package filestore

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-match/cpe"
	"github.com/aquasecurity/vuln-match/nvd"
	"github.com/aquasecurity/vuln-match/store"
	"github.com/aquasecurity/vuln-match/utils"
)

type options struct {
	appFs afero.Fs
}

type option func(*options)

func WithFs(fs afero.Fs) option {
	return func(opts *options) {
		opts.appFs = fs
	}
}

// Store serves the records written by nvd.Updater, i.e. {dir}/{year}/{id}.json.
// The tree is read on first use. A failed read is retried by the next call.
type Store struct {
	dir string
	fs  utils.Fs

	mu       sync.Mutex
	loaded   bool
	parseErr error

	// immutable once loaded
	items     []nvd.Item
	byID      map[string]int
	byProduct map[string][]int
	products  []cpe.Product
}

var _ store.Storage = (*Store)(nil)

func New(dir string, opts ...option) *Store {
	o := &options{
		appFs: afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Store{
		dir: dir,
		fs:  utils.NewFs(o.appFs),
	}
}

func (s *Store) load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}

	items, errs, err := s.walk()
	if err != nil {
		return err
	}
	s.index(items)
	s.loaded = true

	if errs.ErrorOrNil() != nil {
		s.parseErr = xerrors.Errorf("unable to parse CVE records: %w", errs)
		log.Printf("Skipped broken CVE records in %s: %s", s.dir, s.parseErr)
	}
	log.Printf("Loaded %d CVE records and %d products from %s", len(s.items), len(s.products), s.dir)
	return nil
}

// walk returns the decodable records and the decode errors of the rest.
func (s *Store) walk() ([]nvd.Item, *multierror.Error, error) {
	ok, err := afero.DirExists(s.fs.AppFs, s.dir)
	if err != nil {
		return nil, nil, xerrors.Errorf("unable to stat %s: %w", s.dir, err)
	} else if !ok {
		return nil, nil, xerrors.Errorf("%s does not exist: %w", s.dir, store.ErrUnavailable)
	}

	var items []nvd.Item
	var errs *multierror.Error
	err = afero.Walk(s.fs.AppFs, s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return xerrors.Errorf("file walk error: %w", err)
		}
		if info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		var item nvd.Item
		if err = s.fs.ReadJSON(path, &item); err != nil {
			errs = multierror.Append(errs, err)
			return nil
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, nil, xerrors.Errorf("unable to walk %s: %w", s.dir, err)
	}
	return items, errs, nil
}

func (s *Store) index(items []nvd.Item) {
	s.items = items
	s.byID = make(map[string]int, len(items))
	s.byProduct = map[string][]int{}
	for i, item := range items {
		s.byID[item.ID()] = i
		products := item.CollectUniqueProducts()
		s.products = append(s.products, products...)
		for _, name := range lo.Uniq(lo.Map(products, func(p cpe.Product, _ int) string { return p.Product })) {
			s.byProduct[name] = append(s.byProduct[name], i)
		}
	}
	s.products = lo.Uniq(s.products)
}

func (s *Store) GetCVE(ctx context.Context, id string) (nvd.Item, error) {
	if err := s.load(ctx); err != nil {
		return nvd.Item{}, err
	}
	i, ok := s.byID[id]
	if !ok {
		return nvd.Item{}, xerrors.Errorf("%s: %w", id, store.ErrNotFound)
	}
	return s.items[i], nil
}

func (s *Store) GetProducts(ctx context.Context) ([]cpe.Product, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return append([]cpe.Product(nil), s.products...), nil
}

func (s *Store) SearchProducts(ctx context.Context, query string) ([]cpe.Product, error) {
	if err := store.ValidateSearch(query); err != nil {
		return nil, err
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return lo.Filter(s.products, func(p cpe.Product, _ int) bool {
		return store.MatchSearch(p, query)
	}), nil
}

func (s *Store) SearchCVEs(ctx context.Context, q nvd.Query) ([]nvd.Item, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return lo.Map(s.byProduct[q.Product], func(i int, _ int) nvd.Item {
		return s.items[i]
	}), nil
}

// All returns every loaded record in walk order. Unlike the query methods it
// fails when any record could not be decoded, so an export is never partial.
func (s *Store) All(ctx context.Context) ([]nvd.Item, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	if s.parseErr != nil {
		return nil, s.parseErr
	}
	return append([]nvd.Item(nil), s.items...), nil
}

func (s *Store) Close() error {
	return nil
}
