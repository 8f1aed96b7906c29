package store

import (
	"context"
	"path"
	"regexp"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-match/cpe"
	"github.com/aquasecurity/vuln-match/nvd"
)

var (
	ErrNotFound     = xerrors.New("not found")
	ErrUnavailable  = xerrors.New("storage unavailable")
	ErrInvalidQuery = xerrors.New("invalid query")
)

// Storage serves CVE records and the products they reference.
type Storage interface {
	GetCVE(ctx context.Context, id string) (nvd.Item, error)
	GetProducts(ctx context.Context) ([]cpe.Product, error)
	SearchProducts(ctx context.Context, query string) ([]cpe.Product, error)

	// SearchCVEs returns the candidate records for q: those referencing
	// q.Product in any criterion. Version filtering is left to nvd.Match.
	SearchCVEs(ctx context.Context, q nvd.Query) ([]nvd.Item, error)

	Close() error
}

const maxQueryLength = 128

var searchPattern = regexp.MustCompile(`^[A-Za-z0-9._+\-:*~]+$`)

// ValidateSearch rejects product search queries that are empty, too long or
// contain characters outside the CPE product alphabet.
func ValidateSearch(query string) error {
	if query == "" {
		return xerrors.Errorf("empty search: %w", ErrInvalidQuery)
	}
	if len(query) > maxQueryLength {
		return xerrors.Errorf("search longer than %d characters: %w", maxQueryLength, ErrInvalidQuery)
	}
	if !searchPattern.MatchString(query) {
		return xerrors.Errorf("search %q contains invalid characters: %w", query, ErrInvalidQuery)
	}
	return nil
}

// MatchSearch reports whether p matches a validated search query. The query
// is a case-insensitive substring of "vendor:product" where '*' matches any
// run of characters.
func MatchSearch(p cpe.Product, query string) bool {
	ok, err := path.Match("*"+strings.ToLower(query)+"*", strings.ToLower(p.String()))
	return err == nil && ok
}

// GroupByVendor maps each vendor to its products, with vendors' product lists
// sorted and de-duplicated.
func GroupByVendor(products []cpe.Product) map[string][]string {
	grouped := lo.GroupBy(products, func(p cpe.Product) string {
		return p.Vendor
	})
	return lo.MapValues(grouped, func(ps []cpe.Product, _ string) []string {
		names := lo.Uniq(lo.Map(ps, func(p cpe.Product, _ int) string {
			return p.Product
		}))
		slices.Sort(names)
		return names
	})
}
