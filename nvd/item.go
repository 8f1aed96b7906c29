package nvd

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/samber/lo"

	"github.com/aquasecurity/vuln-match/cpe"
)

// Query asks whether a record applies to a product at a given version.
type Query struct {
	Product string
	Version *string
}

// NewQuery builds a query; an empty version means the query carries none.
func NewQuery(product, ver string) Query {
	q := Query{Product: product}
	if ver != "" {
		q.Version = &ver
	}
	return q
}

func (i Item) ID() string {
	return i.CVE.Meta.ID
}

// IsComplete reports whether the record has been analyzed. Reserved CVEs
// have no configuration nodes.
func (i Item) IsComplete() bool {
	return len(i.Configurations.Nodes) > 0
}

// Summary returns the first English description, or "".
func (i Item) Summary() string {
	for _, d := range i.CVE.Description.DescriptionData {
		if d.Lang == "en" {
			return d.Value
		}
	}
	return ""
}

func (i Item) Score() float64 {
	return i.Impact.Score()
}

func (i Item) Severity() string {
	return i.Impact.Severity()
}

func (i Item) Vector() string {
	return i.Impact.Vector()
}

// IsMatch reports whether any root node matches the query. A query without
// a version never matches.
func (i Item) IsMatch(q Query) bool {
	if q.Version == nil {
		return false
	}
	for _, root := range i.Configurations.Nodes {
		// roots are implicitly OR'd
		if root.IsMatch(q.Product, *q.Version) {
			return true
		}
	}
	return false
}

// CollectUniqueProducts returns the products referenced by all root nodes,
// de-duplicated in order of first appearance.
func (i Item) CollectUniqueProducts() []cpe.Product {
	var products []cpe.Product
	for _, root := range i.Configurations.Nodes {
		products = root.appendProducts(products)
	}
	return lo.Uniq(products)
}

// HasProduct reports whether product appears in any criterion of the record.
func (i Item) HasProduct(product string) bool {
	return lo.ContainsBy(i.CollectUniqueProducts(), func(p cpe.Product) bool {
		return p.Product == product
	})
}

// Year returns the year part of the CVE ID, e.g. "2021" for CVE-2021-3881.
func (i Item) Year() string {
	s := strings.Split(i.ID(), "-")
	if len(s) != 3 {
		return ""
	}
	return s[1]
}

func (i Item) Published() time.Time {
	return parseTime(i.PublishedDate)
}

func (i Item) LastModified() time.Time {
	return parseTime(i.LastModifiedDate)
}

func (i Item) ReferenceURLs() []string {
	return lo.Map(i.CVE.References.ReferenceData, func(r Reference, _ int) string {
		return r.URL
	})
}

// CWEs returns the CWE identifiers of the problem type data, e.g. "CWE-79".
func (i Item) CWEs() []string {
	var cwes []string
	for _, data := range i.CVE.ProblemType.ProblemTypeData {
		for _, d := range data.Description {
			if strings.HasPrefix(d.Value, "CWE-") {
				cwes = append(cwes, d.Value)
			}
		}
	}
	return lo.Uniq(cwes)
}

// TimeLayout is the layout of feed timestamps, e.g. "2021-03-04T15:15Z".
const TimeLayout = "2006-01-02T15:04Z"

// parseTime returns the zero time when s is empty or not a date.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
