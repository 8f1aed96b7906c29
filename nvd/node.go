package nvd

import (
	"github.com/samber/lo"

	"github.com/aquasecurity/vuln-match/cpe"
	"github.com/aquasecurity/vuln-match/version"
)

const (
	OperatorAND = "AND"
	OperatorOR  = "OR"
)

// Criterion is the matching view of a cpe_match entry.
type Criterion struct {
	Vendor     string
	Product    string
	Vulnerable bool

	// Range is nil when the entry carries no version boundary.
	Range *version.Range

	// ExactVersion is only consulted when Range is nil. Empty means any version.
	ExactVersion string
}

// Criterion derives the matching criterion from the feed entry. A malformed
// CPE URI yields a criterion with an empty product, which covers nothing.
func (m CPEMatch) Criterion() Criterion {
	c := Criterion{Vulnerable: m.Vulnerable}

	name, err := cpe.ParseURI(m.CPE23URI)
	if err != nil {
		return c
	}
	c.Vendor, c.Product = name.Vendor, name.Product

	r := version.Range{
		StartIncluding: m.VersionStartIncluding,
		StartExcluding: m.VersionStartExcluding,
		EndIncluding:   m.VersionEndIncluding,
		EndExcluding:   m.VersionEndExcluding,
	}
	if !r.IsEmpty() {
		c.Range = &r
	} else if !name.VersionIsAny() {
		c.ExactVersion = name.Version
	}
	return c
}

// Covers reports whether product and version fall within the scope of the
// criterion, regardless of whether that scope is vulnerable.
func (c Criterion) Covers(product, ver string) bool {
	if c.Product == "" || c.Product != product {
		return false
	}
	if c.Range != nil {
		return c.Range.Satisfies(ver)
	}
	if c.ExactVersion != "" {
		return c.ExactVersion == ver
	}
	return true
}

// Matches reports whether the criterion marks product and version as vulnerable.
func (c Criterion) Matches(product, ver string) bool {
	return c.Vulnerable && c.Covers(product, ver)
}

// IsMatch evaluates the node for the given product and version.
//
// A non-vulnerable criterion covering the query excludes the node even when
// another criterion or child matched. A node without criteria and children is
// treated as malformed and never matches, negated or not.
func (n Node) IsMatch(product, ver string) bool {
	if len(n.CPEMatch) == 0 && len(n.Children) == 0 {
		return false
	}

	var leafHit, leafExcluded bool
	for _, m := range n.CPEMatch {
		c := m.Criterion()
		if !c.Covers(product, ver) {
			continue
		}
		if c.Vulnerable {
			leafHit = true
		} else {
			leafExcluded = true
		}
	}

	var result bool
	switch n.Operator {
	case OperatorAND:
		result = leafHit || len(n.CPEMatch) == 0
		for _, child := range n.Children {
			if !result {
				break
			}
			result = child.IsMatch(product, ver)
		}
	default:
		result = leafHit
		for _, child := range n.Children {
			if result {
				break
			}
			result = child.IsMatch(product, ver)
		}
	}

	result = result && !leafExcluded
	if n.Negate {
		return !result
	}
	return result
}

// CollectUniqueProducts returns every vendor/product pair referenced by the
// node and its descendants, in order of first appearance.
func (n Node) CollectUniqueProducts() []cpe.Product {
	return lo.Uniq(n.appendProducts(nil))
}

func (n Node) appendProducts(products []cpe.Product) []cpe.Product {
	for _, m := range n.CPEMatch {
		c := m.Criterion()
		if c.Product == "" {
			continue
		}
		products = append(products, cpe.Product{Vendor: c.Vendor, Product: c.Product})
	}
	for _, child := range n.Children {
		products = child.appendProducts(products)
	}
	return products
}
