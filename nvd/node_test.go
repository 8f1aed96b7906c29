package nvd_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aquasecurity/vuln-match/cpe"
	"github.com/aquasecurity/vuln-match/nvd"
	"github.com/aquasecurity/vuln-match/version"
)

func cpeMatch(vendor, product, ver string, vulnerable bool, r version.Range) nvd.CPEMatch {
	if ver == "" {
		ver = "*"
	}
	return nvd.CPEMatch{
		Vulnerable:            vulnerable,
		CPE23URI:              fmt.Sprintf("cpe:2.3:a:%s:%s:%s:*:*:*:*:*:*:*", vendor, product, ver),
		VersionStartIncluding: r.StartIncluding,
		VersionStartExcluding: r.StartExcluding,
		VersionEndIncluding:   r.EndIncluding,
		VersionEndExcluding:   r.EndExcluding,
	}
}

func TestCPEMatch_Criterion(t *testing.T) {
	tests := []struct {
		name  string
		match nvd.CPEMatch
		want  nvd.Criterion
	}{
		{
			name:  "range",
			match: cpeMatch("acme", "widget", "", true, version.Range{EndExcluding: "3.0"}),
			want: nvd.Criterion{
				Vendor:     "acme",
				Product:    "widget",
				Vulnerable: true,
				Range:      &version.Range{EndExcluding: "3.0"},
			},
		},
		{
			name:  "exact version from the URI",
			match: cpeMatch("acme", "widget", "2.5", false, version.Range{}),
			want: nvd.Criterion{
				Vendor:       "acme",
				Product:      "widget",
				ExactVersion: "2.5",
			},
		},
		{
			name:  "range wins over the URI version",
			match: cpeMatch("acme", "widget", "2.5", true, version.Range{StartIncluding: "2.0"}),
			want: nvd.Criterion{
				Vendor:     "acme",
				Product:    "widget",
				Vulnerable: true,
				Range:      &version.Range{StartIncluding: "2.0"},
			},
		},
		{
			name:  "any version",
			match: cpeMatch("acme", "widget", "*", true, version.Range{}),
			want: nvd.Criterion{
				Vendor:     "acme",
				Product:    "widget",
				Vulnerable: true,
			},
		},
		{
			name:  "malformed URI",
			match: nvd.CPEMatch{Vulnerable: true, CPE23URI: "cpe:/a:acme:widget"},
			want:  nvd.Criterion{Vulnerable: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.match.Criterion())
		})
	}
}

func TestCriterion_Covers(t *testing.T) {
	tests := []struct {
		name      string
		criterion nvd.Criterion
		product   string
		version   string
		want      bool
	}{
		{
			name:      "different product",
			criterion: nvd.Criterion{Product: "widget"},
			product:   "gadget",
			version:   "1.0",
			want:      false,
		},
		{
			name:      "product comparison is case-sensitive",
			criterion: nvd.Criterion{Product: "widget"},
			product:   "Widget",
			version:   "1.0",
			want:      false,
		},
		{
			name:      "open range",
			criterion: nvd.Criterion{Product: "widget"},
			product:   "widget",
			version:   "99",
			want:      true,
		},
		{
			name:      "exact version is string equality",
			criterion: nvd.Criterion{Product: "widget", ExactVersion: "2.5"},
			product:   "widget",
			version:   "2.5.0",
			want:      false,
		},
		{
			name:      "exact version",
			criterion: nvd.Criterion{Product: "widget", ExactVersion: "2.5"},
			product:   "widget",
			version:   "2.5",
			want:      true,
		},
		{
			name:      "in range",
			criterion: nvd.Criterion{Product: "widget", Range: &version.Range{EndIncluding: "2.5"}},
			product:   "widget",
			version:   "2.5.0",
			want:      true,
		},
		{
			name:      "empty product never covers",
			criterion: nvd.Criterion{},
			product:   "",
			version:   "1.0",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.criterion.Covers(tt.product, tt.version))
		})
	}
}

func TestCriterion_Matches(t *testing.T) {
	c := nvd.Criterion{Product: "widget", ExactVersion: "1.0"}
	assert.True(t, c.Covers("widget", "1.0"))
	assert.False(t, c.Matches("widget", "1.0"), "not vulnerable")

	c.Vulnerable = true
	assert.True(t, c.Matches("widget", "1.0"))
	assert.False(t, c.Matches("widget", "1.1"))
}

func TestNode_IsMatch(t *testing.T) {
	vulnerable := cpeMatch("acme", "widget", "", true, version.Range{EndExcluding: "3.0"})
	excluded := cpeMatch("acme", "widget", "2.5", false, version.Range{})
	platform := cpeMatch("acme", "os", "", false, version.Range{})
	other := cpeMatch("acme", "gadget", "", true, version.Range{})

	tests := []struct {
		name    string
		node    nvd.Node
		product string
		version string
		want    bool
	}{
		{
			name:    "OR leaf hit",
			node:    nvd.Node{Operator: "OR", CPEMatch: []nvd.CPEMatch{vulnerable}},
			product: "widget",
			version: "2.0",
			want:    true,
		},
		{
			name:    "OR leaf miss",
			node:    nvd.Node{Operator: "OR", CPEMatch: []nvd.CPEMatch{vulnerable}},
			product: "widget",
			version: "3.0",
			want:    false,
		},
		{
			name:    "exclusion overrides inclusion under OR",
			node:    nvd.Node{Operator: "OR", CPEMatch: []nvd.CPEMatch{vulnerable, excluded}},
			product: "widget",
			version: "2.5",
			want:    false,
		},
		{
			name:    "exclusion overrides inclusion under AND",
			node:    nvd.Node{Operator: "AND", CPEMatch: []nvd.CPEMatch{vulnerable, excluded}},
			product: "widget",
			version: "2.5",
			want:    false,
		},
		{
			name:    "exclusion only applies within its scope",
			node:    nvd.Node{Operator: "OR", CPEMatch: []nvd.CPEMatch{vulnerable, excluded}},
			product: "widget",
			version: "2.4",
			want:    true,
		},
		{
			name:    "exclusion overrides a matching child",
			node:    nvd.Node{Operator: "OR", CPEMatch: []nvd.CPEMatch{excluded}, Children: []nvd.Node{{Operator: "OR", CPEMatch: []nvd.CPEMatch{vulnerable}}}},
			product: "widget",
			version: "2.5",
			want:    false,
		},
		{
			name:    "AND with a vulnerable leaf and an unrelated platform",
			node:    nvd.Node{Operator: "AND", CPEMatch: []nvd.CPEMatch{vulnerable, platform}},
			product: "widget",
			version: "1.0",
			want:    true,
		},
		{
			name: "AND without local criteria requires every child",
			node: nvd.Node{Operator: "AND", Children: []nvd.Node{
				{Operator: "OR", CPEMatch: []nvd.CPEMatch{vulnerable}},
				{Operator: "OR", CPEMatch: []nvd.CPEMatch{platform}},
			}},
			product: "widget",
			version: "1.0",
			want:    false,
		},
		{
			name: "AND without local criteria, every child matches",
			node: nvd.Node{Operator: "AND", Children: []nvd.Node{
				{Operator: "OR", CPEMatch: []nvd.CPEMatch{vulnerable}},
				{Operator: "OR", CPEMatch: []nvd.CPEMatch{cpeMatch("acme", "widget", "", true, version.Range{StartIncluding: "1.0"})}},
			}},
			product: "widget",
			version: "1.5",
			want:    true,
		},
		{
			name:    "AND with local criteria that do not apply",
			node:    nvd.Node{Operator: "AND", CPEMatch: []nvd.CPEMatch{other}, Children: []nvd.Node{{Operator: "OR", CPEMatch: []nvd.CPEMatch{vulnerable}}}},
			product: "widget",
			version: "1.0",
			want:    false,
		},
		{
			name:    "OR with a matching child",
			node:    nvd.Node{Operator: "OR", CPEMatch: []nvd.CPEMatch{other}, Children: []nvd.Node{{Operator: "OR", CPEMatch: []nvd.CPEMatch{vulnerable}}}},
			product: "widget",
			version: "1.0",
			want:    true,
		},
		{
			name: "deep nesting",
			node: nvd.Node{Operator: "OR", Children: []nvd.Node{
				{Operator: "AND", Children: []nvd.Node{
					{Operator: "OR", Children: []nvd.Node{
						{Operator: "OR", CPEMatch: []nvd.CPEMatch{vulnerable}},
					}},
				}},
			}},
			product: "widget",
			version: "1.0",
			want:    true,
		},
		{
			name:    "negate inverts the result",
			node:    nvd.Node{Operator: "OR", Negate: true, CPEMatch: []nvd.CPEMatch{vulnerable}},
			product: "widget",
			version: "1.0",
			want:    false,
		},
		{
			name:    "negate applies after exclusion",
			node:    nvd.Node{Operator: "OR", Negate: true, CPEMatch: []nvd.CPEMatch{vulnerable, excluded}},
			product: "widget",
			version: "2.5",
			want:    true,
		},
		{
			name:    "empty OR node",
			node:    nvd.Node{Operator: "OR"},
			product: "widget",
			version: "1.0",
			want:    false,
		},
		{
			name:    "empty AND node",
			node:    nvd.Node{Operator: "AND"},
			product: "widget",
			version: "1.0",
			want:    false,
		},
		{
			name:    "empty negated node",
			node:    nvd.Node{Operator: "AND", Negate: true},
			product: "widget",
			version: "1.0",
			want:    false,
		},
		{
			name:    "unknown operator behaves like OR",
			node:    nvd.Node{Operator: "XOR", CPEMatch: []nvd.CPEMatch{vulnerable}},
			product: "widget",
			version: "1.0",
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.node.IsMatch(tt.product, tt.version))
		})
	}
}

func TestNode_CollectUniqueProducts(t *testing.T) {
	node := nvd.Node{
		Operator: "AND",
		CPEMatch: []nvd.CPEMatch{
			cpeMatch("acme", "widget", "", true, version.Range{EndExcluding: "3.0"}),
			cpeMatch("acme", "os", "", false, version.Range{}),
		},
		Children: []nvd.Node{
			{
				Operator: "OR",
				CPEMatch: []nvd.CPEMatch{
					cpeMatch("acme", "widget", "2.5", false, version.Range{}),
					cpeMatch("globex", "widget", "", true, version.Range{}),
					cpeMatch("acme", "widget", "", true, version.Range{StartIncluding: "4.0"}),
					{CPE23URI: "invalid"},
				},
			},
		},
	}

	want := []cpe.Product{
		{Vendor: "acme", Product: "widget"},
		{Vendor: "acme", Product: "os"},
		{Vendor: "globex", Product: "widget"},
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, want, node.CollectUniqueProducts())
	}
}
