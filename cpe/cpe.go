package cpe

import (
	"strings"

	"golang.org/x/xerrors"
)

const (
	prefix = "cpe:2.3:"

	// part, vendor, product, version, update, edition, language,
	// sw_edition, target_sw, target_hw, other
	numComponents = 11

	Any = "*"
	NA  = "-"
)

// Product identifies a vendor/product pair.
type Product struct {
	Vendor  string `json:"vendor"`
	Product string `json:"product"`
}

func (p Product) String() string {
	return p.Vendor + ":" + p.Product
}

// Name holds the CPE 2.3 fields used for matching.
type Name struct {
	Part    string
	Vendor  string
	Product string
	Version string
}

func (n Name) AsProduct() Product {
	return Product{Vendor: n.Vendor, Product: n.Product}
}

// VersionIsAny reports whether the name matches every version.
func (n Name) VersionIsAny() bool {
	return n.Version == "" || n.Version == Any
}

// ParseURI extracts the part, vendor, product and version of a CPE 2.3
// formatted string such as
// "cpe:2.3:a:openssl:openssl:1.0.2:*:*:*:*:*:*:*".
func ParseURI(uri string) (Name, error) {
	if !strings.HasPrefix(uri, prefix) {
		return Name{}, xerrors.Errorf("invalid CPE 2.3 prefix: %q", uri)
	}

	fields := splitUnescaped(strings.TrimPrefix(uri, prefix))
	if len(fields) != numComponents {
		return Name{}, xerrors.Errorf("invalid number of CPE components (%d): %q", len(fields), uri)
	}

	name := Name{
		Part:    fields[0],
		Vendor:  unescape(fields[1]),
		Product: unescape(fields[2]),
		Version: unescape(fields[3]),
	}
	if name.Vendor == "" || name.Product == "" {
		return Name{}, xerrors.Errorf("empty vendor or product: %q", uri)
	}
	return name, nil
}

// splitUnescaped splits s on ':' characters that are not escaped with a backslash.
func splitUnescaped(s string) []string {
	var fields []string
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			b.WriteByte(s[i])
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case ':':
			fields = append(fields, b.String())
			b.Reset()
		default:
			b.WriteByte(s[i])
		}
	}
	return append(fields, b.String())
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
