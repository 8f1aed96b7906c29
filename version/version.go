package version

import (
	"strings"
)

// Compare compares two version strings component by component and returns
// -1, 0 or +1.
//
// Versions are split on '.' and '-'. Components consisting only of digits are
// compared as integers of any length, other components are compared
// lexicographically, and a numeric component always sorts before a
// non-numeric one. The shorter version is padded with "0" components,
// so "1.2" and "1.2.0" are equal.
func Compare(a, b string) int {
	as, bs := split(a), split(b)

	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		x, y := "0", "0"
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		if c := compareComponent(x, y); c != 0 {
			return c
		}
	}
	return 0
}

func split(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == '.' || r == '-'
	})
}

func compareComponent(x, y string) int {
	xNum, yNum := isNumeric(x), isNumeric(y)
	switch {
	case xNum && yNum:
		return compareNumeric(x, y)
	case xNum:
		return -1
	case yNum:
		return 1
	}
	return strings.Compare(x, y)
}

// compareNumeric avoids integer parsing so that arbitrarily long components
// (e.g. date stamps) never overflow.
func compareNumeric(x, y string) int {
	x = strings.TrimLeft(x, "0")
	y = strings.TrimLeft(y, "0")
	if len(x) != len(y) {
		if len(x) < len(y) {
			return -1
		}
		return 1
	}
	return strings.Compare(x, y)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
