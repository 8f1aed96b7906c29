package version

// Range is a version constraint built from up to four independent
// boundaries. An empty string means the boundary is not set.
type Range struct {
	StartIncluding string `json:"startIncluding,omitempty"`
	StartExcluding string `json:"startExcluding,omitempty"`
	EndIncluding   string `json:"endIncluding,omitempty"`
	EndExcluding   string `json:"endExcluding,omitempty"`
}

// IsEmpty reports whether no boundary is set.
func (r Range) IsEmpty() bool {
	return r.StartIncluding == "" && r.StartExcluding == "" &&
		r.EndIncluding == "" && r.EndExcluding == ""
}

// Satisfies reports whether v falls within every boundary that is set.
// An empty range is open and accepts any version.
func (r Range) Satisfies(v string) bool {
	if r.StartIncluding != "" && Compare(v, r.StartIncluding) < 0 {
		return false
	}
	if r.StartExcluding != "" && Compare(v, r.StartExcluding) <= 0 {
		return false
	}
	if r.EndIncluding != "" && Compare(v, r.EndIncluding) > 0 {
		return false
	}
	if r.EndExcluding != "" && Compare(v, r.EndExcluding) >= 0 {
		return false
	}
	return true
}
