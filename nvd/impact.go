package nvd

// metric is the CVSS data exposed for a record, whichever schema it came from.
type metric struct {
	version      string
	score        float64
	severity     string
	vector       string
	vectorString string
}

// metric applies the precedence rule shared by every accessor: CVSS v2 is
// checked first, then CVSS v3. Without either, the zero value is returned.
func (i Impact) metric() metric {
	if m := i.BaseMetricV2; m != nil {
		return metric{
			version:      m.CVSSV2.Version,
			score:        m.CVSSV2.BaseScore,
			severity:     m.Severity,
			vector:       m.CVSSV2.AccessVector,
			vectorString: m.CVSSV2.VectorString,
		}
	}
	if m := i.BaseMetricV3; m != nil {
		return metric{
			version:      m.CVSSV3.Version,
			score:        m.CVSSV3.BaseScore,
			severity:     m.CVSSV3.BaseSeverity,
			vector:       m.CVSSV3.AttackVector,
			vectorString: m.CVSSV3.VectorString,
		}
	}
	return metric{}
}

func (i Impact) Score() float64 {
	return i.metric().score
}

func (i Impact) Severity() string {
	return i.metric().severity
}

// Vector returns the access vector (v2) or attack vector (v3), e.g. "NETWORK".
func (i Impact) Vector() string {
	return i.metric().vector
}

func (i Impact) VectorString() string {
	return i.metric().vectorString
}

// Version returns the CVSS version of the metric in use, e.g. "2.0".
func (i Impact) Version() string {
	return i.metric().version
}
