// Package nagios implements Nagios/Icinga check evaluation and reporting:
// threshold ranges, per-metric alert evaluation, perfdata rendering, the fixed
// four-way exit code table, and a reporter that caches check results for later
// replay by a monitoring probe.
package nagios

import (
	"fmt"
	"regexp"
	"strconv"
)

// rangeRe matches the [@][start:][end] threshold grammar. start may be "~"
// for negative infinity; a missing end means positive infinity.
var rangeRe = regexp.MustCompile(`^\s*(?P<neg>@)?((?P<start>(~|[0-9.-]+)):)?(?P<end>[0-9.-]+)?\s*$`)

// Range is an inclusive numeric interval with a negation flag, parsed from
// the compact Nagios threshold syntax. Immutable once parsed.
type Range struct {
	spec     string
	start    float64
	end      float64
	hasStart bool // false means the interval extends to -inf
	hasEnd   bool // false means the interval extends to +inf
	invert   bool
}

// ParseRange parses spec in [@][start:][end] form. A missing start defaults
// to 0, "~" means negative infinity, a missing end means positive infinity,
// and a leading @ negates the membership test. Malformed input is an error.
func ParseRange(spec string) (*Range, error) {
	m := rangeRe.FindStringSubmatch(spec)
	if m == nil {
		return nil, fmt.Errorf("nagios: invalid range %q", spec)
	}

	r := &Range{spec: spec, hasStart: true}
	r.invert = m[rangeRe.SubexpIndex("neg")] != ""

	switch startTxt := m[rangeRe.SubexpIndex("start")]; startTxt {
	case "":
		r.start = 0
	case "~":
		r.hasStart = false
	default:
		v, err := strconv.ParseFloat(startTxt, 64)
		if err != nil {
			return nil, fmt.Errorf("nagios: invalid range start %q in %q", startTxt, spec)
		}
		r.start = v
	}

	if endTxt := m[rangeRe.SubexpIndex("end")]; endTxt != "" {
		v, err := strconv.ParseFloat(endTxt, 64)
		if err != nil {
			return nil, fmt.Errorf("nagios: invalid range end %q in %q", endTxt, spec)
		}
		r.end = v
		r.hasEnd = true
	}

	return r, nil
}

// InRange reports whether v lies inside the interval, bounds inclusive,
// honouring the negation flag.
func (r *Range) InRange(v float64) bool {
	in := (!r.hasStart || r.start <= v) && (!r.hasEnd || v <= r.end)
	if r.invert {
		return !in
	}
	return in
}

// Alert reports whether v should raise an alert, i.e. falls outside the
// range.
func (r *Range) Alert(v float64) bool {
	return !r.InRange(v)
}

// String returns the original range spec.
func (r *Range) String() string {
	return r.spec
}
