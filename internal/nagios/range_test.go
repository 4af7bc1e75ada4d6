package nagios

import "testing"

func TestRangeAlertBoundaries(t *testing.T) {
	cases := []struct {
		spec  string
		value float64
		alert bool
	}{
		{"10", 10, false},
		{"10", 11, true},
		{"10", -1, true},
		{"10", 0, false},
		{"10:", 9, true},
		{"10:", 10, false},
		{"10:", 1e9, false},
		{"~:10", 11, true},
		{"~:10", 10, false},
		{"~:10", -1e9, false},
		{"10:20", 9, true},
		{"10:20", 10, false},
		{"10:20", 20, false},
		{"10:20", 21, true},
		{"@10:20", 15, true},
		{"@10:20", 10, true},
		{"@10:20", 9, false},
		{"@10:20", 21, false},
	}

	for _, tc := range cases {
		r, err := ParseRange(tc.spec)
		if err != nil {
			t.Fatalf("ParseRange(%q) failed: %v", tc.spec, err)
		}
		if got := r.Alert(tc.value); got != tc.alert {
			t.Errorf("Range(%q).Alert(%v) = %v, want %v", tc.spec, tc.value, got, tc.alert)
		}
	}
}

func TestParseRangeNegativeBounds(t *testing.T) {
	r, err := ParseRange("-10:-5")
	if err != nil {
		t.Fatalf("ParseRange failed: %v", err)
	}
	if r.Alert(-7) {
		t.Errorf("-7 is inside [-10,-5], must not alert")
	}
	if !r.Alert(-4) {
		t.Errorf("-4 is outside [-10,-5], must alert")
	}
}

func TestParseRangeMalformed(t *testing.T) {
	for _, spec := range []string{"abc", "10:20:30", "@@5", "1..2:3"} {
		if _, err := ParseRange(spec); err == nil {
			t.Errorf("ParseRange(%q) must fail", spec)
		}
	}
}

func TestRangeStringRoundTrip(t *testing.T) {
	r, err := ParseRange("@10:20")
	if err != nil {
		t.Fatalf("ParseRange failed: %v", err)
	}
	if r.String() != "@10:20" {
		t.Errorf("String() = %q, want original spec", r.String())
	}
}
