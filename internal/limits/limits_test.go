package limits

import "testing"

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		value float64
		pass  bool
		rule  string
	}{
		{"no limit always passes", "", 1234, true, ""},
		{"approx inside tolerance", "≈5", 8, true, "≈ 5"},
		{"approx boundary exclusive", "≈5", 9, false, "≈ 5"},
		{"approx below target", "≈5", 2, true, "≈ 5"},
		{"tilde approx", "~0", 2.5, true, "≈ 0"},
		{"equals treated as approx", "= 200", 203, true, "≈ 200"},
		{"upper bound inclusive", "≤5", 5, true, "≤ 5"},
		{"upper bound fail just above", "≤5", 5.01, false, "≤ 5"},
		{"less-than cue", "< 8", 7, true, "≤ 8"},
		{"lower bound inclusive", "≥60", 60, true, "≥ 60"},
		{"lower bound fail", "≥63", 59, false, "≥ 63"},
		{"greater-than cue", "> 75", 80, true, "≥ 75"},
		{"unparseable fails open", "keep it cold", 99, true, ""},
		{"decimal target", "≤ 7.5", 7.5, true, "≤ 7.5"},
		{"negative target", "≥ -18", -17, true, "≥ -18"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Evaluate(tc.text, tc.value)
			if res.Pass != tc.pass {
				t.Fatalf("Evaluate(%q, %v) pass = %v, want %v", tc.text, tc.value, res.Pass, tc.pass)
			}
			if res.MatchedRule != tc.rule {
				t.Fatalf("Evaluate(%q, %v) rule = %q, want %q", tc.text, tc.value, res.MatchedRule, tc.rule)
			}
		})
	}
}

func TestApproxBeatsBound(t *testing.T) {
	// text carrying both an approx and a bound cue is judged as approx only
	res := Evaluate("≈5 ≤10", 8)
	if !res.Pass {
		t.Fatalf("expected pass under approx rule, got fail")
	}
	if res.MatchedRule != "≈ 5" {
		t.Fatalf("rule = %q, want approx", res.MatchedRule)
	}
	res = Evaluate("≈5 ≤10", 9.5)
	if res.Pass {
		t.Fatalf("expected approx fail even though ≤10 would pass")
	}
}
