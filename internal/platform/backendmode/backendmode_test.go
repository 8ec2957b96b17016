package backendmode

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		raw  string
		want Mode
	}{
		{"legacy_only", LegacyOnly},
		{"shadow_read", ShadowRead},
		{"primary", Primary},
		{"  PRIMARY ", Primary},
		{"shadow-read", ShadowRead},
		{"", LegacyOnly},
		{"relational", LegacyOnly},
		{"prim", LegacyOnly},
	}
	for _, tc := range cases {
		if got := Parse(tc.raw); got != tc.want {
			t.Fatalf("Parse(%q): got %q want %q", tc.raw, got, tc.want)
		}
	}
}

func TestResolverMode(t *testing.T) {
	r := NewResolver(MapSource{
		"USER_BACKEND":  "primary",
		"USAGE_BACKEND": "bogus",
	})
	if got := r.Mode("USER_BACKEND"); got != Primary {
		t.Fatalf("USER_BACKEND: got %q", got)
	}
	if got := r.Mode("USAGE_BACKEND"); got != LegacyOnly {
		t.Fatalf("USAGE_BACKEND: unknown value should fall back, got %q", got)
	}
	if got := r.Mode("MISSING"); got != LegacyOnly {
		t.Fatalf("MISSING: got %q", got)
	}
	if LegacyOnly.UsesRelational() || !Primary.UsesRelational() || !ShadowRead.UsesRelational() {
		t.Fatalf("UsesRelational mismatch")
	}
}

func TestResolverFlag(t *testing.T) {
	r := NewResolver(MapSource{
		"A": "true",
		"B": "1",
		"C": "YES",
		"D": "on",
		"E": "false",
		"F": "",
	})
	for _, name := range []string{"A", "B", "C"} {
		if !r.Flag(name, false) {
			t.Fatalf("%s: expected truthy", name)
		}
	}
	for _, name := range []string{"D", "E", "F"} {
		if r.Flag(name, true) {
			t.Fatalf("%s: expected false", name)
		}
	}
	if !r.Flag("UNSET", true) {
		t.Fatalf("unset flag should return the default")
	}
	if r.Flag("UNSET", false) {
		t.Fatalf("unset flag should return the default")
	}
}
