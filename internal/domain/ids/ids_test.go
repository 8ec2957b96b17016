package ids

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
	}{
		{"recA1b2C3d4E5f6G7", KindLegacy},
		{" recA1b2C3d4E5f6G7 ", KindLegacy},
		{"recA1b2C3d4E5f6G", KindUnknown},
		{"recA1b2C3d4E5f6G78", KindUnknown},
		{"recA1b2C3d4E5f6G-", KindUnknown},
		{"9b2f7c1e-3f4a-4d8e-9c1a-2b3c4d5e6f70", KindUUID},
		{"00000000-0000-0000-0000-000000000000", KindUnknown},
		{"", KindUnknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.in); got != tc.want {
			t.Fatalf("Classify(%q): got %s want %s", tc.in, got, tc.want)
		}
	}
}
