package browser

import "testing"

func TestModelMatches(t *testing.T) {
	cases := []struct {
		label     string
		preferred string
		want      bool
	}{
		{"Pro", "Pro", true},
		{"2.5 Pro", "Pro", true},
		{"pro", "Pro", true},
		{"Processing", "Pro", false},
		{"Pro\nFor everyday help", "Pro", true},
		{"Fast all-round help\nFlash", "Pro", false},
		{"Flash", "Pro", false},
		{"", "Pro", false},
		{"Pro", "", false},
	}
	for _, tc := range cases {
		if got := modelMatches(tc.label, tc.preferred); got != tc.want {
			t.Errorf("modelMatches(%q, %q) = %v, want %v", tc.label, tc.preferred, got, tc.want)
		}
	}
}

func TestFirstLine(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Pro", "Pro"},
		{"  Pro  \nFlash", "Pro"},
		{"\n\n2.5 Pro\nsubtitle", "2.5 Pro"},
		{"", ""},
		{"\n  \n", ""},
	}
	for _, tc := range cases {
		if got := firstLine(tc.in); got != tc.want {
			t.Errorf("firstLine(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
