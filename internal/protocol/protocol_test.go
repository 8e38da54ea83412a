package protocol

import "testing"

func TestNormalizeJID(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"5511999:12@s.whatsapp.net": "5511999@s.whatsapp.net",
		"5511999@s.whatsapp.net":    "5511999@s.whatsapp.net",
		"5511999:3@g.us":            "5511999@g.us",
		"no-at-sign":                "no-at-sign",
		"":                          "",
	}

	for in, want := range tests {
		if got := NormalizeJID(in); got != want {
			t.Errorf("NormalizeJID(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestIsGroupJID(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"12345-67890@g.us":       true,
		"5511999@s.whatsapp.net": false,
		"":                       false,
	}

	for in, want := range tests {
		if got := IsGroupJID(in); got != want {
			t.Errorf("IsGroupJID(%q): got %v, want %v", in, got, want)
		}
	}
}
