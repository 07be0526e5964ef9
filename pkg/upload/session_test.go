package upload

import (
	"strings"
	"testing"
)

func TestSessionIDRoundTrip(t *testing.T) {
	s := Session{
		AppGroup:    "group.com.example.app",
		UserID:      "100",
		BaseURL:     "https://canvas.example.edu",
		ActAsUserID: "42",
	}
	id := s.ID()
	if !strings.HasPrefix(id, "upload.") {
		t.Fatalf("id missing prefix: %q", id)
	}
	got, err := ParseSessionID(id)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != s {
		t.Fatalf("round trip changed session: %+v != %+v", got, s)
	}
}

func TestSessionIDIsStable(t *testing.T) {
	s := Session{UserID: "100", BaseURL: "https://canvas.example.edu"}
	if s.ID() != s.ID() {
		t.Fatal("same session must produce the same id")
	}
	other := Session{UserID: "101", BaseURL: "https://canvas.example.edu"}
	if s.ID() == other.ID() {
		t.Fatal("different users must produce different ids")
	}
}

func TestParseSessionIDRejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		"download.abc",
		"upload.%%%not-base64%%%",
		"upload.",
	}
	// An encoded session missing the user is structurally valid but incomplete.
	incomplete := Session{BaseURL: "https://canvas.example.edu"}.ID()
	cases = append(cases, incomplete)

	for _, id := range cases {
		if _, err := ParseSessionID(id); err == nil {
			t.Fatalf("expected error for %q", id)
		}
	}
}
