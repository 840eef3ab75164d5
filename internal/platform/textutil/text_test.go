package textutil

import (
	"strings"
	"testing"
)

func TestCleanText(t *testing.T) {
	t.Helper()

	t.Run("strips markup and collapses whitespace", func(t *testing.T) {
		got := CleanText("  <b>out of</b>\n\tstock <script>alert(1)</script>elsewhere ", 0)
		if got != "out of stock elsewhere" {
			t.Fatalf("unexpected cleaned text %q", got)
		}
	})

	t.Run("blank input", func(t *testing.T) {
		if got := CleanText(" \n ", 0); got != "" {
			t.Fatalf("expected empty string, got %q", got)
		}
	})

	t.Run("truncates by runes", func(t *testing.T) {
		got := CleanText(strings.Repeat("é", 20), 5)
		if got != "ééééé" {
			t.Fatalf("expected 5 runes, got %q", got)
		}
	})
}

func TestAppendNote(t *testing.T) {
	cases := []struct {
		existing string
		note     string
		want     string
	}{
		{"", "Rejected: damaged", "Rejected: damaged"},
		{"gift wrap", "Rejected: damaged", "gift wrap | Rejected: damaged"},
		{"gift wrap", "  ", "gift wrap"},
	}
	for _, tc := range cases {
		if got := AppendNote(tc.existing, tc.note); got != tc.want {
			t.Fatalf("AppendNote(%q, %q) = %q, want %q", tc.existing, tc.note, got, tc.want)
		}
	}
}

func TestNormalizeCode(t *testing.T) {
	if got := NormalizeCode(" ab12cd34 "); got != "AB12CD34" {
		t.Fatalf("unexpected code %q", got)
	}
}

func TestCleanTextKeepsEntitiesReadable(t *testing.T) {
	if got := CleanText("tea & coffee", 0); got != "tea & coffee" {
		t.Fatalf("unexpected cleaned text %q", got)
	}
}
