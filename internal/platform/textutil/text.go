package textutil

import (
	"html"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// MaxNoteLength bounds free-text notes and reasons attached to orders, in runes.
const MaxNoteLength = 500

// NoteSeparator joins successive notes appended to the same order.
const NoteSeparator = " | "

var (
	policyOnce  sync.Once
	plainPolicy *bluemonday.Policy
	upper       = cases.Upper(language.Und)
)

func policy() *bluemonday.Policy {
	policyOnce.Do(func() {
		plainPolicy = bluemonday.StrictPolicy()
	})
	return plainPolicy
}

// CleanText strips markup, normalises to NFC, collapses whitespace and truncates to maxRunes.
// A non-positive maxRunes defaults to MaxNoteLength.
func CleanText(raw string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = MaxNoteLength
	}
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	stripped := html.UnescapeString(policy().Sanitize(norm.NFC.String(raw)))
	stripped = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, stripped)
	cleaned := strings.Join(strings.Fields(stripped), " ")

	if utf8.RuneCountInString(cleaned) > maxRunes {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:maxRunes]))
	}
	return cleaned
}

// AppendNote adds note to existing using NoteSeparator. Empty parts are skipped.
func AppendNote(existing, note string) string {
	existing = strings.TrimSpace(existing)
	note = strings.TrimSpace(note)
	switch {
	case note == "":
		return existing
	case existing == "":
		return note
	default:
		return existing + NoteSeparator + note
	}
}

// NormalizeCode upper-cases and trims identifiers typed by people, such as pickup codes.
func NormalizeCode(raw string) string {
	return upper.String(strings.TrimSpace(raw))
}
