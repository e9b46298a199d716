package store

import (
	"strings"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"sharedcal/internal/model"
)

var folder = cases.Fold()

// Normalize folds s for keyword matching. Latin text is transliterated to
// ASCII so "Café" matches "cafe"; other scripts are only case folded, since
// transliterating Hangul would let unrelated syllables collide. Input is
// composed first, so a decomposed "e" plus combining acute folds like "é".
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range norm.NFC.String(s) {
		if r < 0x80 || isLatin(r) {
			b.WriteString(unidecode.Unidecode(string(r)))
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(folder.String(b.String())), " ")
}

func isLatin(r rune) bool {
	return r >= 0x00C0 && r <= 0x024F
}

// searchText is the normalized haystack stored next to each event.
func searchText(title, contents string) string {
	return Normalize(title + " " + contents)
}

// Matches reports whether ev contains keyword, both normalized.
func Matches(ev model.Event, keyword string) bool {
	k := Normalize(keyword)
	if k == "" {
		return false
	}
	return strings.Contains(searchText(ev.Title, ev.Contents), k)
}

func validateKeyword(keyword string) (string, error) {
	k := Normalize(keyword)
	if k == "" {
		return "", &model.ValidationError{Field: "keyword", Message: "keyword is required"}
	}
	return k, nil
}
