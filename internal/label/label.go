// Package label turns identifier-style names such as
// "EyeENT_SymptomaticDifferentials" into sentence-case display labels.
package label

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Sentence converts an identifier to a sentence-case label:
//
//	BreakingBadNews                 -> Breaking bad news
//	EyeENT_SymptomaticDifferentials -> Eye ENT symptomatic differentials
//
// Acronyms and digit runs keep their form. Sentence is idempotent.
func Sentence(identifier string) string {
	if identifier == "" {
		return ""
	}
	words := strings.Fields(split([]rune(identifier)))
	if len(words) == 0 {
		return ""
	}
	lower := cases.Lower(language.Und)
	for i, w := range words {
		if isCapitalized(w) {
			words[i] = lower.String(w)
		}
	}
	out := strings.Join(words, " ")
	r, n := utf8.DecodeRuneInString(out)
	return string(unicode.ToUpper(r)) + out[n:]
}

// split inserts spaces at word boundaries. Runs of whitespace are left for
// the caller to collapse.
func split(rs []rune) string {
	var sb strings.Builder
	sb.Grow(len(rs) + 8)
	for i, r := range rs {
		if r == '_' {
			sb.WriteByte(' ')
			continue
		}
		if i > 0 && boundary(rs, i) {
			sb.WriteByte(' ')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func boundary(rs []rune, i int) bool {
	r, prev := rs[i], rs[i-1]
	if unicode.IsDigit(r) != unicode.IsDigit(prev) && prev != '_' && !unicode.IsSpace(prev) {
		return true
	}
	if !unicode.IsUpper(r) {
		return false
	}
	// Camel-case split before an Upper+lower pair.
	if i+1 < len(rs) && unicode.IsLower(rs[i+1]) {
		return true
	}
	// An acronym run only splits from a preceding lowercase letter.
	return unicode.IsLower(prev) && acronymAt(rs, i)
}

// acronymAt reports whether rs[i:] starts a run of at least two capitals
// followed by an Upper+lower pair, the end of the word, or a digit.
func acronymAt(rs []rune, i int) bool {
	j := i
	for j < len(rs) && unicode.IsUpper(rs[j]) {
		j++
	}
	if j < len(rs) && unicode.IsLower(rs[j]) {
		// The last capital starts the next camel-case word.
		j--
	}
	return j-i >= 2
}

// isCapitalized reports whether w is a plain word like "Breaking": one
// leading capital followed only by lowercase letters.
func isCapitalized(w string) bool {
	first, n := utf8.DecodeRuneInString(w)
	if !unicode.IsUpper(first) || n == len(w) {
		return false
	}
	for _, r := range w[n:] {
		if !unicode.IsLower(r) {
			return false
		}
	}
	return true
}
