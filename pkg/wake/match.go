package wake

import (
	"strings"
	"unicode"
)

// Normalize lowercases text, keeps letters and spaces, and collapses runs of
// whitespace. Punctuation from transcripts ("Iris!", "what's") is dropped.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r):
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r) || r == '-':
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Similarity scores two words in [0, 1]: 1 for equal words, 0.8 when one
// contains the other (the shorter having at least three letters), otherwise
// the share of positions holding the same letter.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) >= 3 && strings.Contains(long, short) {
		return 0.8
	}
	if len(long) == 0 {
		return 0
	}
	matches := 0
	for i := 0; i < len(short); i++ {
		if short[i] == long[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(long))
}

// MatchWake reports whether transcript contains the wake token, exactly or
// fuzzily at or above threshold. It also returns the words after the match,
// so "iris what do you see" can carry its command inline.
func MatchWake(transcript, token string, threshold float64) (bool, string) {
	token = Normalize(token)
	text := Normalize(transcript)
	if token == "" || text == "" {
		return false, ""
	}

	// Multi-word tokens ("hey iris") match as a phrase.
	if strings.Contains(token, " ") {
		if i := strings.Index(text, token); i >= 0 {
			return true, strings.TrimSpace(text[i+len(token):])
		}
		return false, ""
	}

	words := strings.Fields(text)
	for i, w := range words {
		if w == token {
			return true, strings.Join(words[i+1:], " ")
		}
	}
	for i, w := range words {
		if Similarity(w, token) >= threshold {
			return true, strings.Join(words[i+1:], " ")
		}
	}
	return false, ""
}
