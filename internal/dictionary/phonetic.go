package dictionary

import (
	"strings"
	"unicode"
)

// phoneticCode computes a Spanish-adapted Soundex code for a word. The first
// letter is preserved (uppercased), consonants map to digit classes tuned for
// Latin American Spanish confusions (b/v, c/s/z seseo, y/ll), vowels and the
// silent h are skipped, and consecutive identical classes collapse. Codes are
// padded or truncated to a fixed length of 5.
//
// Unlike classic Soundex, a vowel between two consonants of the same class
// does not break the collapse run; ASR confusions in fast courtroom speech
// rarely preserve interior vowels reliably enough to be significant.
func phoneticCode(word string) string {
	runes := []rune(strings.ToLower(strings.TrimSpace(word)))
	if len(runes) == 0 {
		return ""
	}

	code := []rune{unicode.ToUpper(runes[0])}
	prev := digitFor(runes[0])
	for _, r := range runes[1:] {
		d := digitFor(r)
		if d != '0' && d != prev {
			code = append(code, d)
		}
		if d != '0' {
			prev = d
		}
	}

	for len(code) < phoneticCodeLen {
		code = append(code, '0')
	}
	return string(code[:phoneticCodeLen])
}

const phoneticCodeLen = 5

// digitFor maps a rune to its Spanish Soundex digit class. Vowels, h, w, y
// and anything non-alphabetic map to '0' (skipped).
func digitFor(r rune) rune {
	switch r {
	case 'b', 'v', 'f', 'p':
		return '1'
	case 'c', 'g', 'j', 'k', 'q', 's', 'x', 'z':
		return '2'
	case 'd', 't':
		return '3'
	case 'l':
		return '4'
	case 'm', 'n', 'ñ':
		return '5'
	case 'r':
		return '6'
	default:
		return '0'
	}
}
