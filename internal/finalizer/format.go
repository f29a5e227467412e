package finalizer

import (
	"strings"
	"unicode"
)

// edgePunct covers the punctuation stripped from token edges when comparing
// words against the role and question-word tables.
const edgePunct = ".,;:!?¿¡\"'«»()"

// roleWords are courtroom roles and honorifics that Peruvian hearing
// transcripts conventionally capitalize.
var roleWords = map[string]struct{}{
	"juez": {}, "jueza": {},
	"fiscal":     {},
	"doctor":     {}, "doctora": {},
	"abogado":    {}, "abogada": {},
	"señor":      {}, "señora": {}, "señoría": {},
	"magistrado": {}, "magistrada": {},
	"defensor":   {}, "defensora": {},
	"procurador": {}, "procuradora": {},
	"perito":     {},
	"testigo":    {},
	"imputado":   {}, "imputada": {},
	"acusado":    {}, "acusada": {},
	"agraviado":  {}, "agraviada": {},
}

// questionStarters are interrogative words that, as the first word of an
// utterance, mark it as a question even without closing punctuation.
// Unaccented forms are included because raw transcripts often drop accents.
var questionStarters = map[string]struct{}{
	"qué": {}, "que": {},
	"cómo": {}, "como": {},
	"cuándo": {}, "cuando": {},
	"dónde": {}, "donde": {},
	"quién": {}, "quien": {},
	"cuál": {}, "cual": {},
	"cuánto": {}, "cuanto": {}, "cuánta": {}, "cuántos": {}, "cuántas": {},
	"acaso":    {},
	"puede":    {},
	"podría":   {},
	"sabe":     {},
	"conoce":   {},
	"recuerda": {},
	"entiende": {},
	"confirma": {},
	"niega":    {},
	"reconoce": {},
	"acepta":   {},
}

// questionPatterns are interrogative phrases matched anywhere in the
// utterance, typical of examination questions in Peruvian hearings.
var questionPatterns = []string{
	"es cierto que",
	"verdad que",
	"puede indicar",
	"podría decir",
	"sabe usted",
	"recuerda usted",
	"conoce usted",
	"por qué",
	"para qué",
}

// Clean normalizes an utterance for the final transcript: collapses
// whitespace, tightens punctuation spacing, capitalizes sentence starts and
// courtroom roles, and prepends the opening question or exclamation mark when
// only the closing one is present.
func Clean(text string) string {
	t := strings.Join(strings.Fields(text), " ")
	if t == "" {
		return ""
	}
	t = tightenPunct(t)
	t = capitalizeSentences(t)
	t = capitalizeRoles(t)
	return pairPunct(t)
}

// IsQuestion reports whether text reads as an interrogative: closing or
// opening question marks, an interrogative first word, or an examination
// phrase anywhere in the utterance.
func IsQuestion(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	if strings.ContainsRune(t, '¿') || strings.HasSuffix(strings.TrimRight(t, "\"'»)"), "?") {
		return true
	}
	lower := strings.ToLower(t)
	for _, p := range questionPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	first := strings.Trim(strings.ToLower(strings.Fields(t)[0]), edgePunct)
	_, ok := questionStarters[first]
	return ok
}

// tightenPunct removes spaces before closing punctuation and inserts the
// missing space after a sentence end glued to the next word. Digits after a
// period are left alone so numerals survive.
func tightenPunct(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == ' ' && i+1 < len(runes) && strings.ContainsRune(".,;:?!", runes[i+1]) {
			continue
		}
		b.WriteRune(r)
		if strings.ContainsRune(".?!", r) && i+1 < len(runes) && unicode.IsLetter(runes[i+1]) {
			b.WriteRune(' ')
		}
	}
	return b.String()
}

// capitalizeSentences uppercases the first letter of the text and of every
// sentence following terminal punctuation. A rune scan is used instead of a
// regexp because RE2 word boundaries are ASCII-only and mishandle accented
// Spanish letters.
func capitalizeSentences(s string) string {
	runes := []rune(s)
	capNext := true
	for i, r := range runes {
		if capNext && unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			capNext = false
		}
		switch r {
		case '.':
			// A period followed by a digit is a numeral separator, not a
			// sentence end.
			if i+1 >= len(runes) || !unicode.IsDigit(runes[i+1]) {
				capNext = true
			}
		case '?', '!', '…':
			capNext = true
		}
	}
	return string(runes)
}

// capitalizeRoles uppercases the first letter of every courtroom role word.
func capitalizeRoles(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		core := strings.Trim(strings.ToLower(f), edgePunct)
		if _, ok := roleWords[core]; !ok {
			continue
		}
		fields[i] = upperFirstLetter(f)
	}
	return strings.Join(fields, " ")
}

func upperFirstLetter(s string) string {
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			break
		}
	}
	return string(runes)
}

// pairPunct prepends the Spanish opening mark when the utterance closes with
// a question or exclamation mark but carries no opening one. The ¿ is only
// added when the utterance leads with a recognized interrogative word;
// statements that merely end in "?" are left for the scribe to settle.
func pairPunct(s string) string {
	trimmed := strings.TrimRight(s, "\"'»)")
	switch {
	case strings.HasSuffix(trimmed, "?") && !strings.ContainsRune(s, '¿'):
		if !startsInterrogative(s) {
			return s
		}
		return "¿" + s
	case strings.HasSuffix(trimmed, "!") && !strings.ContainsRune(s, '¡'):
		return "¡" + s
	}
	return s
}

// startsInterrogative reports whether the first word of s is a recognized
// interrogative.
func startsInterrogative(s string) bool {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return false
	}
	first := strings.Trim(strings.ToLower(fields[0]), edgePunct)
	_, ok := questionStarters[first]
	return ok
}

// localFormat is the degraded enhancement path used when the oracle is
// unreachable: tidy the raw text and make sure it ends a sentence.
func localFormat(text string) string {
	t := Clean(text)
	if t == "" {
		return t
	}
	trimmed := strings.TrimRight(t, "\"'»)")
	if trimmed == "" {
		return t
	}
	last := []rune(trimmed)[len([]rune(trimmed))-1]
	if !strings.ContainsRune(".?!…", last) {
		t += "."
	}
	return t
}
