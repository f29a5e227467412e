package consolidate

import "strings"

// shortResponses are utterances that are complete on their own regardless of
// length. Courtroom exchanges are full of these one-breath answers.
var shortResponses = map[string]struct{}{
	"sí":          {},
	"no":          {},
	"correcto":    {},
	"incorrecto":  {},
	"niego":       {},
	"me opongo":   {},
	"así es":      {},
	"conforme":    {},
	"de acuerdo":  {},
	"entendido":   {},
	"afirmativo":  {},
	"negativo":    {},
	"no recuerdo": {},
	"nada más":    {},
	"ninguna":     {},
	"sí señor":    {},
	"no señor":    {},
	"sí señoría":  {},
	"no señoría":  {},
	"con permiso": {},
}

// connectors are words that never end a finished Spanish sentence. A segment
// whose last word is one of these is still mid-thought, whatever the ASR
// punctuation says.
var connectors = map[string]struct{}{
	"que": {}, "para": {}, "y": {}, "o": {}, "si": {}, "pero": {},
	"cuando": {}, "porque": {}, "a": {}, "de": {}, "con": {},
	"el": {}, "la": {}, "los": {}, "las": {}, "un": {}, "una": {},
	"unos": {}, "unas": {}, "al": {}, "del": {}, "en": {}, "por": {},
	"sin": {}, "sobre": {}, "entre": {}, "hacia": {}, "hasta": {},
	"según": {}, "ante": {}, "tras": {}, "durante": {}, "mediante": {},
	"ni": {}, "u": {}, "e": {}, "mi": {}, "su": {}, "lo": {},
	"se": {}, "le": {}, "les": {}, "me": {}, "nos": {},
	"es": {}, "fue": {}, "como": {}, "más": {}, "muy": {},
}

// runOnWordLimit is the word count past which an unpunctuated segment is
// treated as complete anyway. ASR drops sentence punctuation often enough
// that waiting for it on long utterances just delays the flush.
const runOnWordLimit = 15

// LooksIncomplete reports whether text appears to be a partial thought that
// should keep accumulating. The checks run cheapest-first:
//
//  1. Known short responses are complete.
//  2. A trailing connector word means mid-thought, even with punctuation.
//  3. Terminal punctuation (. ? ! …) means complete.
//  4. Past runOnWordLimit words, unpunctuated text is complete anyway.
//
// Anything else is presumed incomplete.
func LooksIncomplete(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return true
	}
	if IsShortResponse(t) {
		return false
	}
	if EndsWithConnector(t) {
		return true
	}
	if endsWithTerminal(t) {
		return false
	}
	return WordCount(t) <= runOnWordLimit
}

// IsShortResponse reports whether text (ignoring case and edge punctuation)
// is a known self-contained courtroom response.
func IsShortResponse(text string) bool {
	norm := strings.ToLower(strings.Trim(strings.TrimSpace(text), edgePunct))
	_, ok := shortResponses[norm]
	return ok
}

// EndsWithConnector reports whether the last word of text (ignoring case and
// trailing punctuation) is a connector that cannot close a sentence.
func EndsWithConnector(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	last := strings.ToLower(strings.Trim(fields[len(fields)-1], edgePunct))
	_, ok := connectors[last]
	return ok
}

// WordCount returns the number of whitespace-delimited words in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

const edgePunct = ".,;:!?¿¡\"'«»"

// endsWithTerminal reports whether text ends in sentence-closing punctuation.
func endsWithTerminal(text string) bool {
	t := strings.TrimRight(text, "\"'»")
	if t == "" {
		return false
	}
	switch t[len(t)-1] {
	case '.', '?', '!':
		return true
	}
	return strings.HasSuffix(t, "…")
}
