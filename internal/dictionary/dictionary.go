// Package dictionary implements lexical correction of ASR output against a
// curated glossary of legal terminology.
//
// Matching proceeds in two stages per token:
//
//  1. Variant lookup: each glossary entry carries a list of known ASR
//     misrecognitions ("sobre seguimiento" → "sobreseimiento"). An exact
//     variant hit yields a high-confidence correction.
//
//  2. Phonetic fuzzy matching: tokens that miss the variant table are encoded
//     with a Spanish-adapted Soundex; glossary entries whose leading word's
//     code lies within edit distance one of the token's code become
//     candidates, ranked by normalized Levenshtein similarity against that
//     leading word.
//
// Tokens shorter than four letters are never corrected, and tokens that
// already match a canonical term are left alone. The Dictionary is read-only
// after construction and safe for concurrent use.
package dictionary

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	// variantConfidence is assigned to exact variant-table hits.
	variantConfidence = 0.95

	// fuzzyThreshold is the minimum normalized Levenshtein similarity for a
	// phonetic candidate to be accepted.
	fuzzyThreshold = 0.65

	// minTokenLen is the minimum rune count (after punctuation stripping)
	// for a token to be considered for correction. Short function words are
	// too ambiguous to correct safely.
	minTokenLen = 4

	// tokenPunct is stripped from token edges before matching.
	tokenPunct = ".,;:!?¿¡\"'«»()"
)

// Entry is a single glossary term with its known misrecognitions.
type Entry struct {
	// Canonical is the correct form of the term (e.g., "sobreseimiento").
	Canonical string `json:"canonical"`

	// Category groups the term (e.g., "procesal", "penal", "institución").
	Category string `json:"category"`

	// Context is a short usage note shown alongside corrections.
	Context string `json:"context,omitempty"`

	// Variants lists known ASR misrecognitions of this term, lowercased.
	Variants []string `json:"variants,omitempty"`
}

// Correction describes a single suggested replacement within a text.
type Correction struct {
	// Original is the token as it appeared (punctuation stripped).
	Original string `json:"original"`

	// Suggested is the canonical replacement.
	Suggested string `json:"suggested"`

	// Confidence is the match confidence (0.0–1.0].
	Confidence float64 `json:"confidence"`

	// Category and Context come from the matched glossary entry.
	Category string `json:"category"`
	Context  string `json:"context,omitempty"`

	// Start and End are byte offsets of the original token within the
	// checked text, excluding surrounding punctuation.
	Start int `json:"start"`
	End   int `json:"end"`
}

// termsFile is the on-disk JSON layout.
type termsFile struct {
	Terms []Entry `json:"terms"`
}

// Dictionary holds the glossary and its lookup indexes. Read-only after
// construction.
type Dictionary struct {
	entries []Entry

	// variantIndex maps lowercased variant → entry index.
	variantIndex map[string]int

	// canonicalSet holds lowercased canonical terms and their individual
	// words, so already-correct tokens are skipped.
	canonicalSet map[string]struct{}

	// phoneticIndex maps the Spanish Soundex code of each canonical term's
	// leading word to the entry indexes sharing that code.
	phoneticIndex map[string][]int

	// codes lists the distinct phonetic codes present in phoneticIndex,
	// scanned for near-miss codes during fuzzy matching.
	codes []string
}

// New builds a Dictionary from the given entries. Entries with an empty
// canonical term are rejected.
func New(entries []Entry) (*Dictionary, error) {
	d := &Dictionary{
		entries:       entries,
		variantIndex:  make(map[string]int),
		canonicalSet:  make(map[string]struct{}),
		phoneticIndex: make(map[string][]int),
	}

	for i, e := range entries {
		canonical := strings.TrimSpace(e.Canonical)
		if canonical == "" {
			return nil, fmt.Errorf("dictionary: entry %d has empty canonical term", i)
		}

		lower := strings.ToLower(canonical)
		d.canonicalSet[lower] = struct{}{}
		for _, w := range strings.Fields(lower) {
			d.canonicalSet[w] = struct{}{}
		}

		for _, v := range e.Variants {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "" {
				continue
			}
			if _, dup := d.variantIndex[v]; !dup {
				d.variantIndex[v] = i
			}
		}

		code := phoneticCode(firstWord(lower))
		d.phoneticIndex[code] = append(d.phoneticIndex[code], i)
	}

	d.codes = make([]string, 0, len(d.phoneticIndex))
	for code := range d.phoneticIndex {
		d.codes = append(d.codes, code)
	}
	sort.Strings(d.codes)

	return d, nil
}

// Load reads a glossary JSON file ({"terms": [...]}) and builds a Dictionary.
func Load(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dictionary: read %s: %w", path, err)
	}
	var f termsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("dictionary: parse %s: %w", path, err)
	}
	if len(f.Terms) == 0 {
		return nil, fmt.Errorf("dictionary: %s contains no terms", path)
	}
	return New(f.Terms)
}

// Len returns the number of glossary entries.
func (d *Dictionary) Len() int { return len(d.entries) }

// Keyterms returns the canonical terms, for feeding to ASR vocabulary
// boosting. The returned slice is a copy.
func (d *Dictionary) Keyterms() []string {
	terms := make([]string, 0, len(d.entries))
	for _, e := range d.entries {
		terms = append(terms, e.Canonical)
	}
	return terms
}

// CheckText scans text and returns all suggested corrections in token order.
// The text itself is never modified; see Apply.
func (d *Dictionary) CheckText(text string) []Correction {
	var corrections []Correction
	for _, tok := range tokenize(text) {
		if c, ok := d.checkToken(tok); ok {
			corrections = append(corrections, c)
		}
	}
	return corrections
}

// Apply runs CheckText and substitutes every suggestion into text, preserving
// the leading capitalization of the replaced token. It returns the corrected
// text together with the corrections that were applied.
func (d *Dictionary) Apply(text string) (string, []Correction) {
	corrections := d.CheckText(text)
	if len(corrections) == 0 {
		return text, nil
	}

	// Offsets stay valid by substituting back to front.
	out := text
	for i := len(corrections) - 1; i >= 0; i-- {
		c := corrections[i]
		repl := matchCase(c.Original, c.Suggested)
		out = out[:c.Start] + repl + out[c.End:]
	}
	return out, corrections
}

// Search returns up to limit entries ranked by string similarity between
// query and each entry's canonical term or variants. Entries scoring below
// the fuzzy threshold are excluded.
func (d *Dictionary) Search(query string, limit int) []Entry {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || limit <= 0 {
		return nil
	}

	type scored struct {
		idx   int
		score float64
	}
	var ranked []scored

	for i, e := range d.entries {
		score := matchr.JaroWinkler(query, strings.ToLower(e.Canonical), false)
		if strings.Contains(strings.ToLower(e.Canonical), query) {
			// Substring hits always rank above pure similarity.
			score = 1.0
		}
		for _, v := range e.Variants {
			if s := matchr.JaroWinkler(query, v, false); s > score {
				score = s
			}
		}
		if score >= fuzzyThreshold {
			ranked = append(ranked, scored{idx: i, score: score})
		}
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].score > ranked[b].score
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]Entry, len(ranked))
	for i, s := range ranked {
		out[i] = d.entries[s.idx]
	}
	return out
}

// checkToken evaluates a single token against the glossary.
func (d *Dictionary) checkToken(tok token) (Correction, bool) {
	if utf8.RuneCountInString(tok.core) < minTokenLen {
		return Correction{}, false
	}

	lower := strings.ToLower(tok.core)
	if _, ok := d.canonicalSet[lower]; ok {
		return Correction{}, false
	}

	if i, ok := d.variantIndex[lower]; ok {
		return d.correction(tok, i, variantConfidence), true
	}

	idx, conf, ok := d.fuzzyMatch(lower)
	if !ok {
		return Correction{}, false
	}
	return d.correction(tok, idx, conf), true
}

// fuzzyMatch finds the best phonetic-neighborhood candidate for a lowercased
// token. Candidates are glossary entries whose leading word's phonetic code
// is within edit distance one of the token's code; the winner is the entry
// whose leading word scores the highest normalized Levenshtein similarity
// above the fuzzy threshold.
func (d *Dictionary) fuzzyMatch(lower string) (idx int, confidence float64, ok bool) {
	tokenCode := phoneticCode(lower)

	bestIdx := -1
	bestScore := fuzzyThreshold
	for _, code := range d.codes {
		if matchr.Levenshtein(tokenCode, code) > 1 {
			continue
		}
		for _, i := range d.phoneticIndex[code] {
			// Multi-word terms are matched through their leading word; the
			// suggested replacement is still the full canonical form.
			target := firstWord(strings.ToLower(d.entries[i].Canonical))
			score := similarity(lower, target)
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
	}

	if bestIdx < 0 {
		return 0, 0, false
	}
	return bestIdx, bestScore, true
}

func (d *Dictionary) correction(tok token, idx int, confidence float64) Correction {
	e := d.entries[idx]
	return Correction{
		Original:   tok.core,
		Suggested:  e.Canonical,
		Confidence: confidence,
		Category:   e.Category,
		Context:    e.Context,
		Start:      tok.start,
		End:        tok.end,
	}
}

// firstWord returns s up to the first space.
func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

// similarity is 1 - levenshtein/maxRuneLen, in [0, 1].
func similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	max := la
	if lb > max {
		max = lb
	}
	if max == 0 {
		return 0
	}
	return 1 - float64(matchr.Levenshtein(a, b))/float64(max)
}

// matchCase uppercases the first rune of repl when original leads with an
// uppercase rune.
func matchCase(original, repl string) string {
	or, _ := utf8.DecodeRuneInString(original)
	if !unicode.IsUpper(or) {
		return repl
	}
	rr, size := utf8.DecodeRuneInString(repl)
	if rr == utf8.RuneError {
		return repl
	}
	return string(unicode.ToUpper(rr)) + repl[size:]
}

// token is a whitespace-delimited word with its punctuation-stripped core and
// the core's byte offsets in the source text.
type token struct {
	core  string
	start int
	end   int
}

// tokenize splits text on whitespace and trims edge punctuation, tracking
// byte offsets so corrections can be substituted in place.
func tokenize(text string) []token {
	var toks []token
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				if t, ok := trimToken(text, start, i); ok {
					toks = append(toks, t)
				}
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		if t, ok := trimToken(text, start, len(text)); ok {
			toks = append(toks, t)
		}
	}
	return toks
}

// trimToken strips tokenPunct runes from both edges of text[start:end],
// returning false if nothing remains.
func trimToken(text string, start, end int) (token, bool) {
	word := text[start:end]
	trimmed := strings.TrimLeft(word, tokenPunct)
	start += len(word) - len(trimmed)
	trimmed = strings.TrimRight(trimmed, tokenPunct)
	if trimmed == "" {
		return token{}, false
	}
	return token{core: trimmed, start: start, end: start + len(trimmed)}, true
}
