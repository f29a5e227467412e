package dictionary

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testEntries() []Entry {
	return []Entry{
		{
			Canonical: "sobreseimiento",
			Category:  "procesal",
			Context:   "extinción del proceso penal",
			Variants:  []string{"sobrecimiento", "sobreseguimiento"},
		},
		{
			Canonical: "flagrancia",
			Category:  "penal",
			Variants:  []string{"fragancia"},
		},
		{
			Canonical: "medida de coerción",
			Category:  "procesal",
		},
		{
			Canonical: "vacatio legis",
			Category:  "doctrina",
		},
	}
}

func mustNew(t *testing.T, entries []Entry) *Dictionary {
	t.Helper()
	d, err := New(entries)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

// ---- phonetic encoding ----

func TestPhoneticCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		word string
		want string
	}{
		{"sobreseimiento", "S1625"},
		{"sobresemiento", "S1625"}, // interior vowel loss keeps the code stable
		{"juez", "J0000"},
		{"señoría", "S5600"},
		{"baca", "B2000"},
		{"vaca", "V2000"}, // differs from baca only in the preserved first letter
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := phoneticCode(tt.word); got != tt.want {
			t.Errorf("phoneticCode(%q) = %q, want %q", tt.word, got, tt.want)
		}
	}
}

// ---- CheckText ----

func TestCheckText_VariantHit(t *testing.T) {
	t.Parallel()
	d := mustNew(t, testEntries())

	corrections := d.CheckText("solicito el sobrecimiento de la causa")
	if len(corrections) != 1 {
		t.Fatalf("expected 1 correction, got %d: %v", len(corrections), corrections)
	}

	c := corrections[0]
	if c.Original != "sobrecimiento" {
		t.Errorf("original: got %q", c.Original)
	}
	if c.Suggested != "sobreseimiento" {
		t.Errorf("suggested: got %q", c.Suggested)
	}
	if c.Confidence != variantConfidence {
		t.Errorf("confidence: got %f, want %f", c.Confidence, variantConfidence)
	}
	if c.Category != "procesal" {
		t.Errorf("category: got %q", c.Category)
	}
}

func TestCheckText_PhoneticFuzzy(t *testing.T) {
	t.Parallel()
	d := mustNew(t, testEntries())

	// Not in any variant list; reachable only through the phonetic index.
	corrections := d.CheckText("pido el sobresemiento inmediato")
	if len(corrections) != 1 {
		t.Fatalf("expected 1 correction, got %d: %v", len(corrections), corrections)
	}

	c := corrections[0]
	if c.Suggested != "sobreseimiento" {
		t.Errorf("suggested: got %q", c.Suggested)
	}
	if c.Confidence <= 0.9 || c.Confidence >= variantConfidence {
		t.Errorf("confidence: got %f, want in (0.9, %f)", c.Confidence, variantConfidence)
	}
}

func TestCheckText_MultiWordFuzzyViaFirstWord(t *testing.T) {
	t.Parallel()
	d := mustNew(t, testEntries())

	// "medida de coerción" has no variants; a fuzzy misrecognition of its
	// leading word must still reach it through the phonetic index.
	corrections := d.CheckText("se dictó la medina contra el imputado")
	if len(corrections) != 1 {
		t.Fatalf("expected 1 correction, got %d: %v", len(corrections), corrections)
	}

	c := corrections[0]
	if c.Original != "medina" {
		t.Errorf("original: got %q", c.Original)
	}
	if c.Suggested != "medida de coerción" {
		t.Errorf("suggested: got %q", c.Suggested)
	}
	if c.Confidence <= fuzzyThreshold {
		t.Errorf("confidence: got %f, want above %f", c.Confidence, fuzzyThreshold)
	}
}

func TestCheckText_SkipsShortTokens(t *testing.T) {
	t.Parallel()
	d := mustNew(t, testEntries())

	if got := d.CheckText("el la que de, ¡sí!"); len(got) != 0 {
		t.Errorf("expected no corrections for short tokens, got %v", got)
	}
}

func TestCheckText_SkipsCanonicalTokens(t *testing.T) {
	t.Parallel()
	d := mustNew(t, testEntries())

	// Both the full canonical and the words of a multi-word canonical must
	// pass through untouched.
	if got := d.CheckText("la flagrancia y la coerción del caso"); len(got) != 0 {
		t.Errorf("expected no corrections for canonical tokens, got %v", got)
	}
}

func TestCheckText_Offsets(t *testing.T) {
	t.Parallel()
	d := mustNew(t, testEntries())

	text := "señoría, pido el sobrecimiento."
	corrections := d.CheckText(text)
	if len(corrections) != 1 {
		t.Fatalf("expected 1 correction, got %d", len(corrections))
	}

	c := corrections[0]
	wantStart := strings.Index(text, "sobrecimiento")
	if c.Start != wantStart || c.End != wantStart+len("sobrecimiento") {
		t.Errorf("offsets: got [%d,%d), want [%d,%d)", c.Start, c.End, wantStart, wantStart+len("sobrecimiento"))
	}
	if text[c.Start:c.End] != c.Original {
		t.Errorf("offset slice %q does not match original %q", text[c.Start:c.End], c.Original)
	}
}

// ---- Apply ----

func TestApply_SubstitutesAndPreservesCase(t *testing.T) {
	t.Parallel()
	d := mustNew(t, testEntries())

	got, corrections := d.Apply("Sobrecimiento solicitado por la fragancia.")
	want := "Sobreseimiento solicitado por la flagrancia."
	if got != want {
		t.Errorf("Apply:\n got  %q\n want %q", got, want)
	}
	if len(corrections) != 2 {
		t.Errorf("expected 2 applied corrections, got %d", len(corrections))
	}
}

func TestApply_NoMatches(t *testing.T) {
	t.Parallel()
	d := mustNew(t, testEntries())

	text := "nada que corregir aquí"
	got, corrections := d.Apply(text)
	if got != text {
		t.Errorf("expected text unchanged, got %q", got)
	}
	if corrections != nil {
		t.Errorf("expected nil corrections, got %v", corrections)
	}
}

// ---- Search ----

func TestSearch_SubstringRanksFirst(t *testing.T) {
	t.Parallel()
	d := mustNew(t, testEntries())

	results := d.Search("sobre", 10)
	if len(results) == 0 {
		t.Fatal("expected results for substring query")
	}
	if results[0].Canonical != "sobreseimiento" {
		t.Errorf("expected sobreseimiento first, got %q", results[0].Canonical)
	}
}

func TestSearch_Limit(t *testing.T) {
	t.Parallel()
	d := mustNew(t, testEntries())

	if got := d.Search("a", 0); got != nil {
		t.Errorf("expected nil for zero limit, got %v", got)
	}
	if got := d.Search("", 5); got != nil {
		t.Errorf("expected nil for empty query, got %v", got)
	}
}

func TestSearch_VariantMatch(t *testing.T) {
	t.Parallel()
	d := mustNew(t, testEntries())

	results := d.Search("fragancia", 5)
	if len(results) == 0 {
		t.Fatal("expected results for variant query")
	}
	if results[0].Canonical != "flagrancia" {
		t.Errorf("expected flagrancia first, got %q", results[0].Canonical)
	}
}

// ---- construction / loading ----

func TestNew_EmptyCanonical(t *testing.T) {
	t.Parallel()
	if _, err := New([]Entry{{Canonical: "  "}}); err == nil {
		t.Error("expected error for empty canonical term")
	}
}

func TestKeyterms(t *testing.T) {
	t.Parallel()
	d := mustNew(t, testEntries())

	terms := d.Keyterms()
	if len(terms) != d.Len() {
		t.Fatalf("expected %d keyterms, got %d", d.Len(), len(terms))
	}
	if terms[0] != "sobreseimiento" {
		t.Errorf("expected first keyterm sobreseimiento, got %q", terms[0])
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "terms.json")
	data := `{"terms":[{"canonical":"flagrancia","category":"penal","variants":["fragancia"]}]}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", d.Len())
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	empty := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(empty, []byte(`{"terms":[]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(empty); err == nil {
		t.Error("expected error for empty glossary")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte(`{not json`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("expected error for malformed JSON")
	}
}
