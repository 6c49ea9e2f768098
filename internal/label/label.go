// Package label turns binary model output into the categories shown to users.
package label

import (
	"fmt"

	"golang.org/x/text/language"

	"claimscore/internal/align"
)

// Vocabulary names the two outcomes.
type Vocabulary struct {
	Fraud    string
	NotFraud string
}

// English is the default vocabulary.
var English = Vocabulary{Fraud: "fraud", NotFraud: "not fraud"}

// French is the vocabulary of the original claims desk export.
var French = Vocabulary{Fraud: "Oui", NotFraud: "Non"}

var (
	supported    = []language.Tag{language.English, language.French}
	vocabularies = []Vocabulary{English, French}
	matcher      = language.NewMatcher(supported)
)

// ForLocale picks the closest supported vocabulary for a BCP 47 locale such
// as "en", "fr-CA" or "fr_BE". Unknown or empty locales fall back to English.
func ForLocale(locale string) Vocabulary {
	if locale == "" {
		return English
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return English
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return English
	}
	return vocabularies[idx]
}

// Label maps a binary prediction to its category.
func (v Vocabulary) Label(p int) string {
	if p == 1 {
		return v.Fraud
	}
	return v.NotFraud
}

// Row is one aligned feature row with its prediction attached.
type Row struct {
	Features   []float64
	Prediction int
	Label      string
}

// Result is the labelled output, 1:1 with the uploaded rows.
type Result struct {
	Columns []string
	Rows    []Row
}

// Labeler attaches labels. The zero value uses English.
type Labeler struct {
	Vocabulary Vocabulary
}

// Attach pairs row i of t with preds[i]. preds must come from the gate for
// this very table; a length mismatch is a programming error and panics.
func (l Labeler) Attach(t *align.Table, preds []int) *Result {
	if len(preds) != len(t.Rows) {
		panic(fmt.Sprintf("label: %d predictions for %d rows", len(preds), len(t.Rows)))
	}
	v := l.Vocabulary
	if v == (Vocabulary{}) {
		v = English
	}

	out := &Result{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([]Row, len(t.Rows)),
	}
	for i, p := range preds {
		out.Rows[i] = Row{Features: t.Rows[i], Prediction: p, Label: v.Label(p)}
	}
	return out
}
