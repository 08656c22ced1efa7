// Package spans turns token-level classifier output into labeled text spans
// and pairs those spans into question/answer records.
package spans

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackzampolin/grader/internal/providers"
)

// Category is the semantic class of a token or span.
type Category string

const (
	Question Category = "QUESTION"
	Answer   Category = "ANSWER"
	Other    Category = "OTHER"
)

// Labels the classifier is expected to emit. Aggregated pipelines report
// bare entity groups, so QUESTION and ANSWER are accepted as well.
var knownLabels = map[string]Category{
	"O":          Other,
	"B-QUESTION": Question,
	"I-QUESTION": Question,
	"B-ANSWER":   Answer,
	"I-ANSWER":   Answer,
	"QUESTION":   Question,
	"ANSWER":     Answer,
}

// ErrClassifierContract marks structurally malformed classifier output.
var ErrClassifierContract = errors.New("classifier contract violated")

// ClassifierContractError describes the first malformed token found.
type ClassifierContractError struct {
	Index  int // Token index, -1 when not token specific
	Reason string
}

func (e *ClassifierContractError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%v: %s", ErrClassifierContract, e.Reason)
	}
	return fmt.Sprintf("%v: token %d: %s", ErrClassifierContract, e.Index, e.Reason)
}

func (e *ClassifierContractError) Unwrap() error { return ErrClassifierContract }

// LabeledToken is one classified token. Start and End are character (rune)
// offsets into the page text.
type LabeledToken struct {
	Text     string   `json:"text"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
	Category Category `json:"category"`
}

// MapLabel maps a raw classifier label onto a Category.
func MapLabel(label string) (Category, bool) {
	c, ok := knownLabels[strings.ToUpper(strings.TrimSpace(label))]
	return c, ok
}

// FromPredictions validates raw classifier output against text and converts
// it to LabeledTokens. Only structure is checked: offsets must lie inside
// text, tokens must not run backwards or overlap, and every label must be
// known. Zero-width tokens are special tokens and are dropped. Token text is
// re-read from text by offset.
func FromPredictions(text string, preds []providers.TokenPrediction) ([]LabeledToken, error) {
	runes := []rune(text)
	n := len(runes)

	tokens := make([]LabeledToken, 0, len(preds))
	prevEnd := 0
	for i, p := range preds {
		if p.Start < 0 || p.End > n || p.Start > p.End {
			return nil, &ClassifierContractError{
				Index:  i,
				Reason: fmt.Sprintf("offsets [%d,%d) outside text of length %d", p.Start, p.End, n),
			}
		}
		cat, ok := MapLabel(p.Label)
		if !ok {
			return nil, &ClassifierContractError{Index: i, Reason: fmt.Sprintf("unknown label %q", p.Label)}
		}
		if p.Start == p.End {
			continue
		}
		if p.Start < prevEnd {
			return nil, &ClassifierContractError{
				Index:  i,
				Reason: fmt.Sprintf("token starts at %d before previous token end %d", p.Start, prevEnd),
			}
		}
		prevEnd = p.End

		tokens = append(tokens, LabeledToken{
			Text:     string(runes[p.Start:p.End]),
			Start:    p.Start,
			End:      p.End,
			Category: cat,
		})
	}
	return tokens, nil
}
