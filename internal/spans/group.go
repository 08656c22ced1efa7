package spans

import "strings"

// LabeledSpan is a contiguous run of same-category tokens.
type LabeledSpan struct {
	Text     string   `json:"text"`
	Category Category `json:"category"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
}

// Group merges consecutive same-category tokens into spans in one pass.
// An OTHER token closes any open span. Token texts are joined with a single
// space. Empty or all-OTHER input yields no spans.
func Group(tokens []LabeledToken) []LabeledSpan {
	var (
		out   []LabeledSpan
		open  Category = Other
		parts []string
		start int
		end   int
	)

	flush := func() {
		if open != Other && len(parts) > 0 {
			out = append(out, LabeledSpan{
				Text:     strings.Join(parts, " "),
				Category: open,
				Start:    start,
				End:      end,
			})
		}
		open = Other
		parts = nil
	}

	for _, tok := range tokens {
		switch {
		case tok.Category == Other:
			flush()
		case tok.Category != open:
			flush()
			open = tok.Category
			parts = []string{tok.Text}
			start, end = tok.Start, tok.End
		default:
			parts = append(parts, tok.Text)
			end = tok.End
		}
	}
	flush()
	return out
}
