package spans

// QAPair associates an answer span with the question pending before it.
// A nil Question marks an orphan answer.
type QAPair struct {
	Page     int     `json:"page" yaml:"page"`
	Question *string `json:"question" yaml:"question"`
	Answer   string  `json:"answer" yaml:"answer"`
}

// Orphan reports whether the answer had no pending question.
func (p QAPair) Orphan() bool {
	return p.Question == nil
}

// BuildPairs scans one page's spans in order. A QUESTION span becomes the
// pending question, replacing any unanswered one. An ANSWER span is paired
// with the pending question, which is then consumed; with none pending the
// answer is kept as an orphan.
func BuildPairs(page int, spans []LabeledSpan) []QAPair {
	var (
		out     []QAPair
		pending *string
	)
	for _, s := range spans {
		switch s.Category {
		case Question:
			q := s.Text
			pending = &q
		case Answer:
			out = append(out, QAPair{Page: page, Question: pending, Answer: s.Text})
			pending = nil
		}
	}
	return out
}
