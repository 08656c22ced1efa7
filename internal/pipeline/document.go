package pipeline

import "github.com/jackzampolin/grader/internal/spans"

// Document aggregates the pairs of every successfully processed page, in
// page order. It lives for one FeedbackRoute call.
type Document struct {
	pairs []spans.QAPair
}

// Add appends one page's pairs.
func (d *Document) Add(pairs []spans.QAPair) {
	d.pairs = append(d.pairs, pairs...)
}

// Pairs returns every pair, orphans included.
func (d *Document) Pairs() []spans.QAPair {
	return d.pairs
}

// Answered returns the pairs that have a question.
func (d *Document) Answered() []spans.QAPair {
	var out []spans.QAPair
	for _, p := range d.pairs {
		if !p.Orphan() {
			out = append(out, p)
		}
	}
	return out
}

// Orphans returns answers that had no pending question.
func (d *Document) Orphans() []spans.QAPair {
	var out []spans.QAPair
	for _, p := range d.pairs {
		if p.Orphan() {
			out = append(out, p)
		}
	}
	return out
}
