package grading

import "sort"

// Topics buckets subject topics by how the student did on them.
// A topic appears in at most one bucket.
type Topics struct {
	Correct       []string `json:"correct_topics" yaml:"correct_topics"`
	Wrong         []string `json:"wrong_topics" yaml:"wrong_topics"`
	Controversial []string `json:"controversial_topics" yaml:"controversial_topics"`
}

// BucketTopics moves topics present in both wrong and correct into
// Controversial and removes them from the other two. Each bucket is
// deduplicated and sorted; blank topics are ignored.
func BucketTopics(wrong, correct []string) Topics {
	w := toSet(wrong)
	c := toSet(correct)

	var t Topics
	for topic := range w {
		if c[topic] {
			t.Controversial = append(t.Controversial, topic)
		} else {
			t.Wrong = append(t.Wrong, topic)
		}
	}
	for topic := range c {
		if !w[topic] {
			t.Correct = append(t.Correct, topic)
		}
	}
	sort.Strings(t.Correct)
	sort.Strings(t.Wrong)
	sort.Strings(t.Controversial)
	return t
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		if s != "" {
			set[s] = true
		}
	}
	return set
}
