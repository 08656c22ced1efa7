package prompts

// Item is one numbered entry in a prompt list. Number is 1-based.
type Item struct {
	Number int
	Text   string
}

// Number turns texts into 1-based numbered items.
func Number(texts []string) []Item {
	items := make([]Item, len(texts))
	for i, t := range texts {
		items[i] = Item{Number: i + 1, Text: t}
	}
	return items
}

// StringArraySchema accepts a JSON array whose items are all strings.
const StringArraySchema = `{"type":"array","items":{"type":"string"}}`
