package retrieval

import (
	"strings"
	"unicode"
)

var interrogatives = map[string]bool{
	// English
	"what": true, "what's": true, "how": true, "why": true, "when": true, "where": true,
	"who": true, "whom": true, "which": true, "whose": true, "is": true, "are": true,
	"can": true, "could": true, "do": true, "does": true, "did": true, "should": true,
	"would": true, "will": true,
	// French
	"que": true, "quoi": true, "quel": true, "quelle": true, "quels": true, "quelles": true,
	"comment": true, "pourquoi": true, "quand": true, "où": true, "qui": true,
	"combien": true, "est-ce": true, "qu'est-ce": true, "lequel": true, "laquelle": true,
	"peut-on": true, "faut-il": true,
}

// Simplify strips leading interrogative words and terminal punctuation from a query. A query made
// only of interrogatives keeps its last word.
func Simplify(query string) string {
	words := strings.Fields(query)
	for len(words) > 1 && interrogatives[strings.ToLower(strings.Trim(words[0], ",;:"))] {
		words = words[1:]
	}
	out := strings.Join(words, " ")
	return strings.TrimRightFunc(out, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune("?!.;:…", r)
	})
}
