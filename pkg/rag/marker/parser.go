package marker

import (
	"strings"
)

// Kind tells whether an answer is grounded in retrieved documents or is the model's own suggestion.
type Kind string

const (
	KindDocumented Kind = "documented"
	KindSuggestion Kind = "suggestion"
	KindUnknown    Kind = "unknown"
)

// Tags the model is instructed to emit. Matching is case-insensitive.
const (
	TagDocumented = "[DOCUMENTED]"
	TagSuggestion = "[SUGGESTION]"
	TagBlockOpen  = "[BLOCK]"
	TagBlockClose = "[/BLOCK]"
)

// maxTagLen bounds how far the scanner looks for a closing bracket.
const maxTagLen = 64

var kindAliases = map[string]Kind{
	"documented": KindDocumented,
	"documente":  KindDocumented,
	"documenté":  KindDocumented,
	"suggestion": KindSuggestion,
}

type Block struct {
	Title   string
	Content string
}

// Parsed is the typed reading of a model answer.
type Parsed struct {
	Original string
	Text     string // answer with every recognized tag removed
	Kind     Kind
	Blocks   []Block
}

// Parse reads marker tags out of a model answer.
// Grammar:
//   - [DOCUMENTED] / [SUGGESTION] anywhere: the first one sets Kind, all are removed
//   - [BLOCK] or [BLOCK:title] ... [/BLOCK]: a typed block; an unclosed block runs to the end
//   - any other bracketed text is kept literally
func Parse(answer string) *Parsed {
	p := &Parsed{Original: answer, Kind: KindUnknown}

	var text strings.Builder
	var block *Block
	var blockText strings.Builder

	flush := func() {
		if block == nil {
			return
		}
		block.Content = strings.TrimSpace(blockText.String())
		p.Blocks = append(p.Blocks, *block)
		block = nil
		blockText.Reset()
	}
	write := func(s string) {
		text.WriteString(s)
		if block != nil {
			blockText.WriteString(s)
		}
	}

	rest := answer
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '[')
		if open < 0 {
			write(rest)
			break
		}
		write(rest[:open])
		rest = rest[open:]

		closeIdx := strings.IndexByte(rest, ']')
		if closeIdx < 0 || closeIdx > maxTagLen {
			write(rest[:1])
			rest = rest[1:]
			continue
		}
		name := strings.TrimSpace(rest[1:closeIdx])
		lower := strings.ToLower(name)

		switch {
		case kindAliases[lower] != "":
			if p.Kind == KindUnknown {
				p.Kind = kindAliases[lower]
			}
		case lower == "block" || strings.HasPrefix(lower, "block:"):
			flush()
			block = &Block{}
			if i := strings.IndexByte(name, ':'); i >= 0 {
				block.Title = strings.TrimSpace(name[i+1:])
			}
		case lower == "/block":
			flush()
		default:
			write(rest[:closeIdx+1])
		}
		rest = rest[closeIdx+1:]
	}
	flush()

	p.Text = tidy(text.String())
	return p
}

// IsDocumented reports whether the answer declared itself grounded in documents.
func (p *Parsed) IsDocumented() bool {
	return p.Kind == KindDocumented
}

// Instructions is the prompt fragment that asks the model for the tags Parse understands.
func Instructions() string {
	var sb strings.Builder
	sb.WriteString("Start your answer with " + TagDocumented + " when it is based on the reference material,\n")
	sb.WriteString("or with " + TagSuggestion + " when the material does not cover the question and you answer from general knowledge.\n")
	sb.WriteString("When the answer has several distinct parts, wrap each part in " + TagBlockOpen + " ... " + TagBlockClose + ",\n")
	sb.WriteString("optionally titled as [BLOCK:title].")
	return sb.String()
}

// tidy trims lines and caps blank-line runs left behind by removed tags.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
