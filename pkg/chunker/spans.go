package chunker

import (
	"unicode"
)

// span is a half-open rune range [start, end) of the source text.
type span struct {
	start int
	end   int
}

func (s span) len() int { return s.end - s.start }

func isSpace(r rune) bool { return unicode.IsSpace(r) }

// fixedSpans slides a maxChars window over s. A cut that lands inside a word moves back to the
// nearest preceding space. Each step goes back overlapChars, and always moves forward.
func fixedSpans(text []rune, s span, maxChars, overlapChars int) []span {
	if s.len() <= 0 {
		return nil
	}
	if overlapChars >= maxChars {
		overlapChars = 0
	}

	var out []span
	pos := s.start
	for pos < s.end {
		stop := pos + maxChars
		if stop >= s.end {
			out = append(out, span{pos, s.end})
			break
		}
		if !isSpace(text[stop]) && !isSpace(text[stop-1]) {
			for k := stop - 1; k > pos; k-- {
				if isSpace(text[k]) {
					stop = k
					break
				}
			}
		}
		out = append(out, span{pos, stop})

		next := stop - overlapChars
		if next <= pos {
			next = stop
		}
		if next < stop && next > 0 && !isSpace(text[next-1]) {
			for k := next; k < stop; k++ {
				if isSpace(text[k]) {
					next = k + 1
					break
				}
			}
		}
		pos = next
	}
	return out
}

// splitAfter cuts s after every occurrence of sep. Separators stay with the preceding unit.
func splitAfter(text []rune, s span, sep []rune) []span {
	var out []span
	start := s.start
	for i := s.start; i+len(sep) <= s.end; {
		if matchAt(text, i, sep) {
			end := i + len(sep)
			out = append(out, span{start, end})
			start = end
			i = end
			continue
		}
		i++
	}
	if start < s.end {
		out = append(out, span{start, s.end})
	}
	return out
}

func matchAt(text []rune, i int, sep []rune) bool {
	for j, r := range sep {
		if text[i+j] != r {
			return false
		}
	}
	return true
}

// sentenceUnits ends a unit after ., ! or ? followed by whitespace.
func sentenceUnits(text []rune, s span) []span {
	var out []span
	start := s.start
	for i := s.start; i < s.end; i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 < s.end && isSpace(text[i+1]) {
				out = append(out, span{start, i + 1})
				start = i + 1
			}
		}
	}
	if start < s.end {
		out = append(out, span{start, s.end})
	}
	return nonBlank(text, out)
}

// paragraphUnits ends a unit at each blank line.
func paragraphUnits(text []rune, s span) []span {
	var out []span
	start := s.start
	for i := s.start; i < s.end; i++ {
		if text[i] != '\n' {
			continue
		}
		j := i + 1
		for j < s.end && text[j] != '\n' && isSpace(text[j]) {
			j++
		}
		if j < s.end && text[j] == '\n' {
			out = append(out, span{start, j + 1})
			start = j + 1
			i = j
		}
	}
	if start < s.end {
		out = append(out, span{start, s.end})
	}
	return nonBlank(text, out)
}

func lineUnits(text []rune, s span) []span {
	return nonBlank(text, splitAfter(text, s, []rune("\n")))
}

func nonBlank(text []rune, spans []span) []span {
	out := spans[:0]
	for _, sp := range spans {
		for i := sp.start; i < sp.end; i++ {
			if !isSpace(text[i]) {
				out = append(out, sp)
				break
			}
		}
	}
	return out
}

// pack greedily merges consecutive units while the merged span stays within maxChars. A unit
// larger than maxChars on its own is fixed-size split.
func pack(text []rune, units []span, maxChars, overlapChars int) []span {
	var out []span
	var cur *span
	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}
	for _, u := range units {
		if u.len() > maxChars {
			flush()
			out = append(out, fixedSpans(text, u, maxChars, overlapChars)...)
			continue
		}
		if cur == nil {
			c := u
			cur = &c
			continue
		}
		if u.end-cur.start <= maxChars {
			cur.end = u.end
			continue
		}
		flush()
		c := u
		cur = &c
	}
	flush()
	return out
}

var recursiveSeparators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(". "),
	[]rune(", "),
	[]rune(" "),
}

func recursiveSpans(text []rune, s span, seps [][]rune, maxChars, overlapChars int) []span {
	if s.len() <= maxChars {
		return []span{s}
	}
	if len(seps) == 0 {
		return fixedSpans(text, s, maxChars, overlapChars)
	}

	units := splitAfter(text, s, seps[0])
	if len(units) <= 1 {
		return recursiveSpans(text, s, seps[1:], maxChars, overlapChars)
	}

	var out []span
	var cur *span
	for _, u := range units {
		if cur != nil && u.end-cur.start <= maxChars {
			cur.end = u.end
			continue
		}
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
		if u.len() <= maxChars {
			c := u
			cur = &c
			continue
		}
		out = append(out, recursiveSpans(text, u, seps[1:], maxChars, overlapChars)...)
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}
