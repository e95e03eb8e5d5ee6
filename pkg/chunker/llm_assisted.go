package chunker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rrbip/batirama-connect-sub002/pkg/llm"
	"github.com/rrbip/batirama-connect-sub002/pkg/ragerr"
)

const windowPromptTemplate = `You split documents into self-contained knowledge units for a search index.

Split the TEXT below into coherent chunks. Keep the original wording; do not summarize inside "content".
Each chunk should cover a single topic and stay under %d words.

Known categories: %s
Reuse a known category when one fits. If none fits, invent a short category name and list it in "new_categories".

Answer with JSON only, using exactly this schema:
{
  "chunks": [
    {"content": "verbatim text of the chunk", "keywords": ["..."], "summary": "one sentence", "category": "category name"}
  ],
  "new_categories": [
    {"name": "category name", "description": "what belongs in it"}
  ]
}

TEXT:
%s`

type window struct {
	first int // word index, inclusive
	last  int // word index, exclusive
}

func (w window) words() int { return w.last - w.first }

type windowResponse struct {
	Chunks        *[]llmChunk   `json:"chunks"`
	NewCategories []NewCategory `json:"new_categories"`
}

// llmChunk accepts both field spellings the model is known to produce.
type llmChunk struct {
	Content   string      `json:"content"`
	Keywords  flexStrings `json:"keywords"`
	Tags      flexStrings `json:"tags"`
	Summary   string      `json:"summary"`
	Resume    string      `json:"resume"`
	Category  string      `json:"category"`
	Categorie string      `json:"categorie"`
}

func (c llmChunk) keywords() []string {
	if len(c.Keywords) > 0 {
		return c.Keywords
	}
	return c.Tags
}

func (c llmChunk) summary() string {
	if c.Summary != "" {
		return c.Summary
	}
	return c.Resume
}

func (c llmChunk) category() string {
	if c.Category != "" {
		return c.Category
	}
	return c.Categorie
}

// flexStrings decodes a JSON array of strings or a single comma separated string.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = cleanStrings(list)
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*f = cleanStrings(strings.Split(single, ","))
	return nil
}

func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func wordSpans(text []rune) []span {
	var out []span
	start := -1
	for i, r := range text {
		if isSpace(r) {
			if start >= 0 {
				out = append(out, span{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, span{start, len(text)})
	}
	return out
}

// slidingWindows returns word windows of WindowWords words stepping by the overlap. A tail
// shorter than MinWindowWords is folded into the preceding window.
func slidingWindows(n int, s Settings) []window {
	size := s.windowWords()
	step := size - size*s.OverlapPercent/100
	if step < 1 {
		step = 1
	}

	var out []window
	for start := 0; start < n; start += step {
		end := start + size
		if end >= n || n-end < s.MinWindowWords {
			end = n
		}
		out = append(out, window{first: start, last: end})
		if end == n {
			break
		}
	}
	return out
}

// parseWindowResponse tolerates a code fence or prose around the JSON object.
func parseWindowResponse(raw string) (*windowResponse, error) {
	body := strings.TrimSpace(raw)
	if strings.HasPrefix(body, "```") {
		if nl := strings.Index(body, "\n"); nl >= 0 {
			body = body[nl+1:]
		}
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}

	first := strings.Index(body, "{")
	last := strings.LastIndex(body, "}")
	if first < 0 || last < first {
		return nil, fmt.Errorf("%w: no JSON object found", ErrInvalidLLMResponse)
	}

	var resp windowResponse
	if err := json.Unmarshal([]byte(body[first:last+1]), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLLMResponse, err)
	}
	if resp.Chunks == nil {
		return nil, fmt.Errorf("%w: missing \"chunks\" field", ErrInvalidLLMResponse)
	}
	return &resp, nil
}

type categorySet struct {
	known map[string]string // lower-cased name -> canonical name
	added []NewCategory
}

func newCategorySet(known []string) *categorySet {
	set := &categorySet{known: make(map[string]string, len(known))}
	for _, name := range known {
		if name = strings.TrimSpace(name); name != "" {
			set.known[strings.ToLower(name)] = name
		}
	}
	return set
}

// resolve returns the canonical spelling, registering unseen names as new categories.
func (s *categorySet) resolve(name, description string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	key := strings.ToLower(name)
	if canonical, ok := s.known[key]; ok {
		for i := range s.added {
			if strings.EqualFold(s.added[i].Name, canonical) && s.added[i].Description == "" {
				s.added[i].Description = strings.TrimSpace(description)
			}
		}
		return canonical
	}
	s.known[key] = name
	s.added = append(s.added, NewCategory{Name: name, Description: strings.TrimSpace(description)})
	return name
}

func (c *Chunker) chunkWithLLM(ctx context.Context, text []rune, settings Settings) (*Result, error) {
	if c.llm == nil {
		return nil, ragerr.New(ragerr.KindChunking, "chunk", ErrNoLLM)
	}

	words := wordSpans(text)
	windows := slidingWindows(len(words), settings)
	categories := newCategorySet(settings.KnownCategories)
	maxChars := settings.MaxTokens * 4
	result := &Result{}
	lastStart := 0

	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, ragerr.New(ragerr.KindChunking, "chunk", err)
		}
		if w.words() < settings.MinWindowWords {
			result.WindowErrors = append(result.WindowErrors, WindowError{
				Window: i,
				Err:    fmt.Errorf("%w: %d < %d", ErrWindowTooSmall, w.words(), settings.MinWindowWords),
			})
			continue
		}

		winSpan := span{words[w.first].start, words[w.last-1].end}
		windowText := string(text[winSpan.start:winSpan.end])
		prompt := fmt.Sprintf(windowPromptTemplate, settings.MaxTokens*3/4, knownList(categories), windowText)

		raw, err := c.llm.Generate(ctx, prompt, llm.WithJSON(), llm.WithTemperature(0.2))
		if err != nil {
			c.recordWindowError(result, i, fmt.Errorf("llm call: %w", err))
			continue
		}
		parsed, err := parseWindowResponse(raw)
		if err != nil {
			c.recordWindowError(result, i, err)
			continue
		}

		for _, nc := range parsed.NewCategories {
			categories.resolve(nc.Name, nc.Description)
		}

		for _, ch := range *parsed.Chunks {
			content := strings.TrimSpace(ch.Content)
			if content == "" {
				continue
			}
			start, end, exact := locate(text, winSpan, content, lastStart)

			base := Chunk{
				Summary:  strings.TrimSpace(ch.summary()),
				Keywords: ch.keywords(),
				Category: categories.resolve(ch.category(), ""),
			}
			for _, piece := range splitOversize([]rune(content), maxChars) {
				chunk := base
				chunk.Index = len(result.Chunks)
				chunk.Content = piece.Content
				chunk.TokenCount = piece.TokenCount
				chunk.StartOffset, chunk.EndOffset = start, end
				if exact {
					chunk.StartOffset = start + piece.StartOffset
					chunk.EndOffset = start + piece.EndOffset
				}
				result.Chunks = append(result.Chunks, chunk)
				lastStart = chunk.StartOffset
			}
		}
	}

	result.NewCategories = categories.added

	if len(result.Chunks) == 0 {
		err := fmt.Errorf("%w: %d windows failed", ErrNoChunks, len(result.WindowErrors))
		if len(result.WindowErrors) > 0 {
			err = fmt.Errorf("%w: %s", err, joinErrors(result.WindowErrors))
		}
		return nil, ragerr.New(ragerr.KindChunking, "chunk", err)
	}
	return result, nil
}

func (c *Chunker) recordWindowError(result *Result, window int, err error) {
	result.WindowErrors = append(result.WindowErrors, WindowError{Window: window, Err: err})
	c.logger.Warn("CHUNKER", "Window failed", map[string]interface{}{
		"window": window,
		"error":  err.Error(),
	})
}

func knownList(set *categorySet) string {
	if len(set.known) == 0 {
		return "(none yet)"
	}
	names := make([]string, 0, len(set.known))
	for _, name := range set.known {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// locate finds content inside the window at or after minStart. When the model rewrote the text,
// the window bounds are used instead.
func locate(text []rune, win span, content string, minStart int) (int, int, bool) {
	from := win.start
	if minStart > from {
		from = minStart
	}
	if from < win.end {
		haystack := string(text[from:win.end])
		if idx := strings.Index(haystack, content); idx >= 0 {
			start := from + utf8.RuneCountInString(haystack[:idx])
			return start, start + utf8.RuneCountInString(content), true
		}
	}

	end := win.end
	if end < from {
		end = from
	}
	return from, end, false
}

func splitOversize(content []rune, maxChars int) []Chunk {
	whole := span{0, len(content)}
	if whole.len() <= maxChars {
		return buildChunks(content, []span{whole})
	}
	return buildChunks(content, fixedSpans(content, whole, maxChars, 0))
}
