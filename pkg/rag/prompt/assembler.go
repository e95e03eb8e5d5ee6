package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rrbip/batirama-connect-sub002/pkg/learning"
	"github.com/rrbip/batirama-connect-sub002/pkg/llm"
	"github.com/rrbip/batirama-connect-sub002/pkg/rag/marker"
	"github.com/rrbip/batirama-connect-sub002/pkg/rag/retrieval"
)

const DefaultSystemPrompt = "You are a knowledgeable assistant answering questions from the reference material you are given."

const DefaultHistoryWindow = 6

// ContextItem is one piece of reference material shown to the model.
type ContextItem struct {
	Title   string
	Source  string
	Score   float64
	Content string
	Details map[string]any
}

type Input struct {
	SystemPrompt  string
	Context       []ContextItem
	History       []llm.Message
	HistoryWindow int // 0 uses DefaultHistoryWindow, negative drops history
	Query         string
	Markers       bool // ask for marker tags in the answer
}

// Assemble renders the input into an ordered message list: system, reference material,
// history window, then the user question. Output depends only on the input.
func Assemble(in Input) []llm.Message {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemSection(in)},
		{Role: llm.RoleSystem, Content: contextSection(in.Context)},
	}
	messages = append(messages, historyWindow(in.History, in.HistoryWindow)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userSection(in.Query)})
	return messages
}

// Render flattens messages for completion-style backends.
func Render(messages []llm.Message) string {
	var sb strings.Builder
	for i, m := range messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strings.ToUpper(m.Role))
		sb.WriteString(":\n")
		sb.WriteString(m.Content)
	}
	sb.WriteString("\n\nASSISTANT:\n")
	return sb.String()
}

func systemSection(in Input) string {
	var sb strings.Builder
	system := strings.TrimSpace(in.SystemPrompt)
	if system == "" {
		system = DefaultSystemPrompt
	}
	sb.WriteString(system)
	sb.WriteString("\n\n<guidelines>\n")
	sb.WriteString("1. Base your answer strictly on the reference material provided\n")
	sb.WriteString("2. Cite the numbered sources you used, e.g. [1]\n")
	sb.WriteString("3. If the material doesn't contain what's being asked, say so honestly\n")
	sb.WriteString("</guidelines>")
	if in.Markers {
		sb.WriteString("\n\n<answer_format>\n")
		sb.WriteString(marker.Instructions())
		sb.WriteString("\n</answer_format>")
	}
	return sb.String()
}

func contextSection(items []ContextItem) string {
	var sb strings.Builder
	sb.WriteString("<reference_material>\n")
	if len(items) == 0 {
		sb.WriteString("No relevant documents were found.\n")
	}
	for i, item := range items {
		fmt.Fprintf(&sb, "[%d]", i+1)
		if item.Title != "" {
			sb.WriteString(" " + item.Title)
		}
		if item.Source != "" {
			sb.WriteString(" (" + item.Source + ")")
		}
		if item.Score > 0 {
			fmt.Fprintf(&sb, " score=%.2f", item.Score)
		}
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(item.Content))
		sb.WriteString("\n")
		writeDetails(&sb, item.Details)
		if i < len(items)-1 {
			sb.WriteString("\n")
		}
	}
	sb.WriteString("</reference_material>")
	return sb.String()
}

// writeDetails renders hydrated fields sorted by key; nested lists are summarized by size.
func writeDetails(sb *strings.Builder, details map[string]any) {
	if len(details) == 0 {
		return
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := details[k].(type) {
		case nil:
			continue
		case []map[string]any:
			fmt.Fprintf(sb, "- %s: %d related record(s)\n", k, len(v))
		default:
			fmt.Fprintf(sb, "- %s: %v\n", k, v)
		}
	}
}

func historyWindow(history []llm.Message, window int) []llm.Message {
	if window < 0 {
		return nil
	}
	if window == 0 {
		window = DefaultHistoryWindow
	}
	var kept []llm.Message
	for _, m := range history {
		if m.Role == llm.RoleSystem || strings.TrimSpace(m.Content) == "" {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > window {
		kept = kept[len(kept)-window:]
	}
	return kept
}

func userSection(query string) string {
	return "<user_question>\n" + strings.TrimSpace(query) + "\n</user_question>"
}

// FromHits converts retrieval hits into context items, keeping their rank order.
func FromHits(hits []retrieval.Hit) []ContextItem {
	items := make([]ContextItem, 0, len(hits))
	for _, h := range hits {
		items = append(items, ContextItem{
			Title:   payloadString(h.Payload, "title", "document_title"),
			Source:  payloadString(h.Payload, "source_type"),
			Score:   h.Score,
			Content: h.Content,
			Details: h.Hydrated,
		})
	}
	return items
}

// FromLearned presents a learned answer below the direct-answer bar as reference material.
func FromLearned(m *learning.Match) ContextItem {
	return ContextItem{
		Title:   m.Question,
		Source:  "validated answer",
		Score:   m.Score,
		Content: m.Answer,
	}
}

func payloadString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := payload[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
