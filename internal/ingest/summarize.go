package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/tutord/internal/chat"
)

// maxExcerptChars bounds the prompt contribution of one material, about
// 4k tokens. Longer texts are cut at a rune boundary with a marker.
const maxExcerptChars = 16000

// SummaryConversation frames extracted material as a summarization
// request for the router. Focus narrows the notes to a subtopic when set.
func SummaryConversation(m Material, focus string) []chat.Message {
	var b strings.Builder
	b.WriteString("Summarize the following study material into concise revision notes. Keep the important terms and formulas, and use short bullet points.")
	if focus != "" {
		fmt.Fprintf(&b, " Focus on %s.", focus)
	}
	b.WriteString("\n\n")
	if m.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", m.Title)
	}
	b.WriteString(Excerpt(m.Text, maxExcerptChars))

	return []chat.Message{
		chat.System("You are a study assistant. Produce clear, compact notes a learner can revise from."),
		chat.User(b.String()),
	}
}

// Excerpt returns s cut to at most max bytes on a rune boundary, with a
// marker appended when anything was dropped.
func Excerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n[material truncated]"
}
