// Package chat holds the message and token types shared by the classifier,
// the router, and every provider client.
package chat

import "strings"

// Roles a message can carry. Conversations are ordered; order is preserved
// end to end.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System returns a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User returns a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant returns an assistant message.
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Token is one streamed fragment of a completion. A stream carries any number
// of content tokens followed by exactly one terminal token (Done=true, content
// possibly empty).
type Token struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// SystemText returns the content of the first system message, or "".
func SystemText(messages []Message) string {
	for _, m := range messages {
		if m.Role == RoleSystem {
			return m.Content
		}
	}
	return ""
}

// LatestUserText returns the content of the most recent user message, or "".
func LatestUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// Transcript renders messages as "[role]: content" lines, one per message.
// Used for summarization prompts and logging.
func Transcript(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString("[")
		b.WriteString(m.Role)
		b.WriteString("]: ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
