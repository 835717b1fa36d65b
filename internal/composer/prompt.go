// Package composer prepends learner context to conversations on their way
// to a provider. It runs after routing, so the injected text never steers
// provider selection.
package composer

import (
	"log/slog"

	"github.com/kalambet/tutord/internal/chat"
)

const defaultMaxProfileTokens = 500

const profileHeader = "[Learner Profile]\n"

// ProfileSource supplies the learner profile summary.
type ProfileSource interface {
	GetSummary() (string, error)
}

// Composer builds the system context for outgoing conversations: the
// learner profile summary, merged with any caller-supplied system message.
type Composer struct {
	profiles ProfileSource

	// MaxProfileTokens bounds the injected profile section.
	MaxProfileTokens int
}

// New creates a Composer over the given profile source. If
// maxProfileTokens <= 0, the default (500) is used.
func New(profiles ProfileSource, maxProfileTokens int) *Composer {
	if maxProfileTokens <= 0 {
		maxProfileTokens = defaultMaxProfileTokens
	}
	return &Composer{profiles: profiles, MaxProfileTokens: maxProfileTokens}
}

// Compose returns the conversation with the learner profile prepended as a
// system message. A caller-supplied system message survives: the profile
// section goes in front of it, separated by a rule. The input slice is
// never modified. When the profile is unavailable, empty, or over budget,
// the conversation passes through unchanged.
func (c *Composer) Compose(conversation []chat.Message) []chat.Message {
	summary, err := c.profiles.GetSummary()
	if err != nil {
		slog.Warn("learner profile unavailable, sending without it", "error", err)
		return conversation
	}
	section := c.profileSection(summary)
	if section == "" {
		return conversation
	}

	out := make([]chat.Message, 0, len(conversation)+1)
	if len(conversation) > 0 && conversation[0].Role == chat.RoleSystem {
		out = append(out, chat.System(section+"\n\n---\n\n"+conversation[0].Content))
		return append(out, conversation[1:]...)
	}
	out = append(out, chat.System(section))
	return append(out, conversation...)
}

// profileSection renders the summary under its header, or "" when the
// summary is empty or the section would exceed the token budget.
func (c *Composer) profileSection(summary string) string {
	if summary == "" {
		return ""
	}
	s := profileHeader + summary
	if EstimateTokens(s) > c.MaxProfileTokens {
		slog.Warn("profile summary over budget, dropped",
			"tokens", EstimateTokens(s),
			"budget", c.MaxProfileTokens)
		return ""
	}
	return s
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
