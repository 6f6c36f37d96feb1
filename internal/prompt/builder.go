// Package prompt assembles the single-string completion prompt for the next
// debate turn.
package prompt

import (
	"fmt"
	"strings"

	"github.com/r3d91ll/llm-chat-simulator/internal/conversation"
)

// DefaultWindow is how many recent transcript messages go into a prompt.
const DefaultWindow = 12

// SystemFraming opens every prompt.
const SystemFraming = "System:\nYou are simulating a debate between two expert assistants, Bot A and Bot B."

// Rules is the fixed rule block.
const Rules = `Rules:
- The USER always starts with the first message.
- Then Bot A and Bot B take strict turns (one message each).
- Never impersonate the other speaker. Only write your own turn.
- Be direct, avoid fluff. Cite assumptions; correct the other if needed.
- Keep answers under ~150 words.
- Do not repeat points, phrases, or openings already used in the transcript.`

// RetryInstruction is appended when a reply repeated the speaker's previous turn.
const RetryInstruction = "Your previous draft repeated an earlier turn. Do not repeat yourself; vary the structure and wording, and bring a different argument or example."

// Builder renders prompts over a sliding window of the transcript.
type Builder struct {
	window int
}

// New creates a Builder. window <= 0 uses DefaultWindow.
func New(window int) Builder {
	if window <= 0 {
		window = DefaultWindow
	}
	return Builder{window: window}
}

// Window returns the number of transcript messages rendered.
func (b Builder) Window() int {
	return b.window
}

// Build returns the prompt for speaker. Older messages outside the window are
// dropped; the opponent's latest message is looked up over the full transcript.
func (b Builder) Build(state *conversation.State, speaker conversation.Role) string {
	msgs := state.Window(b.window)

	var sb strings.Builder
	sb.WriteString(SystemFraming)
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Bot A persona:\n%s\n", state.PersonaA)
	fmt.Fprintf(&sb, "Bot B persona:\n%s\n", state.PersonaB)
	sb.WriteString(Rules)
	sb.WriteString("\n\nTranscript so far:\n")

	botTurns := 0
	for _, m := range msgs {
		if m.Role.IsBot() {
			botTurns++
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.Role.Label(), m.Text)
	}
	round := botTurns + 1

	opponent := speaker.Other()
	if last, ok := state.LastFrom(opponent); ok {
		fmt.Fprintf(&sb, "\n%s's most recent message (respond to this directly):\n\"\"\"\n%s\n\"\"\"\n", opponent.Label(), last.Text)
	}

	fmt.Fprintf(&sb, "\nRound %d. Now it is %s's turn. Write ONLY %s's reply. ", round, speaker.Label(), speaker.Label())
	fmt.Fprintf(&sb, "Engage %s's latest point directly, add new information or a fresh argument, and end with a complete thought.\n", opponent.Label())
	sb.WriteString(speaker.Label() + ":")

	return sb.String()
}

// Diversify inserts RetryInstruction ahead of the trailing speaker label.
func Diversify(p string, speaker conversation.Role) string {
	label := speaker.Label() + ":"
	base := strings.TrimSuffix(p, label)
	return base + RetryInstruction + "\n" + label
}
