package completion

import (
	"context"
	"strings"
	"time"

	"github.com/r3d91ll/llm-chat-simulator/internal/conversation"
)

// terminalMarks are the characters a finished reply may end with.
var terminalMarks = []string{".", "!", "?", "…", ")", `"`}

const closureInstruction = "\n\n(Finish the sentence above in one short sentence only. Do not start a new point.)\n"

// closureParams is the sampling profile for the finishing call.
var closureParams = Params{
	MaxTokens:   40,
	Temperature: 0.4,
	TopP:        0.9,
	TopK:        40,
}

// HasTerminalMark reports whether the trimmed text ends like a finished sentence.
func HasTerminalMark(text string) bool {
	text = strings.TrimSpace(text)
	for _, m := range terminalMarks {
		if strings.HasSuffix(text, m) {
			return true
		}
	}
	return false
}

// NeedsClosure reports whether a reply looks cut off: the provider hit the
// length cap, or the text doesn't end in terminal punctuation.
func NeedsClosure(text, finishReason string) bool {
	if finishReason == FinishLength {
		return true
	}
	if strings.TrimSpace(text) == "" {
		return false
	}
	return !HasTerminalMark(text)
}

// Closer finishes truncated replies with one short follow-up completion.
type Closer struct {
	completer Completer
	timeout   time.Duration
}

// NewCloser creates a Closer. A zero timeout defaults to 60s.
func NewCloser(c Completer, timeout time.Duration) *Closer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Closer{completer: c, timeout: timeout}
}

// CloseIfNeeded returns partial, completed to the end of its sentence when
// NeedsClosure says so. If the follow-up call fails, a period is appended
// locally instead. It always returns usable text.
func (c *Closer) CloseIfNeeded(ctx context.Context, basePrompt string, speaker conversation.Role, partial, finishReason string) string {
	if !NeedsClosure(partial, finishReason) {
		return partial
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := closureParams
	params.Stop = StopSequences(speaker)

	// The partial reply continues the base prompt's trailing label.
	prompt := basePrompt + " " + strings.TrimSpace(partial) + closureInstruction
	res := c.completer.Complete(ctx, prompt, speaker, params)
	if !res.Failed() && strings.TrimSpace(res.Text) != "" {
		return strings.TrimSpace(strings.TrimSpace(partial) + " " + strings.TrimSpace(res.Text))
	}

	return repairLocally(partial)
}

func repairLocally(partial string) string {
	trimmed := strings.TrimSpace(partial)
	if trimmed == "" || HasTerminalMark(trimmed) {
		return trimmed
	}
	return trimmed + "."
}
