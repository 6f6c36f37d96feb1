// Package conversation holds the per-session debate transcript and the
// rules that govern it: who speaks next, how the turn budget is spent,
// and how a conversation is seeded and reset.
package conversation

import (
	"errors"
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser Role = "user"
	RoleBotA Role = "botA"
	RoleBotB Role = "botB"
)

// Label returns the transcript label used in prompts ("User", "Bot A", "Bot B").
func (r Role) Label() string {
	switch r {
	case RoleBotA:
		return "Bot A"
	case RoleBotB:
		return "Bot B"
	default:
		return "User"
	}
}

// Other returns the opposing bot. Non-bot roles map to Bot A.
func (r Role) Other() Role {
	if r == RoleBotA {
		return RoleBotB
	}
	return RoleBotA
}

// IsBot reports whether the role is one of the two bots.
func (r Role) IsBot() bool {
	return r == RoleBotA || r == RoleBotB
}

// Default persona texts, used whenever a session has none configured.
const (
	DefaultPersonaA = "You are Bot A. You are concise, analytical, and focus on clear reasoning."
	DefaultPersonaB = "You are Bot B. You challenge assumptions, add counterpoints, and expand on ideas."
)

// DefaultMaxTokens is the generation cap for a new session.
const DefaultMaxTokens = 600

// MaxTokensLimit bounds what a session may request per turn.
const MaxTokensLimit = 8192

var (
	// ErrEmptyInput is returned when a seed message is blank.
	ErrEmptyInput = errors.New("empty input")
	// ErrNoMessages is returned when a turn is requested on an empty transcript.
	ErrNoMessages = errors.New("no messages")
	// ErrInvalidMaxTokens is returned for a generation cap outside 1..MaxTokensLimit.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")
)

// Message is one transcript entry.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// State is everything persisted for one session.
type State struct {
	Messages      []Message `json:"messages"`
	PersonaA      string    `json:"persona_a"`
	PersonaB      string    `json:"persona_b"`
	NextSpeaker   Role      `json:"next_speaker"` // advisory only
	AutoTurnsLeft int       `json:"auto_turns_left"`
	MaxTokens     int       `json:"max_tokens"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewState returns a default-initialized state.
func NewState() *State {
	return &State{
		Messages:    make([]Message, 0),
		PersonaA:    DefaultPersonaA,
		PersonaB:    DefaultPersonaB,
		NextSpeaker: RoleBotA,
		MaxTokens:   DefaultMaxTokens,
	}
}

// Normalize fills in any zero-valued fields with defaults. Stores call it
// after decoding so older or hand-edited records stay usable.
func (s *State) Normalize() {
	if s.Messages == nil {
		s.Messages = make([]Message, 0)
	}
	if s.PersonaA == "" {
		s.PersonaA = DefaultPersonaA
	}
	if s.PersonaB == "" {
		s.PersonaB = DefaultPersonaB
	}
	if !s.NextSpeaker.IsBot() {
		s.NextSpeaker = RoleBotA
	}
	if s.AutoTurnsLeft < 0 {
		s.AutoTurnsLeft = 0
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = DefaultMaxTokens
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return &c
}

// Seed appends the user's opening message and resets the speaker hint and
// turn budget. Nothing is modified when the text is blank.
func (s *State) Seed(text string, turns int) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}

	s.Messages = append(s.Messages, Message{
		Role:      RoleUser,
		Text:      text,
		CreatedAt: time.Now(),
	})
	s.NextSpeaker = RoleBotA
	s.AutoTurnsLeft = max(0, turns)
	return nil
}

// Reset clears the state back to defaults.
func (s *State) Reset() {
	*s = *NewState()
}

// SetPersonas replaces both persona texts. Blank values fall back to the defaults.
func (s *State) SetPersonas(a, b string) {
	s.PersonaA = strings.TrimSpace(a)
	s.PersonaB = strings.TrimSpace(b)
	if s.PersonaA == "" {
		s.PersonaA = DefaultPersonaA
	}
	if s.PersonaB == "" {
		s.PersonaB = DefaultPersonaB
	}
}

// SetMaxTokens changes the per-turn generation cap.
func (s *State) SetMaxTokens(n int) error {
	if n < 1 || n > MaxTokensLimit {
		return ErrInvalidMaxTokens
	}
	s.MaxTokens = n
	return nil
}

// Persona returns the persona text for a bot.
func (s *State) Persona(r Role) string {
	if r == RoleBotB {
		return s.PersonaB
	}
	return s.PersonaA
}

// ResolveNextSpeaker derives whose turn it is from the transcript tail.
// The NextSpeaker hint is deliberately ignored so a stale hint can't break
// alternation.
func (s *State) ResolveNextSpeaker() Role {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		switch s.Messages[i].Role {
		case RoleBotA:
			return RoleBotB
		case RoleBotB:
			return RoleBotA
		case RoleUser:
			return RoleBotA
		}
	}
	return RoleBotA
}

// LastFrom returns the most recent message written by role.
func (s *State) LastFrom(role Role) (Message, bool) {
	return lastFrom(s.Messages, role)
}

func lastFrom(msgs []Message, role Role) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == role {
			return msgs[i], true
		}
	}
	return Message{}, false
}

// Append commits a bot message: it is added to the transcript, the hint
// flips to the other bot and the auto-turn budget drops by one (never below zero).
func (s *State) Append(msg Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.Messages = append(s.Messages, msg)
	s.NextSpeaker = msg.Role.Other()
	if s.AutoTurnsLeft > 0 {
		s.AutoTurnsLeft--
	}
}

// Window returns the last n messages. n <= 0 returns the whole transcript.
func (s *State) Window(n int) []Message {
	if n <= 0 || len(s.Messages) <= n {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// EstimateTokens provides a rough token count for a string.
// Uses ~4 chars per token heuristic (works reasonably for English).
func EstimateTokens(s string) int {
	return len(s) / 4
}
