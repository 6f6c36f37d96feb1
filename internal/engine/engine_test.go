package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3d91ll/llm-chat-simulator/internal/completion"
	"github.com/r3d91ll/llm-chat-simulator/internal/conversation"
	"github.com/r3d91ll/llm-chat-simulator/internal/prompt"
)

type call struct {
	prompt  string
	speaker conversation.Role
	params  completion.Params
}

// scriptedCompleter answers with respond and records every call.
type scriptedCompleter struct {
	mu      sync.Mutex
	calls   []call
	respond func(n int, c call) completion.Result
}

func (s *scriptedCompleter) Complete(ctx context.Context, p string, speaker conversation.Role, params completion.Params) completion.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := call{prompt: p, speaker: speaker, params: params}
	s.calls = append(s.calls, c)
	return s.respond(len(s.calls), c)
}

func (s *scriptedCompleter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// replies returns a completer that answers each call with the next text.
func replies(texts ...string) *scriptedCompleter {
	return &scriptedCompleter{respond: func(n int, c call) completion.Result {
		if n > len(texts) {
			return completion.Result{Text: "Out of script.", FinishReason: completion.FinishStop}
		}
		return completion.Result{Text: texts[n-1], FinishReason: completion.FinishStop}
	}}
}

// echoSpeaker answers with a distinct sentence per call.
func echoSpeaker() *scriptedCompleter {
	return &scriptedCompleter{respond: func(n int, c call) completion.Result {
		return completion.Result{
			Text:         fmt.Sprintf("%s makes argument number %d about a different aspect.", c.speaker.Label(), n),
			FinishReason: completion.FinishStop,
		}
	}}
}

func newEngine(c completion.Completer) *Engine {
	return New(Config{Completer: c})
}

func seeded(t *testing.T, turns int) *conversation.State {
	t.Helper()
	s := conversation.NewState()
	require.NoError(t, s.Seed("Is nuclear power the answer to climate change?", turns))
	return s
}

func TestProduceTurnEmptyTranscript(t *testing.T) {
	c := replies("unused.")
	_, err := newEngine(c).ProduceTurn(context.Background(), conversation.NewState())

	assert.ErrorIs(t, err, conversation.ErrNoMessages)
	assert.Zero(t, c.callCount(), "no provider call for an empty transcript")
}

func TestProduceTurnSeedThenTwoTurns(t *testing.T) {
	c := replies("Nuclear is reliable baseload.", "Renewables are cheaper now.")
	e := newEngine(c)
	s := seeded(t, 2)

	first, err := e.ProduceTurn(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, conversation.RoleBotA, first.Message.Role)
	assert.Equal(t, 1, first.AutoTurnsLeft)

	second, err := e.ProduceTurn(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, conversation.RoleBotB, second.Message.Role)
	assert.Equal(t, "Renewables are cheaper now.", second.Message.Text)
	assert.Equal(t, 0, second.AutoTurnsLeft)

	roles := make([]conversation.Role, 0, len(s.Messages))
	for _, m := range s.Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []conversation.Role{conversation.RoleUser, conversation.RoleBotA, conversation.RoleBotB}, roles)
	assert.Equal(t, 0, s.AutoTurnsLeft)
	assert.Equal(t, conversation.RoleBotA, s.NextSpeaker)
}

func TestProduceTurnIgnoresStaleHint(t *testing.T) {
	s := seeded(t, 0)
	s.Append(conversation.Message{Role: conversation.RoleBotA, Text: "Opening."})
	s.NextSpeaker = conversation.RoleBotA

	c := echoSpeaker()
	turn, err := newEngine(c).ProduceTurn(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, conversation.RoleBotB, turn.Message.Role)
	assert.Equal(t, conversation.RoleBotB, c.calls[0].speaker)
	assert.True(t, strings.HasSuffix(c.calls[0].prompt, "Bot B:"))
}

func TestProduceTurnAlternatesOverManyTurns(t *testing.T) {
	s := seeded(t, 10)
	e := newEngine(echoSpeaker())

	for i := 0; i < 10; i++ {
		_, err := e.ProduceTurn(context.Background(), s)
		require.NoError(t, err)
	}

	for i := 2; i < len(s.Messages); i++ {
		assert.NotEqual(t, s.Messages[i-1].Role, s.Messages[i].Role, "message %d repeats its speaker", i)
	}
	assert.Equal(t, 0, s.AutoTurnsLeft)
}

func TestProduceTurnBudgetFloor(t *testing.T) {
	s := seeded(t, 0)

	turn, err := newEngine(echoSpeaker()).ProduceTurn(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, 0, turn.AutoTurnsLeft)
	assert.Equal(t, 0, s.AutoTurnsLeft)
}

func TestProduceTurnUsesSessionMaxTokensAndProfile(t *testing.T) {
	s := seeded(t, 1)
	require.NoError(t, s.SetMaxTokens(128))

	c := echoSpeaker()
	_, err := newEngine(c).ProduceTurn(context.Background(), s)
	require.NoError(t, err)

	want := Profile(conversation.RoleBotA)
	want.MaxTokens = 128
	assert.Equal(t, want, c.calls[0].params)
}

func TestProduceTurnRetriesOnRepetition(t *testing.T) {
	s := seeded(t, 3)
	s.Append(conversation.Message{Role: conversation.RoleBotA, Text: "Nuclear power is safe and reliable."})
	s.Append(conversation.Message{Role: conversation.RoleBotB, Text: "Waste storage is unsolved."})

	c := replies("Nuclear power is safe and reliable.", "Modern reactors also recycle fuel.")
	turn, err := newEngine(c).ProduceTurn(context.Background(), s)
	require.NoError(t, err)

	require.Equal(t, 2, c.callCount())
	assert.True(t, turn.Retried)
	assert.Equal(t, "Modern reactors also recycle fuel.", turn.Message.Text)

	retry := c.calls[1]
	assert.Contains(t, retry.prompt, prompt.RetryInstruction)
	assert.True(t, strings.HasSuffix(retry.prompt, "Bot A:"))
	want := RetryProfile(conversation.RoleBotA)
	want.MaxTokens = conversation.DefaultMaxTokens
	assert.Equal(t, want, retry.params)
}

func TestProduceTurnAcceptsSimilarRetry(t *testing.T) {
	s := seeded(t, 0)
	s.Append(conversation.Message{Role: conversation.RoleBotA, Text: "Same point again."})
	s.Append(conversation.Message{Role: conversation.RoleBotB, Text: "Counterpoint."})

	c := replies("Same point again.", "Same point again!")
	turn, err := newEngine(c).ProduceTurn(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, 2, c.callCount(), "exactly one retry")
	assert.True(t, turn.Retried)
	assert.Equal(t, "Same point again!", turn.Message.Text)
}

func TestProduceTurnNoRetryWhenDifferent(t *testing.T) {
	s := seeded(t, 0)
	s.Append(conversation.Message{Role: conversation.RoleBotA, Text: "Costs are falling for solar panels."})
	s.Append(conversation.Message{Role: conversation.RoleBotB, Text: "Storage is the bottleneck."})

	c := replies("Grid-scale batteries doubled in capacity last year.")
	turn, err := newEngine(c).ProduceTurn(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, 1, c.callCount())
	assert.False(t, turn.Retried)
}

func TestProduceTurnRepairsTruncatedReply(t *testing.T) {
	s := seeded(t, 0)
	c := &scriptedCompleter{respond: func(n int, cl call) completion.Result {
		if n == 1 {
			return completion.Result{Text: "Nuclear has the lowest deaths per", FinishReason: completion.FinishLength}
		}
		return completion.Result{Text: "terawatt-hour of any source.", FinishReason: completion.FinishStop}
	}}

	turn, err := newEngine(c).ProduceTurn(context.Background(), s)
	require.NoError(t, err)

	require.Equal(t, 2, c.callCount())
	assert.Equal(t, 40, c.calls[1].params.MaxTokens)
	assert.True(t, turn.Repaired)
	assert.Equal(t, completion.FinishLength, turn.FinishReason)
	assert.Equal(t, "Nuclear has the lowest deaths per terawatt-hour of any source.", turn.Message.Text)
}

func TestProduceTurnDoubleProviderFailure(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("model not loaded"))
	}))
	defer server.Close()

	client := completion.New(completion.Config{BaseURL: server.URL, Model: "m"})
	e := newEngine(client)

	s := seeded(t, 2)
	s.Append(conversation.Message{Role: conversation.RoleBotA, Text: "First."})
	s.Append(conversation.Message{Role: conversation.RoleBotB, Text: completion.ErrorMarker + " API error 503: model not loaded)"})
	s.Append(conversation.Message{Role: conversation.RoleBotA, Text: "Second."})

	turn, err := e.ProduceTurn(context.Background(), s)
	require.NoError(t, err, "provider failures never surface as errors")

	assert.Equal(t, int32(2), hits.Load(), "first attempt and one retry, no closure call")
	assert.Equal(t, conversation.RoleBotB, turn.Message.Role)
	assert.True(t, strings.HasPrefix(turn.Message.Text, completion.ErrorMarker))
	assert.False(t, turn.Repaired)
	assert.Equal(t, completion.FinishError, turn.FinishReason)
}

func TestProduceTurnCancelledLeavesStateUntouched(t *testing.T) {
	c := echoSpeaker()
	e := newEngine(c)
	s := seeded(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.ProduceTurn(ctx, s)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, s.Messages, 1)
	assert.Equal(t, 2, s.AutoTurnsLeft)
}

func TestProfiles(t *testing.T) {
	a := Profile(conversation.RoleBotA)
	assert.Equal(t, 0.55, a.Temperature)
	assert.Equal(t, 0.9, a.TopP)
	assert.Equal(t, 40, a.TopK)
	assert.Equal(t, 0.3, a.FrequencyPenalty)
	assert.Equal(t, 0.2, a.PresencePenalty)

	b := Profile(conversation.RoleBotB)
	assert.Equal(t, 0.85, b.Temperature)
	assert.Equal(t, 0.95, b.TopP)
	assert.Equal(t, 50, b.TopK)
	assert.Equal(t, 0.6, b.FrequencyPenalty)
	assert.Equal(t, 0.5, b.PresencePenalty)

	assert.Equal(t, a, Profile(conversation.RoleUser))

	rb := RetryProfile(conversation.RoleBotB)
	assert.InDelta(t, 1.0, rb.Temperature, 1e-9)
	assert.InDelta(t, 0.9, rb.FrequencyPenalty, 1e-9)
	assert.InDelta(t, 0.8, rb.PresencePenalty, 1e-9)
	assert.Equal(t, b.TopP, rb.TopP)
	assert.Equal(t, b.TopK, rb.TopK)
}

func TestRetryProfileCaps(t *testing.T) {
	orig := profiles[conversation.RoleBotB]
	defer func() { profiles[conversation.RoleBotB] = orig }()

	profiles[conversation.RoleBotB] = completion.Params{Temperature: 1.45, FrequencyPenalty: 1.9, PresencePenalty: 2.0}
	p := RetryProfile(conversation.RoleBotB)

	assert.Equal(t, maxTemperature, p.Temperature)
	assert.Equal(t, maxPenalty, p.FrequencyPenalty)
	assert.Equal(t, maxPenalty, p.PresencePenalty)
}
