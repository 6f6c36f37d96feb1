package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3d91ll/llm-chat-simulator/internal/completion"
	"github.com/r3d91ll/llm-chat-simulator/internal/conversation"
	"github.com/r3d91ll/llm-chat-simulator/internal/engine"
	"github.com/r3d91ll/llm-chat-simulator/internal/store"
)

type countingCompleter struct {
	mu   sync.Mutex
	n    int
	last completion.Params
}

func (c *countingCompleter) Complete(ctx context.Context, prompt string, speaker conversation.Role, p completion.Params) completion.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	c.last = p
	return completion.Result{
		Text:         fmt.Sprintf("Point %d from %s about topic number %d.", c.n, speaker.Label(), c.n*7919),
		FinishReason: completion.FinishStop,
	}
}

func newTestREPL(t *testing.T, turns int) (*repl, *bytes.Buffer, *countingCompleter) {
	t.Helper()
	st, err := store.NewFileStore(afero.NewMemMapFs(), "/sessions", time.Hour)
	require.NoError(t, err)

	c := &countingCompleter{}
	svc := engine.NewService(st, engine.New(engine.Config{Completer: c}), nil)
	out := &bytes.Buffer{}
	return &repl{svc: svc, session: "test-session", turns: turns, out: out}, out, c
}

func snapshot(t *testing.T, r *repl) *conversation.State {
	t.Helper()
	st, err := r.svc.Snapshot(context.Background(), r.session)
	require.NoError(t, err)
	return st
}

func TestREPLTopicRunsBudget(t *testing.T) {
	r, out, c := newTestREPL(t, 3)

	assert.False(t, r.handle(context.Background(), "Should homework be banned?"))

	st := snapshot(t, r)
	require.Len(t, st.Messages, 4)
	assert.Equal(t, 0, st.AutoTurnsLeft)
	assert.GreaterOrEqual(t, c.n, 3)
	assert.Contains(t, out.String(), "Bot A>")
	assert.Contains(t, out.String(), "Bot B>")
}

func TestREPLNextAndAuto(t *testing.T) {
	r, _, _ := newTestREPL(t, 0)
	ctx := context.Background()

	r.handle(ctx, "Topic")
	assert.Len(t, snapshot(t, r).Messages, 1, "zero budget produces no turns")

	r.handle(ctx, "/next")
	assert.Len(t, snapshot(t, r).Messages, 2)

	r.handle(ctx, "/auto 3")
	st := snapshot(t, r)
	require.Len(t, st.Messages, 5)
	assert.Equal(t, conversation.RoleBotB, st.Messages[4].Role)
}

func TestREPLNextWithoutTopic(t *testing.T) {
	r, out, c := newTestREPL(t, 2)

	r.handle(context.Background(), "/next")

	assert.Contains(t, out.String(), "type a topic first")
	assert.Zero(t, c.n)
}

func TestREPLPersonasAndMaxTokens(t *testing.T) {
	r, out, c := newTestREPL(t, 1)
	ctx := context.Background()

	r.handle(ctx, "/personas a You are a   cautious economist.")
	r.handle(ctx, "/personas b You are a futurist.")
	r.handle(ctx, "/max-tokens 99")

	st := snapshot(t, r)
	assert.Equal(t, "You are a   cautious economist.", st.PersonaA, "persona spacing is kept")
	assert.Equal(t, "You are a futurist.", st.PersonaB)
	assert.Equal(t, 99, st.MaxTokens)

	out.Reset()
	r.handle(ctx, "/personas")
	assert.Contains(t, out.String(), "cautious economist")
	assert.Contains(t, out.String(), "futurist")

	r.handle(ctx, "Universal basic income")
	assert.Equal(t, 99, c.last.MaxTokens)

	out.Reset()
	r.handle(ctx, "/max-tokens 0")
	assert.Contains(t, out.String(), "invalid max tokens")
}

func TestREPLResetAndTranscript(t *testing.T) {
	r, out, _ := newTestREPL(t, 1)
	ctx := context.Background()

	r.handle(ctx, "Space elevators")
	out.Reset()
	r.handle(ctx, "/transcript")
	assert.Contains(t, out.String(), "Space elevators")

	r.handle(ctx, "/reset")
	assert.Empty(t, snapshot(t, r).Messages)

	out.Reset()
	r.handle(ctx, "/transcript")
	assert.Contains(t, out.String(), "(empty conversation)")
}

func TestREPLCommandErrors(t *testing.T) {
	r, out, _ := newTestREPL(t, 1)
	ctx := context.Background()

	for _, line := range []string{"/auto", "/auto x", "/auto 0", "/personas c text", "/bogus"} {
		out.Reset()
		assert.False(t, r.handle(ctx, line))
		assert.Contains(t, out.String(), "Error:", line)
	}
}

func TestREPLRunBasicQuits(t *testing.T) {
	r, out, _ := newTestREPL(t, 1)

	err := r.runBasic(context.Background(), strings.NewReader("\nFirst topic\n/quit\nnever read\n"))
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Goodbye!")
	st := snapshot(t, r)
	require.Len(t, st.Messages, 2)
	assert.Equal(t, "First topic", st.Messages[0].Text)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.in), tt.in)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "info", "json").Info("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	newLogger(&buf, "warn", "text").Info("hidden")
	assert.Empty(t, buf.String())

	newLogger(&buf, "debug", "text").Debug("shown", "k", "v")
	assert.Contains(t, buf.String(), "shown")
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, fmt.Sprintf("chatsim %s (%s)\n", Version, Commit), buf.String())
}
