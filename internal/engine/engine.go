// Package engine produces debate turns: it picks the speaker, prompts the
// model, retries once on self-repetition, repairs truncated endings and
// commits the reply to the transcript.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/r3d91ll/llm-chat-simulator/internal/completion"
	"github.com/r3d91ll/llm-chat-simulator/internal/conversation"
	"github.com/r3d91ll/llm-chat-simulator/internal/prompt"
	"github.com/r3d91ll/llm-chat-simulator/internal/similarity"
)

// Config holds Engine configuration.
type Config struct {
	Completer           completion.Completer
	Window              int
	SimilarityThreshold float64
	ClosureTimeout      time.Duration
	Logger              *slog.Logger
}

// DefaultConfig returns defaults without a completer.
func DefaultConfig() Config {
	return Config{
		Window:              prompt.DefaultWindow,
		SimilarityThreshold: similarity.DefaultThreshold,
		ClosureTimeout:      60 * time.Second,
	}
}

// Engine generates one bot turn at a time.
type Engine struct {
	completer completion.Completer
	closer    *completion.Closer
	builder   prompt.Builder
	threshold float64
	logger    *slog.Logger
}

// Turn describes a committed bot message.
type Turn struct {
	Message       conversation.Message
	AutoTurnsLeft int
	FinishReason  string
	Retried       bool
	Repaired      bool
}

// New creates an Engine.
func New(cfg Config) *Engine {
	defaults := DefaultConfig()
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = defaults.SimilarityThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Engine{
		completer: cfg.Completer,
		closer:    completion.NewCloser(cfg.Completer, cfg.ClosureTimeout),
		builder:   prompt.New(cfg.Window),
		threshold: cfg.SimilarityThreshold,
		logger:    cfg.Logger.With("component", "engine"),
	}
}

// ProduceTurn generates the next bot message and appends it to state.
// It fails on an empty transcript or when ctx ends before the turn is
// committed, leaving state untouched. Provider failures end up as
// in-transcript error text.
func (e *Engine) ProduceTurn(ctx context.Context, state *conversation.State) (Turn, error) {
	if len(state.Messages) == 0 {
		return Turn{}, conversation.ErrNoMessages
	}

	speaker := state.ResolveNextSpeaker()
	p := e.builder.Build(state, speaker)

	params := Profile(speaker)
	params.MaxTokens = state.MaxTokens
	res := e.completer.Complete(ctx, p, speaker, params)
	if err := ctx.Err(); err != nil {
		return Turn{}, err
	}

	retried := false
	if prior, ok := state.LastFrom(speaker); ok && similarity.TooSimilar(res.Text, prior.Text, e.threshold) {
		e.logger.Info("reply repeats previous turn, retrying",
			"speaker", speaker,
			"ratio", similarity.Ratio(res.Text, prior.Text))

		p = prompt.Diversify(p, speaker)
		params = RetryProfile(speaker)
		params.MaxTokens = state.MaxTokens
		// The retry is kept even if it is still similar; one retry per turn.
		res = e.completer.Complete(ctx, p, speaker, params)
		retried = true
	}

	text := e.closer.CloseIfNeeded(ctx, p, speaker, res.Text, res.FinishReason)
	repaired := text != res.Text

	// A caller that went away is not a provider failure.
	if err := ctx.Err(); err != nil {
		return Turn{}, err
	}

	state.Append(conversation.Message{Role: speaker, Text: text})

	e.logger.Debug("turn produced",
		"speaker", speaker,
		"finish_reason", res.FinishReason,
		"retried", retried,
		"repaired", repaired,
		"auto_left", state.AutoTurnsLeft)

	return Turn{
		Message:       state.Messages[len(state.Messages)-1],
		AutoTurnsLeft: state.AutoTurnsLeft,
		FinishReason:  res.FinishReason,
		Retried:       retried,
		Repaired:      repaired,
	}, nil
}
