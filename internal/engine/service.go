package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/r3d91ll/llm-chat-simulator/internal/conversation"
	"github.com/r3d91ll/llm-chat-simulator/internal/store"
)

// Service runs conversation operations against a Store. Operations on the
// same session are serialized; different sessions proceed in parallel.
type Service struct {
	store  store.Store
	engine *Engine
	locks  *keyedMutex
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(st store.Store, eng *Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		engine: eng,
		locks:  newKeyedMutex(),
		logger: logger.With("component", "service"),
	}
}

// load returns the stored state, or a fresh one for unknown or expired sessions.
func (s *Service) load(ctx context.Context, id string) (*conversation.State, error) {
	state, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return conversation.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return state, nil
}

// update loads the session, applies fn to a copy and saves the copy if fn
// succeeds. The stored state is untouched when fn fails.
func (s *Service) update(ctx context.Context, id string, fn func(*conversation.State) error) (*conversation.State, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	if err := s.store.Put(ctx, id, next); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return next, nil
}

// Snapshot returns the current state of a session.
func (s *Service) Snapshot(ctx context.Context, id string) (*conversation.State, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	return s.load(ctx, id)
}

// Seed appends a user message and sets the auto-turn budget.
func (s *Service) Seed(ctx context.Context, id, text string, turns int) (*conversation.State, error) {
	return s.update(ctx, id, func(st *conversation.State) error {
		return st.Seed(text, turns)
	})
}

// Tick produces exactly one bot turn.
func (s *Service) Tick(ctx context.Context, id string) (Turn, error) {
	var turn Turn
	_, err := s.update(ctx, id, func(st *conversation.State) error {
		var err error
		turn, err = s.engine.ProduceTurn(ctx, st)
		return err
	})
	if err != nil {
		return Turn{}, err
	}

	s.logger.Info("turn committed",
		"session", id,
		"speaker", turn.Message.Role,
		"finish_reason", turn.FinishReason,
		"auto_left", turn.AutoTurnsLeft)
	return turn, nil
}

// UpdatePersonas replaces both persona texts.
func (s *Service) UpdatePersonas(ctx context.Context, id, personaA, personaB string) (*conversation.State, error) {
	return s.update(ctx, id, func(st *conversation.State) error {
		st.SetPersonas(personaA, personaB)
		return nil
	})
}

// SetMaxTokens changes the session's generation cap.
func (s *Service) SetMaxTokens(ctx context.Context, id string, n int) (*conversation.State, error) {
	return s.update(ctx, id, func(st *conversation.State) error {
		return st.SetMaxTokens(n)
	})
}

// Reset clears the session back to defaults.
func (s *Service) Reset(ctx context.Context, id string) (*conversation.State, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to reset session: %w", err)
	}
	return conversation.NewState(), nil
}

// Sweep purges expired sessions from the store.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	n, err := s.store.Sweep(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired sessions removed", "count", n)
	}
	return n, nil
}
