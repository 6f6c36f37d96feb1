// Package completion talks to a local text-completion server.
//
// The client targets the OpenAI-compatible /v1/completions endpoint that
// LM Studio, Ollama, vLLM and LocalAI expose. A failed request never
// surfaces as an error: the caller gets a visible error text with the
// "error" finish reason so the debate can carry on.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/r3d91ll/llm-chat-simulator/internal/conversation"
	"github.com/r3d91ll/llm-chat-simulator/internal/telemetry"
)

// Finish reasons reported in Result.FinishReason.
const (
	FinishStop   = "stop"
	FinishLength = "length"
	FinishError  = "error"
)

// ErrorMarker prefixes the text returned for a failed request.
const ErrorMarker = "(Local LLM error:"

// Params are the sampling settings for one request.
type Params struct {
	MaxTokens        int // 0 uses the client default
	Temperature      float64
	TopP             float64
	TopK             int
	FrequencyPenalty float64
	PresencePenalty  float64
	Stop             []string // empty uses StopSequences(speaker)
}

// Result is the cleaned completion text and why generation stopped.
type Result struct {
	Text         string
	FinishReason string
}

// Failed reports whether the request errored.
func (r Result) Failed() bool {
	return r.FinishReason == FinishError
}

// Completer produces a completion for a speaker. *Client implements it.
type Completer interface {
	Complete(ctx context.Context, prompt string, speaker conversation.Role, p Params) Result
}

// Config holds configuration for the completion client.
type Config struct {
	BaseURL   string        // API root, e.g. http://localhost:1234/v1
	Model     string        // Model identifier sent with every request
	MaxTokens int           // Default generation cap
	Timeout   time.Duration // HTTP request timeout (default 120s)
	Logger    *slog.Logger
}

// DefaultConfig targets a local LM Studio server.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://localhost:1234/v1",
		Model:     "openai/gpt-oss-20b",
		MaxTokens: conversation.DefaultMaxTokens,
		Timeout:   120 * time.Second,
	}
}

// Client is a completion API client.
type Client struct {
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Completer = (*Client)(nil)

// New creates a new completion client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = conversation.DefaultMaxTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		model:     cfg.Model,
		maxTokens: maxTokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "completion_client"),
	}
}

// Model returns the model identifier.
func (c *Client) Model() string {
	return c.model
}

// BaseURL returns the API endpoint URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StopSequences returns the stop set for a speaker: the user's label and the
// opponent's label. The speaker's own label is never included, otherwise a
// reply that quotes it would be cut short.
func StopSequences(speaker conversation.Role) []string {
	return []string{"\nUser:", "\n" + speaker.Other().Label() + ":"}
}

// Complete sends prompt to the server and returns the sanitized text.
func (c *Client) Complete(ctx context.Context, prompt string, speaker conversation.Role, p Params) Result {
	ctx, span := telemetry.StartLLMSpan(ctx, "completion", c.model, string(speaker))
	defer span.End()
	span.SetInput(prompt)

	res, err := c.complete(ctx, prompt, speaker, p)
	if err != nil {
		span.SetError(err)
		c.logger.Warn("completion failed", "speaker", speaker, "error", err)
		res = Result{
			Text:         fmt.Sprintf("%s %v)", ErrorMarker, err),
			FinishReason: FinishError,
		}
	}

	span.SetOutput(res.Text, res.FinishReason)
	span.SetTokens(conversation.EstimateTokens(prompt), conversation.EstimateTokens(res.Text))
	return res
}

func (c *Client) complete(ctx context.Context, prompt string, speaker conversation.Role, p Params) (Result, error) {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	stop := p.Stop
	if len(stop) == 0 {
		stop = StopSequences(speaker)
	}

	reqBody := completionRequest{
		Model:            c.model,
		Prompt:           prompt,
		MaxTokens:        maxTokens,
		Temperature:      p.Temperature,
		TopP:             p.TopP,
		TopK:             p.TopK,
		Stop:             stop,
		FrequencyPenalty: p.FrequencyPenalty,
		PresencePenalty:  p.PresencePenalty,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("sending completion request",
		"speaker", speaker,
		"max_tokens", maxTokens,
		"temperature", p.Temperature,
		"prompt_chars", len(prompt),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var compResp completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&compResp); err != nil {
		return Result{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(compResp.Choices) == 0 {
		return Result{}, errors.New("no choices in response")
	}

	choice := compResp.Choices[0]
	finish := choice.FinishReason
	if finish == "" {
		finish = FinishStop
	}
	return Result{Text: Sanitize(choice.Text), FinishReason: finish}, nil
}

// OpenAI completions API types

type completionRequest struct {
	Model            string   `json:"model"`
	Prompt           string   `json:"prompt"`
	MaxTokens        int      `json:"max_tokens"`
	Temperature      float64  `json:"temperature"`
	TopP             float64  `json:"top_p"`
	TopK             int      `json:"top_k"`
	Stop             []string `json:"stop"`
	FrequencyPenalty float64  `json:"frequency_penalty"`
	PresencePenalty  float64  `json:"presence_penalty"`
}

type completionResponse struct {
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
