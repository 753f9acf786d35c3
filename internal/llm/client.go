// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package llm talks to an Ollama-compatible chat endpoint. One client serves
// both the vision model (quality scoring, images attached to the message) and
// the text model (transcript reformatting).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/log"
)

const defaultTimeout = 5 * time.Minute

// Message is one chat turn. Images marshal as base64 strings, which is the
// wire form the vision endpoint expects.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  [][]byte `json:"images,omitempty"`
}

// Options tune a single generation.
type Options struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type Client struct {
	base   string
	http   *http.Client
	logger zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each chat call. Local models can be slow; the default
// is deliberately generous.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient replaces the transport, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(base string, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: defaultTimeout},
		logger: log.WithComponent("llm"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Host returns the configured endpoint.
func (c *Client) Host() string { return c.base }

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  *Options  `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Chat sends one non-streaming chat completion and returns the reply text.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, opts *Options) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  opts,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: %s unreachable: %w", c.base, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return "", fmt.Errorf("llm: %s returned %d: %s", model, res.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var reply chatResponse
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}

	c.logger.Debug().
		Str("model", model).
		Dur("duration", time.Since(started)).
		Int("reply_chars", len(reply.Message.Content)).
		Msg("chat completed")
	return reply.Message.Content, nil
}
