// Package llm is a thin Anthropic messages client used to generate journal
// questions. Calls go through a circuit breaker so a failing upstream is
// skipped quickly and callers fall back to canned questions.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	"github.com/keithlinneman/diary/internal/xerrors"
)

var (
	// ErrNotConfigured is returned when no api key was supplied
	ErrNotConfigured = errors.New("llm: not configured")
	ErrEmptyResponse = errors.New("llm: empty response")
)

const (
	DefaultMaxTokens = 500
	DefaultTimeout   = 20 * time.Second

	breakerFailures = 5
	breakerCooldown = 30 * time.Second
)

// Completer turns a prompt into text. Implemented by *Client, faked in tests.
type Completer interface {
	Complete(ctx context.Context, purpose, prompt string) (string, error)
}

// messageAPI is the part of the SDK the client calls
type messageAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type Options struct {
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration

	// Observe receives every call's purpose, outcome and latency
	Observe func(purpose, outcome string, d time.Duration)
}

type Client struct {
	msgs      messageAPI
	model     anthropic.Model
	maxTokens int64
	timeout   time.Duration
	breaker   *gobreaker.CircuitBreaker
	observe   func(purpose, outcome string, d time.Duration)
}

// New builds a client. Without an api key every call returns ErrNotConfigured.
func New(opts Options) *Client {
	var msgs messageAPI
	if opts.APIKey != "" {
		c := anthropic.NewClient(option.WithAPIKey(opts.APIKey))
		msgs = &c.Messages
	}
	return newClient(msgs, opts)
}

func newClient(msgs messageAPI, opts Options) *Client {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		msgs:      msgs,
		model:     anthropic.Model(opts.Model),
		maxTokens: int64(opts.MaxTokens),
		timeout:   opts.Timeout,
		observe:   opts.Observe,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "anthropic",
			MaxRequests: 1,
			Timeout:     breakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
		}),
	}
}

// Configured reports whether calls can reach the api
func (c *Client) Configured() bool { return c != nil && c.msgs != nil }

// Complete sends prompt as a single user message and returns the first text block
func (c *Client) Complete(ctx context.Context, purpose, prompt string) (string, error) {
	if !c.Configured() {
		c.record(purpose, "skipped", 0)
		return "", ErrNotConfigured
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		msg, err := c.msgs.New(callCtx, anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: c.maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return nil, err
		}
		return firstText(msg), nil
	})
	if err != nil {
		c.record(purpose, "error", time.Since(start))
		return "", xerrors.Wrapf(err, "breaker (%s)", c.breaker.Name())
	}

	text := strings.TrimSpace(out.(string))
	if text == "" {
		c.record(purpose, "error", time.Since(start))
		return "", ErrEmptyResponse
	}
	c.record(purpose, "ok", time.Since(start))
	return text, nil
}

func (c *Client) record(purpose, outcome string, d time.Duration) {
	if c != nil && c.observe != nil {
		c.observe(purpose, outcome, d)
	}
}

func firstText(msg *anthropic.Message) string {
	if msg == nil {
		return ""
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text
		}
	}
	return ""
}
