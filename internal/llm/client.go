// Package llm wraps the chat-completions API used to write synthesis reports.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sky/internal/logging"

	"github.com/cenkalti/backoff/v5"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is used when neither the config nor the prompt names a model.
const DefaultModel = "gpt-4o-mini"

// ErrNoAPIKey is returned by New when no API key is given.
var ErrNoAPIKey = errors.New("OPENAI_API_KEY or OPENAI_MDG_API_KEY not found in environment.")

// ErrEmptyResponse is returned when the API answers without any content.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Options configures a Client.
type Options struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxTries   uint
	HTTPClient *http.Client
}

// Request is a single system + user exchange.
type Request struct {
	// Model overrides the client default when set.
	Model       string
	System      string
	User        string
	Temperature float32
}

// Completer produces a completion for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Client is a Completer backed by an OpenAI-compatible API.
type Client struct {
	api      *openai.Client
	model    string
	maxTries uint
}

// New creates a client. BaseURL may point at any OpenAI-compatible server.
func New(apiKey string, opts Options) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNoAPIKey
	}
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		hc = &http.Client{Timeout: timeout}
	}
	cfg.HTTPClient = hc

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	tries := opts.MaxTries
	if tries == 0 {
		tries = 3
	}
	return &Client{api: openai.NewClientWithConfig(cfg), model: model, maxTries: tries}, nil
}

// Model returns the default model of the client.
func (c *Client) Model() string { return c.model }

// Complete sends req and returns the text of the first choice. Rate limits
// and server errors are retried.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})

	start := time.Now()
	defer logging.LogPerformance("chat completion", start)

	op := func() (string, error) {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       model,
			Messages:    msgs,
			Temperature: req.Temperature,
		})
		if err != nil {
			if retryable(err) {
				return "", err
			}
			return "", backoff.Permanent(err)
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return "", backoff.Permanent(ErrEmptyResponse)
		}
		return resp.Choices[0].Message.Content, nil
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			logging.Debug("Retrying chat completion", "error", err, "after", d)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("chat completion with %s: %w", model, err)
	}
	return out, nil
}

func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return false
}
