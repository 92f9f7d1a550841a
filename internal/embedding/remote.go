package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sky/internal/logging"

	"github.com/cenkalti/backoff/v5"
)

// Embedder produces vectors from text with a named model.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// HTTPEmbedder calls an Ollama-compatible /api/embed endpoint.
type HTTPEmbedder struct {
	host       string
	httpClient *http.Client
	maxTries   uint
}

// NewHTTPEmbedder creates an embedder for host, e.g. "http://localhost:11434".
func NewHTTPEmbedder(host string, timeout time.Duration) *HTTPEmbedder {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPEmbedder{
		host:       strings.TrimRight(host, "/"),
		httpClient: &http.Client{Timeout: timeout},
		maxTries:   3,
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embedding vector for text. 5xx responses and transport
// errors are retried with exponential backoff.
func (c *HTTPEmbedder) Embed(ctx context.Context, model, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	op := func() ([]float32, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/embed", bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("build embed request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, backoff.Permanent(err)
			}
			return nil, fmt.Errorf("embed request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("embed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}

		var result embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode embed response: %w", err))
		}
		if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
			return nil, backoff.Permanent(errors.New("embedding service returned empty embeddings"))
		}
		return result.Embeddings[0], nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 200 * time.Millisecond
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			logging.Debug("Retrying embed request", "error", err, "after", d)
		}),
	)
}
