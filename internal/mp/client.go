// Package mp is a small client for the Materials Project REST API.
//
// Only the three endpoints the agent needs are covered: material summaries,
// text-mined synthesis recipes and structures. Documents are returned as
// generic JSON maps and passed through unchanged.
package mp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sky/internal/logging"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	DefaultEndpoint = "https://api.materialsproject.org"
	apiKeyHeader    = "X-API-KEY"
	maxBodyBytes    = 32 << 20
)

// SummaryFields are the summary properties requested by default.
var SummaryFields = []string{
	"material_id", "formula_pretty", "band_gap", "density",
	"formation_energy_per_atom", "energy_above_hull", "volume",
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	Endpoint          string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	HTTPClient        *http.Client
	// InitialBackoff is the first retry delay (default 500ms).
	InitialBackoff time.Duration
}

// Client talks to the Materials Project API.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	initial    time.Duration
}

// NewClient creates a client authenticated with apiKey.
func NewClient(apiKey string, opts Options) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNoAPIKey
	}
	endpoint := strings.TrimRight(opts.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: hc,
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: retries,
		initial:    initial,
	}, nil
}

// SearchSummary fetches summary documents for the given material ids.
func (c *Client) SearchSummary(ctx context.Context, ids []string, fields []string) ([]map[string]any, error) {
	if len(ids) == 0 {
		return []map[string]any{}, nil
	}
	if len(fields) == 0 {
		fields = SummaryFields
	}
	q := url.Values{}
	q.Set("material_ids", strings.Join(ids, ","))
	q.Set("_fields", strings.Join(fields, ","))
	q.Set("_limit", fmt.Sprint(len(ids)))
	return c.getData(ctx, "/materials/summary/", q)
}

// SearchSynthesis fetches text-mined synthesis recipes whose target matches
// formula.
func (c *Client) SearchSynthesis(ctx context.Context, formula string) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("target_formula", formula)
	q.Set("_limit", "100")
	return c.getData(ctx, "/materials/synthesis/", q)
}

// GetStructure fetches the structure document of a material.
func (c *Client) GetStructure(ctx context.Context, id string) (map[string]any, error) {
	q := url.Values{}
	q.Set("material_ids", id)
	q.Set("_fields", "structure")
	docs, err := c.getData(ctx, "/materials/core/", q)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("structure for %s: %w", id, ErrNotFound)
	}
	st, ok := docs[0]["structure"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("structure for %s: %w", id, ErrNotFound)
	}
	return st, nil
}

// getData issues a GET and returns the "data" array of the response.
func (c *Client) getData(ctx context.Context, path string, q url.Values) ([]map[string]any, error) {
	body, err := c.get(ctx, path, q)
	if err != nil {
		return nil, err
	}

	data := gjson.GetBytes(body, "data")
	if !data.Exists() || !data.IsArray() {
		return nil, &APIError{Kind: KindAPI, Message: "response has no data array"}
	}
	docs := make([]map[string]any, 0, len(data.Array()))
	for _, item := range data.Array() {
		var doc map[string]any
		if err := json.Unmarshal([]byte(item.Raw), &doc); err != nil {
			return nil, &APIError{Kind: KindAPI, Message: "invalid document in response", Err: err}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	target := c.endpoint + path + "?" + q.Encode()
	attempt := 0

	op := func() ([]byte, error) {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(transportError(err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, backoff.Permanent(&APIError{Kind: KindAPI, Err: err})
		}
		req.Header.Set(apiKeyHeader, c.apiKey)
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			apiErr := transportError(err)
			if ctx.Err() != nil {
				return nil, backoff.Permanent(apiErr)
			}
			return nil, apiErr
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, transportError(err)
		}
		logging.Debug("MP request", "path", path, "status", resp.StatusCode, "attempt", attempt, "elapsed", time.Since(start))

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}

		apiErr := &APIError{
			Kind:    classifyStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: errorMessage(body, resp.Status),
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, apiErr
		}
		return nil, backoff.Permanent(apiErr)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.initial
	expBackoff.MaxInterval = 30 * c.initial
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(c.maxRetries+1)), // includes the initial attempt
		backoff.WithNotify(func(err error, d time.Duration) {
			logging.Warn("Retrying Materials Project request", "path", path, "error", err, "after", d)
		}),
	)
}

// errorMessage extracts the API's error detail, falling back to the status.
func errorMessage(body []byte, status string) string {
	for _, key := range []string{"detail", "message", "error"} {
		if v := gjson.GetBytes(body, key); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return status
}

// MaterialURL is the public web page of a material.
func MaterialURL(id string) string {
	return "https://materialsproject.org/materials/" + url.PathEscape(id)
}
