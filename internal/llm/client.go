// Package llm implements the single-operation LLMClient contract (§4.4):
// analyze(system_prompt, user_prompt) -> AnalysisResult, over a
// provider-agnostic HTTP JSON transport with schema validation and bounded
// retries.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dropshiptriage/triage/internal/models"
)

// Config holds the HTTP endpoint and retry parameters for the configured
// LLM provider.
type Config struct {
	Endpoint   string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries uint64
}

// Client is the HTTP-backed LLMClient.
type Client struct {
	cfg        Config
	httpClient *http.Client
	schema     *responseSchema
}

// New constructs a Client, compiling the fixed AnalysisResult schema once.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	schema, err := compileResponseSchema()
	if err != nil {
		return nil, fmt.Errorf("llm: compiling response schema: %w", err)
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		schema:     schema,
	}, nil
}

type analyzeRequest struct {
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
	UserPrompt   string `json:"user_prompt"`
}

// Unavailable is raised when the LLM endpoint could not be reached or
// answered with an HTTP error: network failures and 5xx after retries, or a
// non-retried 4xx (§4.4 typed LLMUnavailable). A response that arrives but
// fails the schema is a SchemaViolation instead.
type Unavailable struct {
	Err error
}

func (e *Unavailable) Error() string { return "llm: unavailable: " + e.Err.Error() }
func (e *Unavailable) Unwrap() error { return e.Err }

// SchemaViolation is raised when the provider's response does not match
// the fixed AnalysisResult schema — treated as a permanent error, never
// retried with the same prompt (§6: "Clients MUST reject payloads failing
// the schema and record a typed error").
type SchemaViolation struct {
	Err error
}

func (e *SchemaViolation) Error() string { return "llm: schema violation: " + e.Err.Error() }
func (e *SchemaViolation) Unwrap() error { return e.Err }

// Analyze performs one structured analysis call, retrying transient
// transport failures with bounded backoff. A schema violation is not
// retried: it is a permanent error about the provider's output shape, not
// the network.
func (c *Client) Analyze(ctx context.Context, systemPrompt, userPrompt string) (*models.AnalysisResult, error) {
	reqBody, err := json.Marshal(analyzeRequest{
		Model:        c.cfg.Model,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: encoding request: %w", err)
	}

	var raw json.RawMessage
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("llm: building request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err // network error: retryable
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("llm: provider returned HTTP %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("llm: provider returned HTTP %d", resp.StatusCode))
		}

		return json.NewDecoder(resp.Body).Decode(&raw)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = time.Second
	exp.MaxInterval = 8 * time.Second
	bo := backoff.WithMaxRetries(exp, c.cfg.MaxRetries)

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, &Unavailable{Err: err}
	}

	if err := c.schema.Validate(raw); err != nil {
		return nil, &SchemaViolation{Err: err}
	}

	var result models.AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &SchemaViolation{Err: fmt.Errorf("decoding validated response: %w", err)}
	}
	return &result, nil
}
