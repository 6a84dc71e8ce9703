package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"document-portal/internal/apperr"
	"document-portal/internal/logger"
	"document-portal/internal/metrics"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
	MaxRetries     int
}

// OpenAICompatibleClient talks to any endpoint exposing /chat/completions and
// /embeddings. Transient failures are retried a bounded number of times and every
// retry is logged.
type OpenAICompatibleClient struct {
	httpClient    *http.Client
	cfg           Config
	log           *zap.Logger
	metrics       *metrics.Metrics
	retryInterval time.Duration
}

type Option func(*OpenAICompatibleClient)

func WithHTTPClient(client *http.Client) Option {
	return func(c *OpenAICompatibleClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *OpenAICompatibleClient) {
		c.log = logger.OrNop(l)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *OpenAICompatibleClient) {
		c.metrics = metrics.OrNop(m)
	}
}

// WithRetryInterval sets the first backoff wait between attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(c *OpenAICompatibleClient) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

func NewOpenAICompatibleClient(cfg Config, opts ...Option) *OpenAICompatibleClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	c := &OpenAICompatibleClient{
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		cfg:           cfg,
		log:           zap.NewNop(),
		metrics:       metrics.Nop(),
		retryInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// statusError is a non-2xx response from the provider.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("response status %d: %s", e.code, e.body)
}

func (e *statusError) transient() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// Complete returns the content of the first choice. A response without choices
// yields an empty string; interpreting it is up to the caller.
func (c *OpenAICompatibleClient) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	reqBody := map[string]interface{}{
		"model":    c.cfg.Model,
		"messages": messages,
		"stream":   false,
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.post(ctx, "chat_completion", "/chat/completions", reqBody, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		c.log.Debug("chat completion returned no choices", zap.String("model", c.cfg.Model))
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *OpenAICompatibleClient) post(ctx context.Context, op, path string, reqBody any, out any) error {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal %s request failed: %w", op, err)
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build %s request failed: %w", op, err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(fmt.Errorf("%s request failed: %w", op, err))
			}
			return fmt.Errorf("%s request failed: %w", op, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read %s response failed: %w", op, err)
		}
		if resp.StatusCode >= 300 {
			se := &statusError{code: resp.StatusCode, body: string(raw)}
			if se.transient() {
				return se
			}
			return backoff.Permanent(se)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return backoff.Permanent(fmt.Errorf("parse %s json failed: %w", op, err))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	policy.MaxElapsedTime = 0
	retrying := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.MaxRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		c.metrics.ExternalRetries.WithLabelValues(op).Inc()
		c.log.Warn("retrying external call",
			zap.String("operation", op),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(attempt, retrying, notify); err != nil {
		return apperr.External(op, err)
	}
	return nil
}
