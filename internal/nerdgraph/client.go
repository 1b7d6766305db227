// Copyright 2025 The Obskit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nerdgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/obskit/obskit/internal/log"
	"github.com/obskit/obskit/internal/metrics"
	"github.com/obskit/obskit/pkg/errors"
)

// DefaultEndpoint is the US-region NerdGraph endpoint.
const DefaultEndpoint = "https://api.newrelic.com/graphql"

// EndpointEU is the EU-region NerdGraph endpoint.
const EndpointEU = "https://api.eu.newrelic.com/graphql"

// Config configures a NerdGraph client.
type Config struct {
	// Endpoint is the GraphQL endpoint URL. Default: DefaultEndpoint.
	Endpoint string

	// APIKey is the New Relic user API key (required).
	APIKey string

	// AccountID is the default account for account-scoped queries.
	AccountID string

	// Timeout is the per-attempt request timeout. Default: 30s.
	Timeout time.Duration

	// MaxRetries bounds retry attempts after the initial try. Default: 3.
	MaxRetries int

	// RetryBackoff is the base delay before the first retry. Default: 500ms.
	RetryBackoff time.Duration

	// MaxBackoff caps the exponential backoff. Default: 8s.
	MaxBackoff time.Duration

	// RequestsPerSecond rate-limits outgoing queries. Default: 10.
	RequestsPerSecond float64

	// Burst is the rate limiter burst size. Default: 5.
	Burst int

	// Pool shares transports between clients (required).
	Pool *Pool

	// Dial overrides transport construction; tests use this to inject fakes.
	Dial DialFunc

	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// Metrics records query latency and retries (optional).
	Metrics *metrics.Metrics
}

func (c *Config) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 8 * time.Second
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 10
	}
	if c.Burst == 0 {
		c.Burst = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client executes NerdGraph queries over a pooled transport with bounded
// retry. Safe for concurrent use.
type Client struct {
	cfg       Config
	transport Transport
	poolKey   string
	limiter   *rate.Limiter
	logger    *slog.Logger
	metrics   *metrics.Metrics
	closeOnce sync.Once
}

// NewClient builds a client and acquires its shared transport from the pool.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, &errors.ConfigError{Key: "newrelic.api_key", Reason: "API key is required"}
	}
	if cfg.Pool == nil {
		return nil, &errors.ConfigError{Key: "newrelic", Reason: "transport pool is required"}
	}
	cfg.applyDefaults()

	logger := cfg.Logger.With("component", "nerdgraph")

	dial := cfg.Dial
	if dial == nil {
		dial = func() (Transport, error) {
			return newHTTPTransport(cfg.Endpoint, cfg.APIKey, cfg.Timeout, logger)
		}
	}

	key := PoolKey(cfg.Endpoint, cfg.APIKey)
	transport, err := cfg.Pool.Acquire(key, dial)
	if err != nil {
		return nil, err
	}

	logger.Info("nerdgraph client ready",
		"endpoint", cfg.Endpoint,
		"account_id", cfg.AccountID,
		"api_key", log.SanitizeAPIKey(cfg.APIKey),
	)

	return &Client{
		cfg:       cfg,
		transport: transport,
		poolKey:   key,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:    logger,
		metrics:   cfg.Metrics,
	}, nil
}

// AccountID returns the default account for account-scoped queries.
func (c *Client) AccountID() string {
	return c.cfg.AccountID
}

// Query executes one GraphQL query with bounded retry on transient failures.
// Transient failures (timeouts, connection errors, 5xx, 429) are retried with
// exponential backoff and jitter, honoring a server Retry-After hint when it
// is shorter than the computed delay. Permanent failures and GraphQL errors
// return immediately. The returned bytes are the raw "data" object.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveQuery(time.Since(start))
	}()

	req := &Request{
		Query:         query,
		Variables:     variables,
		CorrelationID: uuid.NewString(),
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			var transient *errors.TransientError
			if errors.As(lastErr, &transient) && transient.RetryAfter > 0 && transient.RetryAfter < delay {
				delay = transient.RetryAfter
			}

			c.metrics.QueryRetry()
			c.logger.Debug("retrying nerdgraph query",
				"attempt", attempt,
				"delay", delay,
				"correlation_id", req.CorrelationID,
				"error", lastErr,
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.doAttempt(ctx, req)
		if err == nil {
			if len(resp.Errors) > 0 {
				return nil, graphQLError(resp.Errors)
			}
			return resp.Data, nil
		}

		if !errors.IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}

	return nil, errors.Wrapf(lastErr, "nerdgraph query failed after %d attempts", c.cfg.MaxRetries+1)
}

// doAttempt runs one attempt under the per-attempt timeout.
func (c *Client) doAttempt(ctx context.Context, req *Request) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.transport.Do(attemptCtx, req)
}

// backoff computes the exponential delay for the given retry attempt with
// 0-20% jitter, capped at MaxBackoff.
func (c *Client) backoff(attempt int) time.Duration {
	delay := float64(c.cfg.RetryBackoff) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.cfg.MaxBackoff) {
		delay = float64(c.cfg.MaxBackoff)
	}
	jitter := rand.Float64() * delay * 0.2
	return time.Duration(delay + jitter)
}

// Close releases the pooled transport. Safe to call more than once; only the
// first call drops the reference.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cfg.Pool.Release(c.poolKey)
	})
	return nil
}

// graphQLError flattens a GraphQL errors array into a PermanentError. The API
// accepted the request, so retrying an identical query cannot help.
func graphQLError(errs []GraphQLError) error {
	messages := make([]string, len(errs))
	for i, e := range errs {
		if len(e.Path) > 0 {
			parts := make([]string, len(e.Path))
			for j, p := range e.Path {
				parts[j] = fmt.Sprint(p)
			}
			messages[i] = fmt.Sprintf("%s (at %s)", e.Message, strings.Join(parts, "."))
			continue
		}
		messages[i] = e.Message
	}
	return &errors.PermanentError{Message: "graphql: " + strings.Join(messages, "; ")}
}
