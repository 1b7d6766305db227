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

// Package nerdgraph implements the NerdGraph (New Relic GraphQL API) client:
// a shared, ref-counted transport pool and a query client with bounded retry.
package nerdgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/obskit/obskit/internal/log"
	"github.com/obskit/obskit/pkg/errors"
	"github.com/obskit/obskit/pkg/httpclient"
)

// Request is one GraphQL request.
type Request struct {
	// Query is the GraphQL query document.
	Query string `json:"query"`

	// Variables are the query variables, if any.
	Variables map[string]any `json:"variables,omitempty"`

	// CorrelationID is sent as the X-Correlation-Id header; not part of the
	// JSON body.
	CorrelationID string `json:"-"`
}

// GraphQLError is one entry of a GraphQL response errors array.
type GraphQLError struct {
	// Message is the error description from the API.
	Message string `json:"message"`

	// Path locates the failing field, if the API reports it.
	Path []any `json:"path,omitempty"`
}

// Response is the GraphQL response envelope.
type Response struct {
	// Data is the raw response data, decoded by the caller.
	Data json.RawMessage `json:"data"`

	// Errors is the GraphQL errors array, if any.
	Errors []GraphQLError `json:"errors,omitempty"`
}

// Transport executes GraphQL requests against one endpoint. Implementations
// classify failures: transient ones (timeouts, connection failures, 5xx, 429)
// come back as *errors.TransientError or *errors.TimeoutError so the client
// knows they are safe to retry; everything else is permanent.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
	Close() error
}

// maxErrorBodyBytes caps how much of a failed response body ends up in error
// messages.
const maxErrorBodyBytes = 512

// httpTransport is the production Transport: JSON POST over a pooled
// pkg/httpclient client.
type httpTransport struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// newHTTPTransport builds a Transport for the given endpoint and key.
func newHTTPTransport(endpoint, apiKey string, timeout time.Duration, logger *slog.Logger) (*httpTransport, error) {
	cfg := httpclient.DefaultConfig()
	if timeout > 0 {
		cfg.Timeout = timeout
	}

	client, err := httpclient.New(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "building nerdgraph http client")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &httpTransport{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   client,
		logger:   logger,
	}, nil
}

// Do executes one GraphQL request. It never retries; the client owns retry.
func (t *httpTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "encoding graphql request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "building graphql request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Api-Key", t.apiKey)
	if req.CorrelationID != "" {
		httpReq.Header.Set("X-Correlation-Id", req.CorrelationID)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, t.classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, t.classifyStatus(resp)
	}

	var envelope Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &errors.PermanentError{
			StatusCode: resp.StatusCode,
			Message:    "malformed response body",
			Cause:      err,
		}
	}

	return &envelope, nil
}

// Close releases idle connections held by the underlying client.
func (t *httpTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// classifyRequestError sorts transport-level failures into retryable and not.
// Per-attempt deadline expiry is a timeout (retryable as long as the caller's
// context is still live); caller cancellation propagates as-is.
func (t *httpTransport) classifyRequestError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &errors.TimeoutError{
			Operation: "nerdgraph request",
			Duration:  t.client.Timeout,
			Cause:     err,
		}
	}
	return &errors.TransientError{Message: "request failed", Cause: err}
}

// classifyStatus maps a non-200 response to a typed error, consuming the body
// for the message.
func (t *httpTransport) classifyStatus(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	message := http.StatusText(resp.StatusCode)
	if len(snippet) > 0 {
		message = string(snippet)
	}

	switch {
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout:
		t.logger.Warn("nerdgraph request failed, retryable",
			"status", resp.StatusCode,
			"api_key", log.SanitizeAPIKey(t.apiKey),
		)
		return &errors.TransientError{
			StatusCode: resp.StatusCode,
			Message:    message,
			RetryAfter: parseRetryAfter(resp),
		}
	default:
		return &errors.PermanentError{
			StatusCode: resp.StatusCode,
			Message:    message,
		}
	}
}

// parseRetryAfter reads a Retry-After header in either seconds or HTTP-date
// form. Returns 0 when absent or unparseable.
func parseRetryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(header); err == nil {
		if delay := time.Until(at); delay > 0 {
			return delay
		}
	}

	return 0
}
