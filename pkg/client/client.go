// Package client talks to the deployment file API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/denysvitali/deployment-downloader/pkg/config"
)

const maxRedirects = 10

// Client issues authenticated GET requests with a per-attempt timeout and
// linear backoff between attempts
type Client struct {
	httpClient  *http.Client
	logger      *logrus.Logger
	tracer      trace.Tracer
	baseURL     string
	token       string
	maxRetries  int
	timeout     time.Duration
	backoff     time.Duration
	rateLimiter *rate.Limiter
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client from the API configuration
func New(cfg config.APIConfig, logger *logrus.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		logger:     logger,
		tracer:     otel.Tracer("deployment-downloader"),
		baseURL:    cfg.BaseURL,
		token:      cfg.BearerToken,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.RequestTimeout(),
		backoff:    cfg.RetryBackoff(),
		sleep:      sleepContext,
	}
	if c.maxRetries < 1 {
		c.maxRetries = 1
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.rateLimiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root every request is built from
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request fetches url and returns its JSON body. Failed attempts are retried
// up to the configured number of attempts, waiting attempt*backoff between
// them. Invalid JSON is returned at once as a *DecodeError.
func (c *Client) Request(ctx context.Context, url string) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "api_request")
	defer span.End()
	span.SetAttributes(attribute.String("http.url", url))

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		attempts = attempt
		body, err := c.attempt(ctx, url)
		if err == nil {
			if !json.Valid(body) {
				derr := &DecodeError{URL: url, Err: errors.New("malformed JSON body")}
				span.RecordError(derr)
				span.SetStatus(codes.Error, derr.Error())
				return nil, derr
			}
			span.SetAttributes(attribute.Int("http.attempts", attempt))
			return body, nil
		}
		lastErr = err

		// the caller gave up; retrying cannot succeed
		if ctx.Err() != nil {
			break
		}
		if attempt == c.maxRetries {
			break
		}

		c.logger.WithFields(logrus.Fields{
			"url":     url,
			"attempt": attempt,
			"error":   err.Error(),
		}).Warn("Request attempt failed, retrying")

		if err := c.sleep(ctx, time.Duration(attempt)*c.backoff); err != nil {
			lastErr = err
			break
		}
	}

	exhausted := &RequestExhaustedError{URL: url, Attempts: attempts, Err: lastErr}
	span.RecordError(exhausted)
	span.SetStatus(codes.Error, exhausted.Error())
	return nil, exhausted
}

// attempt performs a single GET bounded by the request timeout, body included
func (c *Client) attempt(ctx context.Context, url string) ([]byte, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	attemptCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debugf("Failed to close response body for %s: %v", url, closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
