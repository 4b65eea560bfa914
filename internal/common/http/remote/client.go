// Package remote is a JSON-over-HTTP client for downstream services, guarded by a circuit breaker.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"codeassess/internal/common/http/middleware"
	appErr "codeassess/pkg/errors"
	"codeassess/pkg/utils/logger"

	"github.com/zeromicro/go-zero/core/breaker"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

// Config configures a downstream service client.
type Config struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
	// Token is sent as a bearer token when set.
	Token string `yaml:"token"`
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// Client calls one downstream service.
type Client struct {
	service string
	baseURL string
	token   string
	http    *http.Client
	breaker breaker.Breaker
}

// New creates a client for the named service.
func New(service string, cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		service: service,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker.NewBreaker(breaker.WithName(service)),
	}
}

// Service returns the name used in errors and logs.
func (c *Client) Service() string {
	return c.service
}

// PostJSON sends in as JSON and decodes the response body into out when out is non-nil.
func (c *Client) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	return c.Do(ctx, http.MethodPost, path, in, out)
}

// PutJSON is PostJSON with the PUT method.
func (c *Client) PutJSON(ctx context.Context, path string, in, out interface{}) error {
	return c.Do(ctx, http.MethodPut, path, in, out)
}

// Do performs one call. Client errors (4xx) do not trip the breaker.
func (c *Client) Do(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return appErr.Wrapf(err, appErr.InvalidParams, "encode %s request failed", c.service)
		}
		body = encoded
	}

	var respBody []byte
	err := c.breaker.DoWithAcceptable(func() error {
		data, callErr := c.send(ctx, method, path, body)
		respBody = data
		return callErr
	}, acceptable)
	if err != nil {
		if stderrors.Is(err, breaker.ErrServiceUnavailable) {
			logger.Warn(ctx, "downstream breaker open", zap.String("service", c.service))
			return appErr.Wrapf(err, appErr.ServiceUnavailable, "%s is unavailable", c.service).
				WithDetail("service", c.service)
		}
		logger.Error(ctx, "downstream call failed",
			zap.String("service", c.service),
			zap.String("path", path),
			zap.Error(err),
		)
		failure := appErr.ServiceFailure(err, c.service)
		var statusErr *StatusError
		if stderrors.As(err, &statusErr) {
			failure = failure.WithDetail("status", statusErr.StatusCode)
			if statusErr.Message != "" {
				failure = failure.WithMessage(statusErr.Message)
			}
		}
		return failure
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return appErr.ServiceFailure(fmt.Errorf("decode response failed: %w", err), c.service)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range middleware.OutgoingHeaders(ctx) {
		req.Header.Set(k, v)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, nil
}

// errorMessage pulls {"error": "..."} or {"message": "..."} out of a failure body.
func errorMessage(data []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Message
}

func acceptable(err error) bool {
	if err == nil {
		return true
	}
	var statusErr *StatusError
	if stderrors.As(err, &statusErr) {
		return statusErr.StatusCode < http.StatusInternalServerError
	}
	return false
}
