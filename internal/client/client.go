// Package client is the REST client the calendar stores use to reach the
// scheduling backend. Every failure it returns wraps one of the calendar
// error sentinels.
package client

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/dan22333/theravillage/internal/calendar"
	"github.com/dan22333/theravillage/internal/logging"
)

const (
	defaultTimeout = 15 * time.Second
	// A week view for one therapist is far below this.
	maxResponseBytes = 4 << 20
)

var tracer = otel.Tracer("theravillage.internal.client")

// TokenProvider supplies the bearer token for each call. An empty token
// means authentication has not finished yet.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken always returns tok.
func StaticToken(tok string) TokenProvider {
	return TokenFunc(func(context.Context) (string, error) { return tok, nil })
}

// APIError is a non-2xx backend response.
type APIError struct {
	Status  int
	Code    string
	Details string
	kind    error
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("backend returned %d %s: %s", e.Status, e.Code, e.Details)
	}
	return fmt.Sprintf("backend returned %d %s", e.Status, e.Code)
}

func (e *APIError) Unwrap() error { return e.kind }

// classifyStatus maps a status and error code onto the calendar taxonomy.
func classifyStatus(status int, code string) error {
	switch {
	case code == "past_time":
		return calendar.ErrPastTime
	case code == "invalid_state":
		return calendar.ErrInvalidState
	case status == http.StatusConflict:
		return calendar.ErrConflict
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return calendar.ErrValidation
	case status == http.StatusNotFound:
		return calendar.ErrNotFound
	default:
		return calendar.ErrFetch
	}
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenProvider
	logger     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(logger) }
}

// New builds a client for the backend at baseURL.
func New(baseURL string, tokens TokenProvider, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doJSON sends one request and decodes a 2xx body into out. op names the
// span.
func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out any) (err error) {
	ctx, span := tracer.Start(ctx, "calendar.client."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	)
	defer func() {
		if err != nil && !errors.Is(err, calendar.ErrNotReady) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: marshal request: %v", calendar.ErrValidation, err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", calendar.ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %v", calendar.ErrFetch, method, path, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", calendar.ErrFetch, err)
	}
	if len(respBody) > maxResponseBytes {
		return fmt.Errorf("%w: %s %s: response exceeds %d bytes", calendar.ErrFetch, method, path, maxResponseBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var parsed struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if json.Unmarshal(respBody, &parsed) == nil {
			apiErr.Code, apiErr.Details = parsed.Error, parsed.Details
		}
		apiErr.kind = classifyStatus(resp.StatusCode, apiErr.Code)
		c.logger.Debug("backend non-2xx response",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code),
		)
		return apiErr
	}

	if len(respBody) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", calendar.ErrFetch, err)
	}
	return nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", calendar.ErrNotReady
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: token: %v", calendar.ErrFetch, err)
	}
	if strings.TrimSpace(tok) == "" {
		return "", calendar.ErrNotReady
	}
	return tok, nil
}
