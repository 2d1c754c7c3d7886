// Package ollama talks to a local Ollama server. It opens the raw chat stream
// consumed by the streaming core and implements the one-shot model directory
// calls (list, list active, unload, generate).
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// DefaultBaseURL is where a locally installed Ollama listens.
const DefaultBaseURL = "http://127.0.0.1:11434"

// activeModelPaths are tried in order. Older servers expose /api/running,
// current ones /api/ps.
var activeModelPaths = []string{"/api/ps", "/api/running"}

// maxErrorBody caps how much of a failed response is kept for the error.
const maxErrorBody = 4 << 10

// Client is safe for concurrent use. The underlying http.Client and its
// connection pool are shared by every call and every stream.
type Client struct {
	base           *url.URL
	http           *http.Client
	api            *api.Client
	requestTimeout time.Duration
	logger         *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client. It must not carry a
// Timeout, since that would cut long-running streams.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRequestTimeout bounds the non-streaming calls. Zero means no bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	c := &Client{
		base:   u,
		http:   &http.Client{},
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.api = api.NewClient(u, c.http)
	return c, nil
}

// BaseURL returns the upstream address.
func (c *Client) BaseURL() string { return c.base.String() }

// OpenChatStream posts a streaming chat request and returns the response body
// once the server has answered with a success status. The caller owns the
// body. ctx governs the whole stream, not just the handshake.
func (c *Client) OpenChatStream(ctx context.Context, model string, messages []api.Message) (io.ReadCloser, error) {
	stream := true
	payload, err := json.Marshal(&api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
	})
	if err != nil {
		return nil, fmt.Errorf("chat: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/chat"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	if !success(resp.StatusCode) {
		defer resp.Body.Close()
		return nil, newStatusError("chat", resp)
	}
	return resp.Body, nil
}

// ListModels returns the names of the installed models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	models, err := c.ListModelDetails(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	return names, nil
}

// ListModelDetails returns the installed models with their size and format
// details.
func (c *Client) ListModelDetails(ctx context.Context) ([]api.ListModelResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	lr, err := c.api.List(ctx)
	if err != nil {
		return nil, wrapAPIError("list models", err)
	}
	if lr.Models == nil {
		return []api.ListModelResponse{}, nil
	}
	return lr.Models, nil
}

// ListActiveModels returns the models currently loaded in memory. Each
// candidate endpoint is tried in turn and the first successful answer wins;
// when none answers the result is an empty list, not an error.
func (c *Client) ListActiveModels(ctx context.Context) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	for _, path := range activeModelPaths {
		body, err := c.doJSON(ctx, "list active models", http.MethodGet, path, nil)
		if err != nil {
			c.logger.Debug("active models endpoint failed", zap.String("path", path), zap.Error(err))
			continue
		}
		var pr api.ProcessResponse
		if err := json.Unmarshal(body, &pr); err != nil {
			c.logger.Debug("active models endpoint returned unexpected body", zap.String("path", path), zap.Error(err))
			continue
		}
		names := make([]string, 0, len(pr.Models))
		for _, m := range pr.Models {
			names = append(names, m.Name)
		}
		return names, nil
	}
	return []string{}, nil
}

// Unload asks the server to evict model from memory by issuing an empty
// generation with a zero keep-alive.
func (c *Client) Unload(ctx context.Context, model string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stream := false
	_, err := c.doJSON(ctx, "unload model", http.MethodPost, "/api/generate", &api.GenerateRequest{
		Model:     model,
		Prompt:    "",
		Stream:    &stream,
		KeepAlive: &api.Duration{Duration: 0},
	})
	return err
}

// generateResult covers both the generate and chat response shapes.
type generateResult struct {
	Response *string      `json:"response"`
	Message  *api.Message `json:"message"`
}

// Generate runs a blocking, non-streaming completion and returns its text.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stream := false
	body, err := c.doJSON(ctx, "generate", http.MethodPost, "/api/generate", &api.GenerateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: &stream,
	})
	if err != nil {
		return "", err
	}

	var res generateResult
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("generate: decode response: %w", err)
	}
	switch {
	case res.Response != nil:
		return *res.Response, nil
	case res.Message != nil:
		return res.Message.Content, nil
	default:
		return string(bytes.TrimSpace(body)), nil
	}
}

// doJSON performs a request with an optional JSON body and returns the
// response body of a successful call.
func (c *Client) doJSON(ctx context.Context, op, method, path string, in any) ([]byte, error) {
	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode) {
		return nil, newStatusError(op, resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}
	return body, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.JoinPath(path).String()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout > 0 {
		return context.WithTimeout(ctx, c.requestTimeout)
	}
	return context.WithCancel(ctx)
}

func success(code int) bool {
	return code >= 200 && code < 300
}

// StatusError reports a non-success HTTP status from the upstream server.
type StatusError struct {
	Op         string
	StatusCode int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, status)
}

func newStatusError(op string, resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Status: resp.Status, Message: msg}
}

// wrapAPIError converts errors from the ollama api package into the errors
// this package reports.
func wrapAPIError(op string, err error) error {
	var se api.StatusError
	if errors.As(err, &se) {
		return &StatusError{Op: op, StatusCode: se.StatusCode, Status: se.Status, Message: se.ErrorMessage}
	}
	return fmt.Errorf("%s: %w", op, err)
}
