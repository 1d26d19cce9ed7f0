package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	pathList     = "/gmail/messages/list"
	pathModify   = "/gmail/messages/modify"
	pathClassify = "/gmail/messages/classify"
	pathSettings = "/gmail/settings"

	defaultTimeout = 30 * time.Second
	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 64 << 10
)

// Client talks to the inbox backend over HTTP JSON. It never retries:
// failures surface to the caller, which owns the retry policy.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	logger          *slog.Logger
	classifyLimiter *rate.Limiter
}

var _ API = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the transport. The token source is not applied
// to a client supplied this way.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithClassifyRate caps classify calls per second. Zero or less disables
// the cap.
func WithClassifyRate(qps float64) ClientOption {
	return func(c *Client) {
		if qps <= 0 {
			c.classifyLimiter = nil
			return
		}
		burst := int(qps)
		if burst < 1 {
			burst = 1
		}
		c.classifyLimiter = rate.NewLimiter(rate.Limit(qps), burst)
	}
}

// NewClient creates a backend client. When tokenSource is non-nil every
// request carries its token as a Bearer Authorization header.
func NewClient(baseURL string, tokenSource oauth2.TokenSource, opts ...ClientOption) *Client {
	var hc *http.Client
	if tokenSource != nil {
		hc = oauth2.NewClient(context.Background(), tokenSource)
	} else {
		hc = &http.Client{}
	}
	hc.Timeout = defaultTimeout

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StaticToken wraps a fixed API token for NewClient.
func StaticToken(token string) oauth2.TokenSource {
	if token == "" {
		return nil
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}

func (c *Client) ListMessages(ctx context.Context, req ListRequest) (*ListResponse, error) {
	var resp ListResponse
	if err := c.post(ctx, pathList, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ModifyLabels(ctx context.Context, req ModifyRequest) error {
	if req.AddLabelIDs == nil {
		req.AddLabelIDs = []string{}
	}
	if req.RemoveLabelIDs == nil {
		req.RemoveLabelIDs = []string{}
	}
	return c.post(ctx, pathModify, req, nil)
}

func (c *Client) Classify(ctx context.Context, req ClassifyRequest) (*Classification, error) {
	if c.classifyLimiter != nil {
		if err := c.classifyLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("classify rate limit: %w", err)
		}
	}
	var resp Classification
	if err := c.post(ctx, pathClassify, req, &resp); err != nil {
		return nil, err
	}
	normalized := resp.Normalize()
	return &normalized, nil
}

// SaveSettings stores settings for email. Fields missing from the response,
// or an empty response, keep the values that were sent.
func (c *Client) SaveSettings(ctx context.Context, email string, settings Settings) (*Settings, error) {
	resp := settings
	if err := c.post(ctx, pathSettings, saveSettingsRequest{Email: email, Settings: settings}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		"path", path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return newAPIError(resp.StatusCode, path, resp.Header, respBody)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response from %s: %w", path, err)
	}
	if result == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshal response from %s: %w", path, err)
	}
	return nil
}
