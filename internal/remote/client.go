package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/storefront/internal/basket"
	"github.com/angelmondragon/storefront/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/angelmondragon/storefront/pkg/metrics"
	"github.com/sethvargo/go-retry"
)

const (
	requestIDHeader  = "X-Request-Id"
	maxResponseBytes = 1 << 20
	defaultBaseDelay = 100 * time.Millisecond
)

// Client talks to the basket API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
	baseDelay  time.Duration
	logg       *logger.Logger
	metrics    *metrics.BasketMetrics
}

// Params configures a Client. HTTPClient overrides the one built from Config.
type Params struct {
	Config     config.RemoteConfig
	HTTPClient *http.Client
	Logger     *logger.Logger
	Metrics    *metrics.BasketMetrics
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.status, e.body)
}

// New builds a client for the configured base URL.
func New(p Params) *Client {
	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: p.Config.Timeout}
	}
	delay := p.Config.RetryBaseDelay
	if delay <= 0 {
		delay = defaultBaseDelay
	}
	return &Client{
		baseURL:    strings.TrimRight(p.Config.BaseURL, "/"),
		httpClient: httpClient,
		maxRetries: p.Config.MaxRetries,
		baseDelay:  delay,
		logg:       p.Logger,
		metrics:    p.Metrics,
	}
}

// Current returns the basket the API associates with this session.
func (c *Client) Current(ctx context.Context) (*basket.Basket, error) {
	data, err := c.call(ctx, http.MethodGet, "/baskets", nil)
	if err != nil {
		return nil, err
	}
	return c.decode(http.MethodGet, "/baskets", data)
}

// Get returns the basket with the given id. A 404 is reported as NOT_FOUND.
func (c *Client) Get(ctx context.Context, id string) (*basket.Basket, error) {
	path := basketPath(id)
	data, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	b, err := c.decode(http.MethodGet, path, data)
	if err != nil {
		return nil, err
	}
	if b.ID != id {
		return nil, c.fail(http.MethodGet, path, 0, fmt.Errorf("requested basket %s, received %s", id, b.ID))
	}
	return b, nil
}

// Save stores the full basket and returns the API's copy. The copy must carry
// the same id.
func (c *Client) Save(ctx context.Context, b *basket.Basket) (*basket.Basket, error) {
	data, err := c.call(ctx, http.MethodPost, "/baskets", basket.ToDocument(b))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return b.Clone(), nil
	}
	saved, err := c.decode(http.MethodPost, "/baskets", data)
	if err != nil {
		return nil, err
	}
	if saved.ID != b.ID {
		return nil, c.fail(http.MethodPost, "/baskets", 0, fmt.Errorf("saved basket %s, received %s", b.ID, saved.ID))
	}
	return saved, nil
}

// Delete removes the basket with the given id.
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.call(ctx, http.MethodDelete, basketPath(id), nil)
	return err
}

func basketPath(id string) string {
	return "/baskets/" + url.PathEscape(id)
}

func (c *Client) call(ctx context.Context, method, path string, body any) ([]byte, error) {
	data, status, err := c.do(ctx, method, path, body)
	if err != nil || (status != http.StatusNotFound && (status < 200 || status > 299)) {
		c.logFailure(ctx, method, path, status, err)
	}
	switch {
	case err != nil:
		return nil, c.fail(method, path, status, err)
	case status == http.StatusNotFound:
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "basket not found").WithDetails(map[string]any{
			"method": method,
			"path":   path,
		})
	case status < 200 || status > 299:
		return nil, c.fail(method, path, status, &statusError{status: status, body: string(data)})
	}
	return data, nil
}

// do sends the request, retrying transport failures, 5xx and 429 with
// exponential backoff.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = encoded
	}

	var (
		respBody []byte
		status   int
	)
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.baseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if reqID := logger.RequestIDFromContext(ctx); reqID != "" {
			req.Header.Set(requestIDHeader, reqID)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.RetryableError(fmt.Errorf("failed to call basket API: %w", err))
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("failed to read response body: %w", err))
		}
		status = resp.StatusCode
		respBody = data
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			return retry.RetryableError(&statusError{status: status, body: string(data)})
		}
		return nil
	})
	if err != nil {
		return nil, status, err
	}
	return respBody, status, nil
}

func (c *Client) logFailure(ctx context.Context, method, path string, status int, err error) {
	if c.logg == nil {
		return
	}
	fields := map[string]any{"method": method, "path": path, "status": status}
	if err != nil {
		fields["error"] = err.Error()
	}
	c.logg.Warn(c.logg.WithFields(ctx, fields), "basket API request failed")
}

func (c *Client) decode(method, path string, data []byte) (*basket.Basket, error) {
	b, err := basket.Decode(data)
	if err != nil {
		return nil, c.fail(method, path, 0, err)
	}
	return b, nil
}

func (c *Client) fail(method, path string, status int, err error) error {
	c.metrics.IncRemoteSyncFailure(method)
	details := map[string]any{
		"method": method,
		"path":   path,
	}
	if status != 0 {
		details["status"] = status
	}
	return pkgerrors.Wrap(pkgerrors.CodeRemoteSync, err, "basket API request failed").WithDetails(details)
}
