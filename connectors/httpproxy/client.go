// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpproxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"toolgate/platform/connectors/base"
	"toolgate/platform/shared/logger"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 30 * time.Second
	// DefaultMaxResponseSize is the maximum response body size (10MB)
	DefaultMaxResponseSize = 10 * 1024 * 1024
	// DefaultMaxRetries is the default number of retry attempts for idempotent methods
	DefaultMaxRetries = 2
	// DefaultRetryDelay is the initial delay between retries
	DefaultRetryDelay = 100 * time.Millisecond
	// MaxRetryDelay is the maximum delay between retries
	MaxRetryDelay = 5 * time.Second
)

// Auth types understood by the client
const (
	AuthNone   = "none"
	AuthBasic  = "basic"
	AuthBearer = "bearer"
	AuthAPIKey = "api-key"
)

var errResponseTooLarge = errors.New("response size exceeds limit")

// Option adjusts the connector config before a client is built
type Option func(*base.ConnectorConfig)

// WithBaseURL overrides the upstream base URL
func WithBaseURL(u string) Option {
	return func(c *base.ConnectorConfig) { c.ConnectionURL = u }
}

// WithAllowPrivateIPs disables the private address check on the base URL
func WithAllowPrivateIPs() Option {
	return func(c *base.ConnectorConfig) { setOption(c, "allow_private_ips", true) }
}

// WithMaxRetries sets the retry count for idempotent requests
func WithMaxRetries(n int) Option {
	return func(c *base.ConnectorConfig) { c.MaxRetries = n; setOption(c, "max_retries", n) }
}

// WithRetryDelay sets the initial backoff delay
func WithRetryDelay(d time.Duration) Option {
	return func(c *base.ConnectorConfig) { setOption(c, "retry_delay", d) }
}

// WithMaxResponseSize caps the number of body bytes read from upstream
func WithMaxResponseSize(n int64) Option {
	return func(c *base.ConnectorConfig) { setOption(c, "max_response_size", n) }
}

// WithTimeout sets the per request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *base.ConnectorConfig) { c.Timeout = d }
}

func setOption(c *base.ConnectorConfig, key string, v interface{}) {
	if c.Options == nil {
		c.Options = make(map[string]interface{})
	}
	c.Options[key] = v
}

// Apply runs opts against cfg
func Apply(cfg *base.ConnectorConfig, opts ...Option) {
	for _, opt := range opts {
		opt(cfg)
	}
}

// Client talks to a single upstream REST API rooted at a fixed base URL
type Client struct {
	name            string
	baseURL         *url.URL
	httpClient      *http.Client
	authType        string
	credentials     map[string]string
	maxResponseSize int64
	maxRetries      int
	retryDelay      time.Duration
	logger          *logger.Logger
}

// NewClient validates the config and builds a client.
// Credentials keys: username/password (basic), token (bearer), api_key and header_name (api-key).
func NewClient(cfg *base.ConnectorConfig) (*Client, error) {
	if cfg == nil {
		return nil, base.NewConnectorError("http", "NewClient", "config is required", nil)
	}

	opts := base.DefaultURLValidationOptions()
	opts.AllowPrivateIPs = cfg.BoolOption("allow_private_ips", false)
	if err := base.ValidateURL(cfg.ConnectionURL, opts); err != nil {
		return nil, base.NewConnectorError(cfg.Name, "NewClient", "invalid base URL", err)
	}

	parsed, err := url.Parse(strings.TrimSuffix(cfg.ConnectionURL, "/"))
	if err != nil {
		return nil, base.NewConnectorError(cfg.Name, "NewClient", "invalid base URL", err)
	}

	c := &Client{
		name:            cfg.Name,
		baseURL:         parsed,
		authType:        AuthNone,
		credentials:     make(map[string]string, len(cfg.Credentials)),
		maxResponseSize: DefaultMaxResponseSize,
		maxRetries:      DefaultMaxRetries,
		retryDelay:      DefaultRetryDelay,
		logger:          logger.New("http-proxy").With(cfg.Name),
	}
	for k, v := range cfg.Credentials {
		c.credentials[k] = v
	}

	if authType, ok := cfg.Options["auth_type"].(string); ok && authType != "" {
		switch authType {
		case AuthNone, AuthBasic, AuthBearer, AuthAPIKey:
			c.authType = authType
		default:
			return nil, base.NewConnectorError(cfg.Name, "NewClient", fmt.Sprintf("unsupported auth_type %q", authType), nil)
		}
	}

	if n, ok := cfg.Options["max_response_size"].(int64); ok && n > 0 {
		c.maxResponseSize = n
	}
	if n, ok := cfg.Options["max_retries"].(int); ok && n >= 0 {
		c.maxRetries = n
	}
	if d, ok := cfg.Options["retry_delay"].(time.Duration); ok && d >= 0 {
		c.retryDelay = d
	}

	timeout := DefaultTimeout
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:    100,
		MaxConnsPerHost: 10,
		IdleConnTimeout: 90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	c.httpClient = &http.Client{Timeout: timeout, Transport: transport}

	return c, nil
}

// BaseURL returns the upstream root
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Request is one upstream call
type Request struct {
	Method string
	// Path is appended to the base URL. An absolute URL is accepted when it
	// points at the same host as the base URL.
	Path  string
	Query url.Values
	// Body is JSON encoded when non-nil
	Body interface{}
	// Raw returns the body as a Download instead of decoding JSON
	Raw bool
}

// Download is the result of a raw request
type Download struct {
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Content     []byte `json:"content"`
}

// Do sends req and maps the response:
// 204 becomes a success status, 201 without a body becomes a created status,
// other 2xx bodies are decoded as JSON and non-2xx become a *ProxyError.
func (c *Client) Do(ctx context.Context, req Request) (interface{}, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.resolve(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	var bodyBytes []byte
	if req.Body != nil {
		bodyBytes, err = json.Marshal(req.Body)
		if err != nil {
			return nil, base.InvalidArgs("failed to encode request body: %v", err)
		}
	}

	start := time.Now()
	resp, err := c.send(ctx, method, target, bodyBytes, req.Raw)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := c.readBody(resp)
	if err != nil {
		return nil, base.NewConnectorError(c.name, method, "failed to read response", err)
	}

	c.logger.Debug("", "", "Upstream request completed", map[string]interface{}{
		"method":      method,
		"path":        base.SanitizeLogString(target.Path),
		"status":      resp.StatusCode,
		"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
	})

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newHTTPError(resp.StatusCode, body)
	}

	switch {
	case req.Raw:
		return &Download{
			ContentType: resp.Header.Get("Content-Type"),
			Size:        len(body),
			Content:     body,
		}, nil
	case resp.StatusCode == http.StatusNoContent:
		return map[string]interface{}{
			"status":  "success",
			"message": "Operation successful, no content returned.",
		}, nil
	case resp.StatusCode == http.StatusCreated && len(bytes.TrimSpace(body)) == 0:
		return map[string]interface{}{
			"status":  "created",
			"message": "Resource created, no JSON body returned.",
		}, nil
	case len(bytes.TrimSpace(body)) == 0:
		return map[string]interface{}{"status": "success"}, nil
	}

	var result interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&result); err != nil {
		return map[string]interface{}{"response": string(body)}, nil
	}
	return result, nil
}

func (c *Client) resolve(path string, query url.Values) (*url.URL, error) {
	var target *url.URL
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		u, err := url.Parse(path)
		if err != nil {
			return nil, base.InvalidArgs("invalid URL: %v", err)
		}
		if !strings.EqualFold(u.Host, c.baseURL.Host) || u.Scheme != c.baseURL.Scheme {
			return nil, base.InvalidArgs("URL host %q does not match %q", u.Host, c.baseURL.Host)
		}
		target = u
	} else {
		if path != "" && !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		rel, err := url.Parse(path)
		if err != nil || rel.Host != "" {
			return nil, base.InvalidArgs("invalid path %q", path)
		}
		u := *c.baseURL
		u.Path = c.baseURL.Path + rel.Path
		u.RawPath = c.baseURL.EscapedPath() + rel.EscapedPath()
		u.RawQuery = rel.RawQuery
		target = &u
	}

	if len(query) > 0 {
		q := target.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}
	return target, nil
}

func (c *Client) send(ctx context.Context, method string, target *url.URL, body []byte, raw bool) (*http.Response, error) {
	retries := 0
	if isIdempotent(method) {
		retries = c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			c.logger.Warn("", "", "Retrying upstream request", map[string]interface{}{
				"attempt": attempt,
				"method":  method,
				"delay":   delay.String(),
				"error":   lastErr.Error(),
			})
			select {
			case <-ctx.Done():
				return nil, base.NewConnectorError(c.name, method, "context cancelled during retry", ctx.Err())
			case <-time.After(delay):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
		if err != nil {
			return nil, base.NewConnectorError(c.name, method, "failed to create request", err)
		}
		c.applyAuth(req)
		c.applyHeaders(req, body != nil, raw)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if attempt < retries && isRetryableStatusCode(resp.StatusCode) {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, base.NewConnectorError(c.name, method, "Request error", lastErr)
}

func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxResponseSize {
		return nil, fmt.Errorf("%w of %d bytes", errResponseTooLarge, c.maxResponseSize)
	}
	return body, nil
}

func (c *Client) applyAuth(req *http.Request) {
	switch c.authType {
	case AuthBearer:
		if token := c.credentials["token"]; token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	case AuthBasic:
		if username, ok := c.credentials["username"]; ok {
			req.SetBasicAuth(username, c.credentials["password"])
		}
	case AuthAPIKey:
		if key := c.credentials["api_key"]; key != "" {
			headerName := c.credentials["header_name"]
			if headerName == "" {
				headerName = "X-API-Key"
			}
			req.Header.Set(headerName, key)
		}
	}
}

func (c *Client) applyHeaders(req *http.Request, hasBody, raw bool) {
	if raw {
		req.Header.Set("Accept", "*/*")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "Toolgate-HTTP-Proxy/1.0")
}

// calculateBackoff calculates exponential backoff delay
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := c.retryDelay * time.Duration(1<<uint(attempt-1))
	if delay > MaxRetryDelay {
		delay = MaxRetryDelay
	}
	return delay
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

// isRetryableStatusCode returns true if the status code indicates a retryable error
func isRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
