// Package arcgis is a minimal client for the ArcGIS Online Sharing API,
// covering exactly the calls the publisher needs: token generation, item
// lookup, item data upload, publish-with-overwrite and feature service
// time settings.
//
// The Sharing API reports failures as HTTP 200 responses carrying an
// error envelope in the JSON body; every call here surfaces those as Go
// errors.
package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kr/pretty"
	"go.uber.org/zap"
)

const (
	sharingPath    = "/sharing/rest"
	defaultTimeout = 60 * time.Second
	defaultReferer = "https://www.arcgis.com"
)

// Client talks to one ArcGIS Online organization.
type Client struct {
	orgURL  string
	referer string
	http    *http.Client
	log     *zap.SugaredLogger
	token   string
}

// Option defines functional options for configuring the client.
type Option func(*Client)

// WithTimeout sets a custom timeout for API requests.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http = httpClient
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a client for the organization at orgURL, e.g.
// "https://myorg.maps.arcgis.com".
func NewClient(orgURL string, opts ...Option) (*Client, error) {
	if orgURL == "" {
		return nil, fmt.Errorf("organization URL cannot be empty")
	}

	c := &Client{
		orgURL:  strings.TrimRight(orgURL, "/"),
		referer: defaultReferer,
		http:    &http.Client{Timeout: defaultTimeout},
		log:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Token returns the session token acquired by GenerateToken, or "".
func (c *Client) Token() string {
	return c.token
}

// apiError is the vendor error envelope.
type apiError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *apiError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("arcgis error %d: %s (%s)", e.Code, e.Message, strings.Join(e.Details, "; "))
	}
	return fmt.Sprintf("arcgis error %d: %s", e.Code, e.Message)
}

// GenerateToken authenticates with username/password and caches the
// resulting session token on the client for subsequent calls.
func (c *Client) GenerateToken(ctx context.Context, username, password string) error {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("referer", c.referer)
	form.Set("expiration", "60")

	var resp struct {
		Token   string `json:"token"`
		Expires int64  `json:"expires"`
	}
	if err := c.postForm(ctx, sharingPath+"/generateToken", form, &resp); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	if resp.Token == "" {
		return fmt.Errorf("authentication failed: empty token in response")
	}

	c.token = resp.Token
	c.log.Debugw("acquired arcgis token", "expires", time.UnixMilli(resp.Expires))
	return nil
}

// postForm sends a form-encoded POST to path under the org URL and decodes
// the JSON response into out. f=json and the cached token are always set.
func (c *Client) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	form.Set("f", "json")
	if c.token != "" {
		form.Set("token", c.token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req, out)
}

// getJSON sends a GET with f=json and the cached token as query params.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	query := url.Values{}
	query.Set("f", "json")
	if c.token != "" {
		query.Set("token", c.token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path)+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req, out)
}

// url resolves a path against the org URL; absolute URLs (service admin
// endpoints on a different host) pass through unchanged.
func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.orgURL + path
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// Vendor errors come back as 200 with an error envelope.
	var envelope struct {
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response body: %w", err)
		}
		c.log.Debugf("arcgis response for %s: %s", req.URL.Path, pretty.Sprint(out))
	}

	return nil
}
