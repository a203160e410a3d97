// Package gateway queries the remote demand gateway over HTTP.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/evsim/auth"
	"github.com/kilianp07/evsim/core/demand"
	"github.com/kilianp07/evsim/core/logger"
)

const placeholder = "{}"

// Client implements demand.Oracle against the gateway.
type Client struct {
	baseURL string
	http    *http.Client
	log     logger.Logger
	auth    *auth.ClientCred
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = logger.OrNop(l) }
}

// WithClientCredentials authenticates every request with an OAuth2 bearer
// token. A disabled conf is ignored.
func WithClientCredentials(conf auth.Conf) Option {
	return func(c *Client) {
		if conf.Enabled() {
			c.auth = auth.NewClientCred(conf)
		}
	}
}

// NewClient returns a client for baseURL, a template in which "{}" is
// replaced by the endpoint path. A template without placeholder gets the
// endpoint appended.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("gateway base url required")
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     logger.NopLogger{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// URL expands the base template for endpoint.
func (c *Client) URL(endpoint string) string {
	if strings.Contains(c.baseURL, placeholder) {
		return strings.Replace(c.baseURL, placeholder, endpoint, 1)
	}
	return strings.TrimRight(c.baseURL, "/") + "/" + endpoint
}

type affluenceResponse struct {
	Affluence any `json:"affluence"`
}

// count truncates numeric values and parses integer strings.
func (r affluenceResponse) count() (int, error) {
	switch v := r.Affluence.(type) {
	case nil:
		return 0, errors.New("affluence missing from response")
	case json.Number:
		f, err := v.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("affluence %q is not a number", v)
		}
		return int(f), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("affluence %q is not an integer", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("affluence has unexpected type %T", v)
	}
}

// Affluence fetches the number of travel requests for hour.
func (c *Client) Affluence(ctx context.Context, hour int) (int, error) {
	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("hour %d out of range: %w", hour, demand.ErrOracleUnavailable)
	}
	body, err := c.get(ctx, fmt.Sprintf("travel/affluence/%d", hour))
	if err != nil {
		return 0, err
	}
	var res affluenceResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&res); err != nil {
		return 0, fmt.Errorf("decode affluence: %v: %w", err, demand.ErrOracleUnavailable)
	}
	n, err := res.count()
	if err != nil {
		return 0, fmt.Errorf("%v: %w", err, demand.ErrOracleUnavailable)
	}
	return n, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	url := c.URL(endpoint)
	c.log.Debugf("\\\\\\ GATEWAY \\\\\\ URL: %s", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v: %w", err, demand.ErrOracleUnavailable)
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		if err := c.auth.SetAuthHeader(req); err != nil {
			return nil, fmt.Errorf("authenticate: %v: %w", err, demand.ErrOracleUnavailable)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %v: %w", err, demand.ErrOracleUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v: %w", err, demand.ErrOracleUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s: %w", resp.StatusCode, body, demand.ErrOracleUnavailable)
	}
	c.log.Debugf("\\\\\\ GATEWAY \\\\\\ RESPONSE: %s", body)
	return body, nil
}
