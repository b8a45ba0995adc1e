// Package client provides the Shopify Admin GraphQL transport with error
// classification, throttle-aware retries and multipart uploads.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for Shopify client operations.
var (
	shopifyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopify_graphql_requests_total",
		Help: "Total Shopify GraphQL requests by operation and status",
	}, []string{"operation", "status"})

	shopifyRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shopify_graphql_request_duration_seconds",
		Help:    "Shopify GraphQL request duration in seconds by operation",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"operation"})

	shopifyErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopify_errors_total",
		Help: "Total Shopify errors by class",
	}, []string{"class"})
)

// DefaultAPIVersion is the Admin API version used when none is configured.
const DefaultAPIVersion = "2024-01"

// Client is the Shopify Admin GraphQL client.
type Client struct {
	httpClient *http.Client
	config     Config
	endpoint   string
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Shop is the shop name, the part before .myshopify.com.
	Shop string

	// AccessToken is sent as X-Shopify-Access-Token.
	AccessToken string

	// APIVersion is the Admin API version, e.g. "2024-01".
	APIVersion string

	// BaseURL overrides https://{shop}.myshopify.com. Used in tests.
	BaseURL string

	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client

	// Timeout applies to the default HTTP client.
	Timeout time.Duration

	UserAgent string

	// Logger is the base logger. Nil uses the global zerolog logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns a configuration for the given shop and token.
func DefaultConfig(shop, accessToken string) Config {
	return Config{
		Shop:        shop,
		AccessToken: accessToken,
		APIVersion:  DefaultAPIVersion,
		Timeout:     30 * time.Second,
		UserAgent:   "shopify-bulk/1.0",
	}
}

// New creates a new Shopify client.
func New(cfg Config) (*Client, error) {
	if cfg.Shop == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("shop is required")
	}

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}

	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = fmt.Sprintf("https://%s.myshopify.com", cfg.Shop)
	}

	baseLogger := log.Logger
	if cfg.Logger != nil {
		baseLogger = *cfg.Logger
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
		endpoint:   fmt.Sprintf("%s/admin/api/%s/graphql.json", base, cfg.APIVersion),
		logger:     baseLogger.With().Str("component", "shopify-client").Str("shop", cfg.Shop).Logger(),
	}, nil
}

// Endpoint returns the GraphQL endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Shop returns the configured shop name.
func (c *Client) Shop() string {
	return c.config.Shop
}

// HTTPClient returns the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Do posts one GraphQL request and decodes data into out (if non-nil).
// A THROTTLED response returns an error matching ErrThrottled; any other
// top-level GraphQL error or non-200 status is returned classified and is
// never retried here.
func (c *Client) Do(ctx context.Context, req Request, out any) (*Response, error) {
	op := operationName(req.Query)

	startTime := time.Now()
	defer func() {
		shopifyRequestDuration.WithLabelValues(op).Observe(time.Since(startTime).Seconds())
	}()

	body, err := json.Marshal(Request{Query: strings.TrimSpace(req.Query), Variables: req.Variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Shopify-Access-Token", c.config.AccessToken)
	if c.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().Str("operation", op).Msg("Executing GraphQL request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, WrapContext(ctx, err)
		}
		c.logger.Error().Err(err).Str("operation", op).Msg("HTTP request failed")
		shopifyRequestsTotal.WithLabelValues(op, "network_error").Inc()
		return nil, c.fail(&Error{Class: ClassTransport, Message: "request failed", Err: err})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(&Error{Class: ClassTransport, StatusCode: resp.StatusCode, Message: "read response body", Err: err})
	}

	shopifyRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().
			Str("operation", op).
			Int("status_code", resp.StatusCode).
			Msg("Shopify request error")
		return nil, c.fail(&Error{
			Class:      ClassTransport,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s: %s", resp.Status, truncate(raw, 512)),
		})
	}

	var gqlResp Response
	if err := json.Unmarshal(raw, &gqlResp); err != nil {
		return nil, c.fail(&Error{Class: ClassTransport, StatusCode: resp.StatusCode, Message: "decode graphql response", Err: err})
	}

	if len(gqlResp.Errors) > 0 {
		if IsThrottled(gqlResp.Errors) {
			c.logger.Debug().Str("operation", op).Msg("Request throttled")
			return &gqlResp, c.fail(&Error{Class: ClassThrottled, StatusCode: resp.StatusCode, Message: FormatErrors(gqlResp.Errors)})
		}
		c.logger.Warn().
			Str("operation", op).
			Str("errors", FormatErrors(gqlResp.Errors)).
			Msg("GraphQL errors in response")
		return &gqlResp, c.fail(&Error{Class: ClassGraphQL, StatusCode: resp.StatusCode, Message: FormatErrors(gqlResp.Errors)})
	}

	if out != nil {
		if len(gqlResp.Data) == 0 || string(gqlResp.Data) == "null" {
			return &gqlResp, c.fail(&Error{Class: ClassGraphQL, StatusCode: resp.StatusCode, Message: "response has no data"})
		}
		if err := json.Unmarshal(gqlResp.Data, out); err != nil {
			return &gqlResp, c.fail(&Error{Class: ClassTransport, StatusCode: resp.StatusCode, Message: "decode graphql data", Err: err})
		}
	}

	return &gqlResp, nil
}

// Download fetches a URL (e.g. a bulk operation result file) without the
// Shopify access token. The caller closes the body.
func (c *Client) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, WrapContext(ctx, err)
		}
		return nil, c.fail(&Error{Class: ClassTransport, Message: "download failed", Err: err})
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, c.fail(&Error{
			Class:      ClassTransport,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("download %s: %s", resp.Status, raw),
		})
	}

	return resp.Body, nil
}

func (c *Client) fail(err *Error) *Error {
	shopifyErrorsTotal.WithLabelValues(string(err.Class)).Inc()
	return err
}

var operationPattern = regexp.MustCompile(`^(?:query|mutation)\s+([A-Za-z_][A-Za-z0-9_]*)`)
var firstFieldPattern = regexp.MustCompile(`\{\s*([A-Za-z_][A-Za-z0-9_]*)`)

// operationName returns a metric label for a GraphQL document: the declared
// operation name, or the first selected field.
func operationName(query string) string {
	q := strings.TrimSpace(query)
	if m := operationPattern.FindStringSubmatch(q); m != nil {
		return m[1]
	}
	if m := firstFieldPattern.FindStringSubmatch(q); m != nil {
		return m[1]
	}
	return "anonymous"
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
