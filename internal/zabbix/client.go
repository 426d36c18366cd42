// Package zabbix is a minimal JSON-RPC 2.0 client for the Zabbix API.
package zabbix

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"zabbixgateway/internal/metrics"

	"github.com/phuslu/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single upstream call.
	DefaultTimeout = 30 * time.Second

	jsonRPCVersion = "2.0"
	maxErrorBody   = 4 << 10
)

// Client issues JSON-RPC calls to one Zabbix endpoint. It holds no per
// request state and is safe for concurrent use.
type Client struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
	skipVerify bool
	limiter    *rate.Limiter
	metrics    *metrics.Registry
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client. Timeout and TLS options are then
// the caller's responsibility.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per call timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithInsecureSkipVerify disables upstream certificate verification.
func WithInsecureSkipVerify(skip bool) ClientOption {
	return func(c *Client) {
		c.skipVerify = skip
	}
}

// WithRateLimit caps outbound calls per second. Zero or less means no cap.
func WithRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithMetrics records every call on r.
func WithMetrics(r *metrics.Registry) ClientOption {
	return func(c *Client) {
		c.metrics = r
	}
}

// NewClient creates a client for the JSON-RPC endpoint at url.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:     url,
		timeout: DefaultTimeout,
		limiter: rate.NewLimiter(rate.Inf, 0),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		// #nosec G402 -- skip TLS verification if configured
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: c.skipVerify}
		c.httpClient = &http.Client{
			Timeout:   c.timeout,
			Transport: transport,
		}
	}

	return c
}

// URL returns the upstream endpoint.
func (c *Client) URL() string {
	return c.url
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int    `json:"id"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Call sends one JSON-RPC request and decodes its result into result. The
// token, when set, travels as a bearer Authorization header. A nil params is
// left out of the request object.
func (c *Client) Call(ctx context.Context, method string, params any, token string, result any) error {
	start := time.Now()
	err := c.call(ctx, method, params, token, result)
	c.metrics.ObserveUpstream(method, outcome(err), time.Since(start))

	if err != nil {
		log.Debug().Str("method", method).Err(err).Dur("dur", time.Since(start)).Msg("zabbix call failed")
		return err
	}
	log.Debug().Str("method", method).Dur("dur", time.Since(start)).Msg("zabbix call")
	return nil
}

func (c *Client) call(ctx context.Context, method string, params any, token string, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return classify(fmt.Errorf("rate limit wait: %w", err))
	}

	body, err := json.Marshal(request{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  params,
		ID:      1,
	})
	if err != nil {
		return fmt.Errorf("zabbix: encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("zabbix: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("zabbix: %s returned status %d: %s", method, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var rpcResp response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return classify(fmt.Errorf("decode %s response: %w", method, err))
	}
	if rpcResp.Error != nil {
		rpcResp.Error.Method = method
		return rpcResp.Error
	}
	if result == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("zabbix: decode %s result: %w", method, err)
	}
	return nil
}
