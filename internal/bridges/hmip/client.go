package hmip

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ilot95/hmip-bridge/internal/infrastructure/config"
)

const (
	// DefaultLookupURL resolves the REST and WebSocket hosts of an access point.
	DefaultLookupURL = "https://lookup.homematic.com:48335/getHost"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 10 * time.Second

	apiVersion     = "12"
	clientAuthSalt = "jiLpVitHvWnIGD1yo7MA"
	applicationID  = "hmip-bridge"
	maxErrorBody   = 4096
	routeState     = "home/getCurrentState"
)

// RetryConfig configures retries of transient failures (429, 5xx, timeouts).
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// RetryConfigFrom converts the YAML retry section.
func RetryConfigFrom(cfg config.RetryConfig) *RetryConfig {
	return &RetryConfig{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: time.Duration(cfg.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.MaxBackoffMs) * time.Millisecond,
		Multiplier:     cfg.Multiplier,
	}
}

// Client talks to the HomematicIP cloud REST API on behalf of one access point.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	accessPointID string
	authToken     string
	clientAuth    string
	clientVersion string
	lookupURL     string
	httpClient    *http.Client
	retry         *RetryConfig
	logger        Logger

	urlMu   sync.RWMutex
	restURL string
	wsURL   string
}

// Option configures a Client.
type Option func(*Client)

// WithRESTURL sets the REST host and skips it during lookup.
func WithRESTURL(u string) Option {
	return func(c *Client) { c.restURL = strings.TrimRight(u, "/") }
}

// WithWebSocketURL sets the WebSocket URL.
func WithWebSocketURL(u string) Option {
	return func(c *Client) { c.wsURL = u }
}

// WithLookupURL overrides the lookup service URL.
func WithLookupURL(u string) Option {
	return func(c *Client) { c.lookupURL = u }
}

// WithHTTPClient sets a custom HTTP client. The client is copied, so later
// options such as WithTimeout never change the caller's value.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc == nil {
			return
		}
		cp := *hc
		c.httpClient = &cp
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRetry enables retries on transient failures.
func WithRetry(r *RetryConfig) Option {
	return func(c *Client) { c.retry = r }
}

// WithClientVersion sets the version reported in client characteristics.
func WithClientVersion(v string) Option {
	return func(c *Client) { c.clientVersion = v }
}

// WithLogger sets the logger used for retries.
func WithLogger(l Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client. The access point id may contain dashes.
func NewClient(accessPointID, authToken string, opts ...Option) (*Client, error) {
	ap := NormalizeAccessPointID(accessPointID)
	if ap == "" {
		return nil, fmt.Errorf("%w: access point id is empty", ErrUnauthorized)
	}
	if authToken == "" {
		return nil, fmt.Errorf("%w: auth token is empty", ErrUnauthorized)
	}

	c := &Client{
		accessPointID: ap,
		authToken:     authToken,
		clientAuth:    ClientAuth(ap),
		clientVersion: "1.0.0",
		lookupURL:     DefaultLookupURL,
		httpClient:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NormalizeAccessPointID strips separators and upper-cases the SGTIN.
func NormalizeAccessPointID(id string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(id) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ClientAuth derives the CLIENTAUTH header from the access point id.
func ClientAuth(accessPointID string) string {
	sum := sha512.Sum512([]byte(accessPointID + clientAuthSalt))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// RESTURL returns the REST host, empty until configured or looked up.
func (c *Client) RESTURL() string {
	c.urlMu.RLock()
	defer c.urlMu.RUnlock()
	return c.restURL
}

// WebSocketURL returns the push URL, empty until configured or looked up.
func (c *Client) WebSocketURL() string {
	c.urlMu.RLock()
	defer c.urlMu.RUnlock()
	return c.wsURL
}

// AuthHeaders returns the headers every request and the event stream carry.
func (c *Client) AuthHeaders() http.Header {
	h := http.Header{}
	h.Set("VERSION", apiVersion)
	h.Set("AUTHTOKEN", c.authToken)
	h.Set("CLIENTAUTH", c.clientAuth)
	h.Set("ACCESSPOINT-ID", c.accessPointID)
	return h
}

type clientCharacteristics struct {
	APIVersion            string `json:"apiVersion"`
	ApplicationIdentifier string `json:"applicationIdentifier"`
	ApplicationVersion    string `json:"applicationVersion"`
	DeviceManufacturer    string `json:"deviceManufacturer"`
	DeviceType            string `json:"deviceType"`
	Language              string `json:"language"`
	OSType                string `json:"osType"`
	OSVersion             string `json:"osVersion"`
}

type characteristicsRequest struct {
	ClientCharacteristics clientCharacteristics `json:"clientCharacteristics"`
	ID                    string                `json:"id,omitempty"`
}

func (c *Client) characteristics() clientCharacteristics {
	return clientCharacteristics{
		APIVersion:            "10",
		ApplicationIdentifier: applicationID,
		ApplicationVersion:    c.clientVersion,
		DeviceManufacturer:    "none",
		DeviceType:            "Computer",
		Language:              "en_US",
		OSType:                runtime.GOOS,
		OSVersion:             runtime.GOARCH,
	}
}

// LookupHosts resolves the REST and WebSocket hosts unless both are
// already known, and remembers the result.
func (c *Client) LookupHosts(ctx context.Context) (restURL, wsURL string, err error) {
	if rest, ws := c.RESTURL(), c.WebSocketURL(); rest != "" && ws != "" {
		return rest, ws, nil
	}

	body := characteristicsRequest{ClientCharacteristics: c.characteristics(), ID: c.accessPointID}
	data, err := c.doWithRetry(ctx, c.lookupURL, "getHost", body)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}

	var resp struct {
		URLREST      string `json:"urlREST"`
		URLWebSocket string `json:"urlWebSocket"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", "", fmt.Errorf("%w: decoding response: %w", ErrLookupFailed, err)
	}
	if resp.URLREST == "" {
		return "", "", fmt.Errorf("%w: no REST url for access point", ErrLookupFailed)
	}

	c.urlMu.Lock()
	if c.restURL == "" {
		c.restURL = strings.TrimRight(resp.URLREST, "/")
	}
	if c.wsURL == "" {
		c.wsURL = resp.URLWebSocket
	}
	restURL, wsURL = c.restURL, c.wsURL
	c.urlMu.Unlock()

	return restURL, wsURL, nil
}

// GetCurrentState fetches every device and group of the home.
func (c *Client) GetCurrentState(ctx context.Context) (*State, error) {
	data, err := c.call(ctx, routeState, characteristicsRequest{ClientCharacteristics: c.characteristics()})
	if err != nil {
		return nil, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding current state: %w", err)
	}
	if state.Devices == nil {
		state.Devices = make(map[string]*Device)
	}
	if state.Groups == nil {
		state.Groups = make(Groups)
	}
	return &state, nil
}

// Control posts a channel control request. Errors are returned as the
// transport or API reported them; the calling binding wraps them in
// ErrControlFailed.
func (c *Client) Control(ctx context.Context, route string, req ControlRequest) error {
	_, err := c.call(ctx, route, req)
	return err
}

// call posts body to <restURL>/hmip/<route>.
func (c *Client) call(ctx context.Context, route string, body any) ([]byte, error) {
	rest := c.RESTURL()
	if rest == "" {
		return nil, fmt.Errorf("%w: REST url not resolved", ErrLookupFailed)
	}
	return c.doWithRetry(ctx, rest+"/hmip/"+route, route, body)
}

// doWithRetry retries transient failures with exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, url, route string, body any) ([]byte, error) {
	if c.retry == nil {
		return c.do(ctx, url, route, body)
	}

	var lastErr error
	backoff := c.retry.InitialBackoff

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		data, err := c.do(ctx, url, route, body)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil || !isRetryable(err) {
			return nil, err
		}
		lastErr = err

		if attempt < c.retry.MaxRetries {
			if c.logger != nil {
				c.logger.Warn("retrying HomematicIP request",
					"route", route, "attempt", attempt+1, "backoff", backoff, "error", err)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			if c.retry.Multiplier > 1 {
				backoff = time.Duration(float64(backoff) * c.retry.Multiplier)
			}
			if c.retry.MaxBackoff > 0 && backoff > c.retry.MaxBackoff {
				backoff = c.retry.MaxBackoff
			}
		}
	}

	return nil, lastErr
}

// do performs one POST and returns the response body.
func (c *Client) do(ctx context.Context, url, route string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s request: %w", route, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", route, err)
	}
	for k, v := range c.AuthHeaders() {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", route, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", route, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, handleError(resp.StatusCode, route, respBody)
	}
	return respBody, nil
}

// handleError maps an error response to a sentinel or *APIError.
func handleError(status int, route string, body []byte) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s returned %d", ErrUnauthorized, route, status)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, route)
	}

	apiErr := &APIError{StatusCode: status, Route: route}
	var payload struct {
		ErrorCode string `json:"errorCode"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.ErrorCode != "" {
		apiErr.Code = payload.ErrorCode
	} else {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// isRetryable reports whether err is a transient failure worth retrying.
func isRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
