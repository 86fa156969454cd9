package provider

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

	"go.uber.org/zap"
)

const clientInfo = "authflow-go/1.0"

// expiryMargin refreshes a session slightly before the provider would reject it
const expiryMargin = 10 * time.Second

// Option configures a Client or AdminClient
type Option func(*options)

type options struct {
	httpClient *http.Client
	store      SessionStore
	logger     *zap.Logger
	now        func() time.Time
}

// WithHTTPClient sets the HTTP client used for provider calls
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithSessionStore sets where the client persists the session
func WithSessionStore(s SessionStore) Option {
	return func(o *options) { o.store = s }
}

// WithLogger sets the client logger
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides the time source, used for expiry checks
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{
		// No timeout: provider calls are cancelled through their context only.
		httpClient: &http.Client{Transport: http.DefaultTransport},
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = NewMemoryStore()
	}
	return o
}

// transport holds what every provider request needs
type transport struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func newTransport(rawURL, apiKey string, o options) (*transport, error) {
	if rawURL == "" {
		return nil, ErrMissingURL
	}
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	u, err := url.Parse(strings.TrimSuffix(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid service URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid service URL %q: must be absolute", rawURL)
	}
	return &transport{
		baseURL:    u,
		apiKey:     apiKey,
		httpClient: o.httpClient,
		logger:     o.logger,
	}, nil
}

// do sends a JSON request and decodes a JSON response into out (when non-nil).
// bearer defaults to the API key.
func (t *transport) do(ctx context.Context, method, path string, query url.Values, bearer string, body, out interface{}) error {
	endpoint := *t.baseURL
	endpoint.Path = t.baseURL.Path + path
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if bearer == "" {
		bearer = t.apiKey
	}
	req.Header.Set("apikey", t.apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-Info", clientInfo)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeAPIError(resp.StatusCode, respBody)
		t.logger.Debug("provider request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code))
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Client is the long-lived handle to the hosted auth and data service.
// Build one per process and pass it to consumers.
type Client struct {
	*transport
	store  SessionStore
	now    func() time.Time
	events *EventHub
}

// NewClient creates the provider client. It fails fast when either value is empty.
func NewClient(rawURL, anonKey string, opts ...Option) (*Client, error) {
	o := buildOptions(opts)
	t, err := newTransport(rawURL, anonKey, o)
	if err != nil {
		return nil, err
	}
	return &Client{
		transport: t,
		store:     o.store,
		now:       o.now,
		events:    NewEventHub(o.logger),
	}, nil
}

// URL returns the service endpoint
func (c *Client) URL() string {
	return c.baseURL.String()
}
