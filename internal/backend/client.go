// Package backend talks to the fleet backend: device and child profiles,
// parental controls, conversation logging, and metadata heartbeats. Every
// call is best-effort from the turn loop's point of view; errors are
// returned so callers can log them, but nothing here retries or blocks
// beyond the configured timeout.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lumora/murmel/internal/observe"
)

const defaultTimeout = 10 * time.Second

// Config holds client settings. DeviceMAC is the device's identity against
// the backend.
type Config struct {
	BaseURL   string
	APIKey    string
	DeviceMAC string
	Timeout   time.Duration
}

// Option configures a [Client].
type Option func(*Client)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithHTTPClient overrides the HTTP client, for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client is a REST client for the fleet backend. It is safe for concurrent
// use.
type Client struct {
	baseURL    string
	apiKey     string
	mac        string
	httpClient *http.Client

	log     *slog.Logger
	metrics *observe.Metrics
}

// New creates a backend client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend: base URL must not be empty")
	}
	if cfg.DeviceMAC == "" {
		return nil, errors.New("backend: device MAC must not be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		mac:        cfg.DeviceMAC,
		httpClient: &http.Client{Timeout: timeout},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// FetchDeviceProfile returns this device's profile.
func (c *Client) FetchDeviceProfile(ctx context.Context) (*DeviceProfile, error) {
	var p DeviceProfile
	if err := c.do(ctx, http.MethodGet, "/v1/devices/"+c.mac+"/profile", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FetchChildProfile returns the child profile paired with this device.
func (c *Client) FetchChildProfile(ctx context.Context) (*ChildProfile, error) {
	var p ChildProfile
	if err := c.do(ctx, http.MethodGet, "/v1/devices/"+c.mac+"/child", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FetchParentalControls returns the current parental control settings.
func (c *Client) FetchParentalControls(ctx context.Context) (*ParentalControls, error) {
	var p ParentalControls
	if err := c.do(ctx, http.MethodGet, "/v1/devices/"+c.mac+"/parental-controls", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

type logRequestBody struct {
	Text string `json:"text"`
}

type logRequestResponse struct {
	ID string `json:"id"`
}

// LogRequest records the child's transcribed utterance and returns the
// correlation ID the backend assigned to the turn.
func (c *Client) LogRequest(ctx context.Context, text string) (string, error) {
	var resp logRequestResponse
	err := c.do(ctx, http.MethodPost, "/v1/devices/"+c.mac+"/turns", logRequestBody{Text: text}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

type logReplyBody struct {
	Text string `json:"text"`
}

// LogReply records the spoken reply for a previously logged turn.
func (c *Client) LogReply(ctx context.Context, turnID, text string) error {
	return c.do(ctx, http.MethodPost, "/v1/devices/"+c.mac+"/turns/"+turnID+"/reply", logReplyBody{Text: text}, nil)
}

type sentimentBody struct {
	Label     string `json:"label"`
	Intensity int    `json:"intensity"`
}

// LogSentiment records the extracted sentiment for a turn.
func (c *Client) LogSentiment(ctx context.Context, turnID, label string, intensity int) error {
	return c.do(ctx, http.MethodPost, "/v1/devices/"+c.mac+"/turns/"+turnID+"/sentiment",
		sentimentBody{Label: label, Intensity: intensity}, nil)
}

type interestBody struct {
	Topic     string `json:"topic"`
	Intensity int    `json:"intensity"`
}

// LogInterest records the extracted interest for a turn.
func (c *Client) LogInterest(ctx context.Context, turnID, topic string, intensity int) error {
	return c.do(ctx, http.MethodPost, "/v1/devices/"+c.mac+"/turns/"+turnID+"/interest",
		interestBody{Topic: topic, Intensity: intensity}, nil)
}

// Heartbeat pushes current device metadata.
func (c *Client) Heartbeat(ctx context.Context, md Metadata) error {
	return c.do(ctx, http.MethodPost, "/v1/devices/"+c.mac+"/heartbeat", md, nil)
}

// MarkGreeted records that the startup greeting just played, so reboots
// within the greeting interval stay quiet.
func (c *Client) MarkGreeted(ctx context.Context, at time.Time) error {
	return c.do(ctx, http.MethodPost, "/v1/devices/"+c.mac+"/greeted",
		map[string]any{"at": at.UTC().Format(time.RFC3339)}, nil)
}

// do performs one JSON request. out may be nil when the response body is
// irrelevant.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encode %s %s: %w", method, path, err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("backend: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordBackendError(ctx, path)
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.RecordBackendError(ctx, path)
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend: %s %s: unexpected status %d: %s", method, path, resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s %s response: %w", method, path, err)
	}
	return nil
}
