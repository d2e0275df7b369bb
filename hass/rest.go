package hass

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/jkaflik/hundesystem/internal/metrics"
	"github.com/jkaflik/hundesystem/pkg/retry"
)

// RESTClient talks to the Home Assistant REST API. It covers what the
// websocket API does not offer: reading a single entity and writing the
// state of entities owned by this service.
type RESTClient struct {
	baseURL    url.URL
	token      string
	httpClient *http.Client
	retryConf  retry.Config
}

// RESTClientOption is a function that configures a RESTClient
type RESTClientOption func(*RESTClient)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) RESTClientOption {
	return func(c *RESTClient) {
		c.httpClient = httpClient
	}
}

// WithRetryConfig sets a custom retry policy for transient failures
func WithRetryConfig(retryConf retry.Config) RESTClientOption {
	return func(c *RESTClient) {
		c.retryConf = retryConf
	}
}

// DefaultRESTRetryConfig returns the retry policy used for REST requests
func DefaultRESTRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		Jitter:          retry.Proportional(0.5),
	}
}

func NewRESTClient(serverURL, token string, options ...RESTClientOption) (*RESTClient, error) {
	serverURL = strings.TrimSuffix(serverURL, "/")
	switch {
	case strings.HasPrefix(serverURL, "wss://"):
		serverURL = "https://" + strings.TrimPrefix(serverURL, "wss://")
	case strings.HasPrefix(serverURL, "ws://"):
		serverURL = "http://" + strings.TrimPrefix(serverURL, "ws://")
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Home Assistant URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported Home Assistant URL scheme: %s", u.Scheme)
	}

	client := &RESTClient{
		baseURL: *u,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retryConf: DefaultRESTRetryConfig(),
	}

	for _, option := range options {
		option(client)
	}

	return client, nil
}

// GetState returns the state of one entity, or ErrEntityNotFound.
func (c *RESTClient) GetState(ctx context.Context, entityID string) (*State, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/states/"+entityID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get state for entity %s: %w", entityID, err)
	}

	var state State
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state of %s: %w", entityID, err)
	}

	return &state, nil
}

// SetState writes the state and attributes of an entity.
func (c *RESTClient) SetState(ctx context.Context, entityID, state string, attributes map[string]any) error {
	body := map[string]any{
		"state": state,
	}
	if attributes != nil {
		body["attributes"] = attributes
	}

	if _, err := c.do(ctx, http.MethodPost, "/api/states/"+entityID, body); err != nil {
		return fmt.Errorf("failed to set state for entity %s: %w", entityID, err)
	}

	return nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var responseBody []byte

	callbacks := retry.Callbacks{
		OnRetryAttempt: func(attempt int, err error, nextBackoff time.Duration) {
			metrics.HassRequestRetries.Inc()
			log.Warn().
				Err(err).
				Str("method", method).
				Str("path", path).
				Int("attempt", attempt).
				Dur("next_backoff", nextBackoff).
				Msg("Retrying Home Assistant request")
		},
	}

	err := retry.DoWithCallbacks(ctx, func() error {
		uri := c.baseURL
		uri.Path = strings.TrimSuffix(uri.Path, "/") + path

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, uri.String(), bodyReader)
		if err != nil {
			return NewError(0, "failed to create request", map[string]any{"error": err.Error()})
		}

		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "hundesystem")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			responseBody = data
			return nil
		case resp.StatusCode == http.StatusUnauthorized:
			return ErrUnauthorized
		case resp.StatusCode == http.StatusNotFound:
			return ErrEntityNotFound
		default:
			return NewError(resp.StatusCode, http.StatusText(resp.StatusCode), map[string]any{
				"response": string(data),
			})
		}
	}, IsRetryable, c.retryConf, callbacks)
	if err != nil {
		return nil, err
	}

	return responseBody, nil
}
