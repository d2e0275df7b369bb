package clickhouse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jkaflik/hundesystem/internal/metrics"
	"github.com/jkaflik/hundesystem/pkg/clickhouse/format"
	"github.com/jkaflik/hundesystem/pkg/retry"
)

// DefaultRetryConfig returns the default retry configuration for ClickHouse operations
func DefaultRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          retry.Proportional(0.5),
	}
}

// Client is an HTTP client for ClickHouse
type Client struct {
	url        url.URL
	username   string
	password   string
	httpClient *http.Client
	retryConf  retry.Config
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client for the ClickHouse client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRetryConfig sets a custom retry configuration for the ClickHouse client
func WithRetryConfig(retryConf retry.Config) ClientOption {
	return func(c *Client) {
		c.retryConf = retryConf
	}
}

func NewClient(serverURL, username, password string, options ...ClientOption) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ClickHouse URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported ClickHouse URL scheme: %s", u.Scheme)
	}

	queryParams := u.Query()
	queryParams.Set("async_insert", "1")
	queryParams.Set("date_time_input_format", "best_effort")
	queryParams.Set("input_format_skip_unknown_fields", "1")
	u.RawQuery = queryParams.Encode()

	client := &Client{
		url:        *u,
		username:   username,
		password:   password,
		httpClient: http.DefaultClient,
		retryConf:  DefaultRetryConfig(),
	}

	// Apply options
	for _, option := range options {
		option(client)
	}

	return client, nil
}

// isRetryableError determines if an error from ClickHouse should be retried
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if retry.IsNetworkError(err) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code >= http.StatusInternalServerError {
			return true
		}
		// Recoverable server-side conditions reported with a 4xx code
		for _, transient := range []string{"Too many parts", "Memory limit", "DB::Exception: Timeout"} {
			if strings.Contains(statusErr.Body, transient) {
				return true
			}
		}
	}

	return false
}

// StatusError is returned for non-200 responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("query execution failed with status %d: %s", e.Code, e.Body)
}

// Execute runs a query on ClickHouse with retries for transient failures.
// The body is read once and replayed on every attempt.
func (c *Client) Execute(ctx context.Context, query string, r io.Reader) error {
	var body []byte
	if r != nil {
		var err error
		body, err = io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("failed to read request body: %w", err)
		}
	}

	callbacks := retry.Callbacks{
		OnRetryAttempt: func(attempt int, err error, nextBackoff time.Duration) {
			metrics.CHRetryAttempts.Inc()
			log.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("next_backoff", nextBackoff).
				Msg("Retrying ClickHouse operation")
		},
		OnRetrySuccess: func(attempt int) {
			metrics.CHRetrySuccess.Inc()
			log.Info().
				Int("attempt", attempt).
				Msg("ClickHouse operation succeeded after retry")
		},
		OnRetryFailure: func(attempt int, err error) {
			log.Error().
				Err(err).
				Int("attempt", attempt).
				Msg("ClickHouse operation failed after all retries")
		},
	}

	return retry.DoWithCallbacks(ctx, func() error {
		return c.do(ctx, query, body)
	}, isRetryableError, c.retryConf, callbacks)
}

func (c *Client) do(ctx context.Context, query string, body []byte) error {
	uri := c.url
	queryParams := uri.Query()
	queryParams.Set("query", query)
	uri.RawQuery = queryParams.Encode()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "hundesystem")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	return nil
}

// Insert writes rows to database.table as JSONEachRow.
func (c *Client) Insert(ctx context.Context, database, table string, rows []any) error {
	if len(rows) == 0 {
		return nil
	}

	query := fmt.Sprintf("INSERT INTO %s.%s FORMAT JSONEachRow", database, table)
	return c.Execute(ctx, query, format.NewJSONEachRowReader(rows))
}
