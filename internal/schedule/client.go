package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yegors/flightfusion/pkg/logger"
)

const defaultBaseURL = "http://api.aviationstack.com/v1"

// ErrSourceError is wrapped by every error the schedule feed reports in its payload
var ErrSourceError = errors.New("schedule source reported an error")

// APIError is an error object returned inside a schedule feed response
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("schedule source error %s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return ErrSourceError
}

// ClientConfig holds the schedule source settings
type ClientConfig struct {
	BaseURL    string
	AccessKey  string
	Timeout    time.Duration
	MaxRetries int
}

// Client fetches departures from the schedule feed
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a new schedule client
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: log.Named("schedule-cli"),
	}
}

// FetchDepartures returns the schedule records departing from the given IATA airport.
// Both transport failures and an error object in the payload are returned as errors.
func (c *Client) FetchDepartures(ctx context.Context, iata string) ([]Record, error) {
	iata = strings.ToUpper(strings.TrimSpace(iata))
	if iata == "" {
		return nil, fmt.Errorf("departure airport code is required")
	}

	q := url.Values{}
	q.Set("access_key", c.config.AccessKey)
	q.Set("dep_iata", iata)
	urlStr := c.config.BaseURL + "/flights?" + q.Encode()

	var resp flightsResponse
	if err := c.fetchWithRetry(ctx, urlStr, iata, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &APIError{Code: resp.Error.Code, Message: resp.Error.Message}
	}

	records := make([]Record, 0, len(resp.Data))
	skipped := 0
	for _, f := range resp.Data {
		rec, ok := f.toRecord()
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	c.logger.Debug("Fetched departures",
		logger.String("airport", iata),
		logger.Int("records", len(records)),
		logger.Int("skipped", skipped),
	)

	return records, nil
}

// fetchWithRetry performs the request with exponential backoff between attempts.
// In-payload errors are not retried; they are reported by the caller. target is only
// written by the attempt that succeeds.
func (c *Client) fetchWithRetry(ctx context.Context, urlStr, airport string, target *flightsResponse) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(500*(1<<uint(attempt-1))) * time.Millisecond
			c.logger.Info("Retrying schedule fetch",
				logger.String("airport", airport),
				logger.Int("attempt", attempt),
				logger.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		var resp flightsResponse
		err := c.fetchOnce(ctx, urlStr, &resp)
		if err == nil {
			*target = resp
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return lastErr
		}
		c.logger.Warn("Schedule request failed, may retry",
			logger.String("airport", airport),
			logger.Error(err),
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", c.config.MaxRetries+1))
	}

	return fmt.Errorf("failed to fetch schedules after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, urlStr string, target *flightsResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// The feed may put an error object in a non-2xx body; prefer it over the bare status.
	if err := json.Unmarshal(body, target); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return fmt.Errorf("failed to parse schedule JSON: %w", err)
	}
	if resp.StatusCode != http.StatusOK && target.Error == nil {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}
