package adsb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yegors/flightfusion/internal/geo"
	"github.com/yegors/flightfusion/pkg/logger"
)

const (
	defaultBaseURL  = "https://opensky-network.org/api"
	defaultTokenURL = "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"
)

// ErrUnauthorized is returned when the telemetry source rejects the supplied credentials
var ErrUnauthorized = errors.New("telemetry source rejected credentials")

// ClientConfig holds the telemetry source settings
type ClientConfig struct {
	BaseURL         string
	CredentialsPath string // OAuth2 credentials JSON, optional
	Username        string // basic auth, used when no credentials file is present
	Password        string
	Timeout         time.Duration
}

// Client fetches state vectors from the telemetry source
type Client struct {
	httpClient *http.Client
	baseURL    string
	credsPath  string
	username   string
	password   string
	logger     *logger.Logger

	// Cached OAuth2 token
	token       string
	tokenExpiry time.Time
	tokenMu     sync.Mutex
}

// NewClient creates a new telemetry client
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:   baseURL,
		credsPath: cfg.CredentialsPath,
		username:  cfg.Username,
		password:  cfg.Password,
		logger:    log.Named("adsb-cli"),
	}
}

// FetchStates queries every tile in order and merges the results. A failing tile
// contributes nothing; an error is returned only when every tile failed.
func (c *Client) FetchStates(ctx context.Context, tiles []geo.BoundingBox) (*StateSnapshot, error) {
	if len(tiles) == 0 {
		return c.fetchWithFallback(ctx, nil)
	}

	merged := &StateSnapshot{}
	var errs []error
	for i := range tiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tile := tiles[i]
		snap, err := c.fetchWithFallback(ctx, &tile)
		if err != nil {
			c.logger.Warn("Tile fetch failed",
				logger.Int("tile", i),
				logger.String("bbox", tile.String()),
				logger.Error(err),
			)
			merged.FailedTiles++
			errs = append(errs, err)
			continue
		}

		merged.States = append(merged.States, snap.States...)
		merged.Discarded += snap.Discarded
		if snap.Time.After(merged.Time) {
			merged.Time = snap.Time
		}
	}

	if merged.FailedTiles == len(tiles) {
		return nil, fmt.Errorf("all %d tiles failed: %w", len(tiles), errors.Join(errs...))
	}

	c.logger.Debug("Fetched telemetry states",
		logger.Int("tiles", len(tiles)),
		logger.Int("failed_tiles", merged.FailedTiles),
		logger.Int("states", len(merged.States)),
		logger.Int("discarded", merged.Discarded),
	)

	return merged, nil
}

// fetchWithFallback attempts the request with credentials, then once anonymously.
// When no credentials are configured only the anonymous attempt is made.
func (c *Client) fetchWithFallback(ctx context.Context, bbox *geo.BoundingBox) (*StateSnapshot, error) {
	auth, err := c.authorizer(ctx)
	if err != nil {
		c.logger.Warn("Failed to prepare telemetry credentials, continuing anonymously", logger.Error(err))
		auth = nil
	}

	if auth == nil {
		return c.fetchOnce(ctx, bbox, nil)
	}

	snap, authErr := c.fetchOnce(ctx, bbox, auth)
	if authErr == nil {
		return snap, nil
	}
	if errors.Is(authErr, ErrUnauthorized) {
		c.invalidateToken()
	}
	if ctx.Err() != nil {
		return nil, authErr
	}

	c.logger.Warn("Authenticated telemetry request failed, retrying anonymously", logger.Error(authErr))

	snap, anonErr := c.fetchOnce(ctx, bbox, nil)
	if anonErr != nil {
		return nil, errors.Join(
			fmt.Errorf("authenticated attempt: %w", authErr),
			fmt.Errorf("anonymous attempt: %w", anonErr),
		)
	}
	return snap, nil
}

// fetchOnce performs a single states request
func (c *Client) fetchOnce(ctx context.Context, bbox *geo.BoundingBox, auth func(*http.Request)) (*StateSnapshot, error) {
	urlStr := c.statesURL(bbox)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if auth != nil {
		auth(req)
	}

	c.logger.Debug("Fetching telemetry states",
		logger.String("url", urlStr),
		logger.Bool("authenticated", auth != nil),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	snap, err := DecodeStates(body)
	if err != nil {
		return nil, err
	}
	if snap.Time.IsZero() {
		snap.Time = time.Now().UTC()
	}
	return snap, nil
}

func (c *Client) statesURL(bbox *geo.BoundingBox) string {
	u := c.baseURL + "/states/all"
	if bbox == nil {
		return u
	}
	q := url.Values{}
	q.Set("lamin", strconv.FormatFloat(bbox.LatMin, 'f', 4, 64))
	q.Set("lomin", strconv.FormatFloat(bbox.LonMin, 'f', 4, 64))
	q.Set("lamax", strconv.FormatFloat(bbox.LatMax, 'f', 4, 64))
	q.Set("lomax", strconv.FormatFloat(bbox.LonMax, 'f', 4, 64))
	return u + "?" + q.Encode()
}

// authorizer returns a request decorator for the configured credentials, or nil when
// requests should be anonymous.
//
// A credentials file with access_token is used directly; client_id and client_secret
// are exchanged at the token endpoint. Without a file, basic auth is used if configured.
func (c *Client) authorizer(ctx context.Context) (func(*http.Request), error) {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return nil, err
	}
	if token != "" {
		return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, nil
	}
	if c.username != "" {
		user, pass := c.username, c.password
		return func(r *http.Request) { r.SetBasicAuth(user, pass) }, nil
	}
	return nil, nil
}

func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		token := c.token
		c.tokenMu.Unlock()
		return token, nil
	}
	c.tokenMu.Unlock()

	if c.credsPath == "" {
		return "", nil
	}
	b, err := os.ReadFile(c.credsPath)
	if errors.Is(err, os.ErrNotExist) {
		c.logger.Debug("Credentials file not found, requests will be anonymous", logger.String("path", c.credsPath))
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds map[string]any
	if err := json.Unmarshal(b, &creds); err != nil {
		return "", fmt.Errorf("invalid credentials JSON: %w", err)
	}

	if token := firstString(creds, "access_token", "access-token", "accessToken"); token != "" {
		c.cacheToken(token, time.Now().Add(29*time.Minute))
		return token, nil
	}

	clientID := firstString(creds, "client_id", "client-id", "clientId")
	clientSecret := firstString(creds, "client_secret", "client-secret", "clientSecret")
	if clientID == "" || clientSecret == "" {
		return "", fmt.Errorf("credentials must contain access_token or client_id+client_secret")
	}
	tokenURL := firstString(creds, "token_url", "token-url", "tokenUrl")
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}

	return c.requestToken(ctx, tokenURL, clientID, clientSecret)
}

func (c *Client) requestToken(ctx context.Context, tokenURL, clientID, clientSecret string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.logger.Debug("Requesting OAuth2 token", logger.String("token_url", tokenURL))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint error: %d", resp.StatusCode)
	}

	var tokResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokResp.AccessToken == "" {
		return "", fmt.Errorf("token response did not contain access_token")
	}

	expiry := time.Now().Add(29 * time.Minute)
	if tokResp.ExpiresIn > 60 {
		expiry = time.Now().Add(time.Duration(tokResp.ExpiresIn-30) * time.Second)
	}
	c.cacheToken(tokResp.AccessToken, expiry)

	return tokResp.AccessToken, nil
}

func (c *Client) cacheToken(token string, expiry time.Time) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenExpiry = expiry
	c.tokenMu.Unlock()
}

func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.tokenMu.Unlock()
}

// firstString picks the first non-empty string value among keys
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
