// Package feedapi is a typed REST client for the bar-feed vendor HTTP API.
// It handles session login (API key + client id + TOTP) and historical candle
// retrieval. The same endpoints are served by cmd/barsim for offline runs.
//
// Usage:
//
//	c := feedapi.New(feedapi.Config{
//	    BaseURL:    "https://feed.example.com",
//	    APIKey:     "key",
//	    ClientID:   "client",
//	    TOTPSecret: "base32secret",
//	})
//	if _, err := c.GenerateSession(ctx); err != nil { ... }
//	bars, err := c.GetCandles(ctx, "SPY", model.TF1m, fromMS, toMS)
package feedapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"signal-enginev1/internal/model"
)

var routes = map[string]string{
	"api.session": "/auth/session",
	"api.candles": "/candles",
}

// Config carries vendor endpoint and credential settings.
type Config struct {
	BaseURL    string
	APIKey     string
	ClientID   string
	TOTPSecret string // base32; empty skips the code field (sim mode)

	Timeout time.Duration // default 10s
	Debug   bool
}

// Client is safe for concurrent use. The session token is refreshed lazily:
// callers may invoke GenerateSession explicitly, and GetCandles re-authenticates
// once on a 401 before failing.
type Client struct {
	baseURL    string
	apiKey     string
	clientID   string
	totpSecret string
	debug      bool

	httpClient *http.Client

	mu    sync.Mutex
	token string
}

// New builds a client. Credential validity is not checked until GenerateSession.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		clientID:   cfg.ClientID,
		totpSecret: cfg.TOTPSecret,
		debug:      cfg.Debug,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Token returns the current session token, empty if no session is active.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// GenerateSession logs in with a fresh TOTP code and stores the bearer token
// for subsequent calls. Returns the token so stream auth can reuse it.
func (c *Client) GenerateSession(ctx context.Context) (string, error) {
	params := map[string]any{"client_id": c.clientID}
	if c.totpSecret != "" {
		code, err := totp.GenerateCode(c.totpSecret, time.Now())
		if err != nil {
			return "", fmt.Errorf("totp: %w", err)
		}
		params["code"] = code
	}

	var resp struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			Token     string `json:"token"`
			ExpiresMS int64  `json:"expires_ms"`
		} `json:"data"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "api.session", nil, params, &resp); err != nil {
		return "", err
	}
	if !resp.Status || resp.Data.Token == "" {
		return "", fmt.Errorf("session rejected: %s", resp.Message)
	}

	c.mu.Lock()
	c.token = resp.Data.Token
	c.mu.Unlock()
	return resp.Data.Token, nil
}

// GetCandles fetches bars for (symbol, tf) in [fromMS, toMS), ascending.
// Rows arrive as [start_ms, open, high, low, close, volume] with an optional
// seventh vwap column. Implements model.CandleFetcher.
func (c *Client) GetCandles(ctx context.Context, symbol string, tf model.Timeframe, fromMS, toMS int64) ([]model.Bar, error) {
	if c.Token() == "" {
		if _, err := c.GenerateSession(ctx); err != nil {
			return nil, err
		}
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("tf", tf.String())
	query.Set("from", model.Itoa64(fromMS))
	query.Set("to", model.Itoa64(toMS))

	var resp struct {
		Status  bool        `json:"status"`
		Message string      `json:"message"`
		Data    [][]float64 `json:"data"`
	}
	err := c.doRequest(ctx, http.MethodGet, "api.candles", query, nil, &resp)
	if apiErr, ok := err.(*apiError); ok && apiErr.Code == http.StatusUnauthorized {
		// Session expired upstream; one fresh login then retry.
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		if _, err = c.GenerateSession(ctx); err != nil {
			return nil, err
		}
		err = c.doRequest(ctx, http.MethodGet, "api.candles", query, nil, &resp)
	}
	if err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, fmt.Errorf("candles %s %s: %s", symbol, tf, resp.Message)
	}

	bars := make([]model.Bar, 0, len(resp.Data))
	for i, row := range resp.Data {
		if len(row) < 6 {
			return nil, fmt.Errorf("candles %s %s: malformed row %d (%d columns)", symbol, tf, i, len(row))
		}
		bar := model.Bar{
			StartMS: int64(row[0]),
			Open:    row[1],
			High:    row[2],
			Low:     row[3],
			Close:   row[4],
			Volume:  int64(row[5]),
		}
		if len(row) >= 7 {
			bar.VWAP = row[6]
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

type apiError struct {
	Code    int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("feed api: status %d: %s", e.Code, e.Message)
}

func (c *Client) buildURL(route string) (string, error) {
	uri, ok := routes[route]
	if !ok {
		return "", fmt.Errorf("unknown route: %s", route)
	}
	return c.baseURL + uri, nil
}

func (c *Client) doRequest(ctx context.Context, method, route string, query url.Values, payload, out any) error {
	fullURL, err := c.buildURL(route)
	if err != nil {
		return err
	}
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	if c.debug {
		log.Printf("[feedapi] %s %s", method, fullURL)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("feed api: %s %s: %w", method, route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if c.debug {
		log.Printf("[feedapi] response code=%d body=%s", resp.StatusCode, raw)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		var envelope struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Message != "" {
			msg = envelope.Message
		}
		return &apiError{Code: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("feed api: parsing %s response: %w", route, err)
	}
	return nil
}
