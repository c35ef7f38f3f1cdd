package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mbd888/giftguard/internal/fraud"
	"github.com/mbd888/giftguard/internal/retry"
)

// Config holds the configuration for connecting to the GiftGuard API.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // Needed only for create_analysis_session
}

// Client is a plain HTTP client for the GiftGuard API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retry      retry.Policy
}

// NewClient creates a new API client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		// analysis over a full snapshot can take a while
		httpClient: &http.Client{Timeout: 60 * time.Second},
		retry:      retry.DefaultPolicy(),
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SessionGrant is the response of session creation.
type SessionGrant struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	Expires   int64  `json:"expires"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, headers map[string]string, body, out any) error {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			err = fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		// Client errors won't change on a second try.
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// RunAnalysis runs the fraud pipeline for the session behind token. The
// call is a read, so transport failures and 5xx/429 replies are retried.
func (c *Client) RunAnalysis(ctx context.Context, token string) (*fraud.AnalysisData, error) {
	var data fraud.AnalysisData
	headers := map[string]string{"X-Analysis-Token": token}
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.doRequest(ctx, http.MethodGet, "/v1/analysis", nil, headers, nil, &data)
	})
	if err != nil {
		return nil, err
	}
	return &data, nil
}

// CreateSession issues an analysis session for owner.
func (c *Client) CreateSession(ctx context.Context, owner string) (*SessionGrant, error) {
	var grant SessionGrant
	headers := map[string]string{"X-Admin-Secret": c.cfg.AdminSecret}
	body := map[string]string{"owner": owner}
	// Single attempt: a lost reply would leave an orphan session behind.
	err := retry.Do(ctx, retry.Policy{Attempts: 1}, func(ctx context.Context) error {
		return c.doRequest(ctx, http.MethodPost, "/v1/admin/analysis/sessions", nil, headers, body, &grant)
	})
	if err != nil {
		return nil, err
	}
	return &grant, nil
}
