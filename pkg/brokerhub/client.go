// Package brokerhub is a Go client for the brokerhub-server HTTP API.
package brokerhub

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
	"github.com/shopspring/decimal"

	"brokerhub/internal/domain"
)

// Response types shared with the server.
type (
	BrokerInfo      = domain.BrokerInfo
	RegistryStats   = domain.RegistryStats
	Comparison      = domain.Comparison
	Ranking         = domain.Ranking
	ComparisonError = domain.ComparisonError
)

// AccountStatus describes one account configured on the server.
type AccountStatus struct {
	Name      string `json:"name"`
	Broker    string `json:"broker"`
	Testnet   bool   `json:"testnet"`
	Opened    bool   `json:"opened"`
	Connected bool   `json:"connected"`
}

// CompareRequest asks the server to rank accounts by estimated cost.
type CompareRequest struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	Accounts []string        `json:"accounts,omitempty"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Kind       string `json:"kind"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("brokerhub: %d %s: %s", e.StatusCode, e.Kind, e.Message)
}

// Client provides a Go SDK for interacting with the brokerhub-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new brokerhub API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Health reports whether the server answers /healthz.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	return c.do(ctx, http.MethodGet, "/healthz", nil, &out)
}

// ListBrokers retrieves every registered broker.
func (c *Client) ListBrokers(ctx context.Context) ([]BrokerInfo, error) {
	var out struct {
		Brokers []BrokerInfo `json:"brokers"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/brokers", nil, &out); err != nil {
		return nil, err
	}
	return out.Brokers, nil
}

// GetBroker retrieves the metadata of one broker key.
func (c *Client) GetBroker(ctx context.Context, key string) (BrokerInfo, error) {
	var out BrokerInfo
	err := c.do(ctx, http.MethodGet, "/v1/brokers/"+url.PathEscape(key), nil, &out)
	return out, err
}

// GetStats retrieves registry statistics.
func (c *Client) GetStats(ctx context.Context) (RegistryStats, error) {
	var out RegistryStats
	err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &out)
	return out, err
}

// ListAccounts retrieves the server's configured accounts.
func (c *Client) ListAccounts(ctx context.Context) ([]AccountStatus, error) {
	var out struct {
		Accounts []AccountStatus `json:"accounts"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/accounts", nil, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

// Compare ranks accounts by the estimated cost of trading req.Quantity of
// req.Symbol.
func (c *Client) Compare(ctx context.Context, req CompareRequest) (*Comparison, error) {
	out := new(Comparison)
	if err := c.do(ctx, http.MethodPost, "/v1/compare", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
