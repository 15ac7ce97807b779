// Package recharge is the client for the mobile/DTH recharge provider.
package recharge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"sevapay/internal/vendors"
	"sevapay/pkg/logging"
)

// Config for creating a recharge client
type Config struct {
	BaseURL string // RECHARGE_API_URL
	APIKey  string // RECHARGE_API_KEY
	Logger  logging.Logger
}

// Client talks to the recharge provider. One attempt per call, no
// retries: the wallet orchestration refunds on failure and the provider
// callback reconciles pending outcomes.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient creates a recharge provider client
func NewClient(config Config) *Client {
	return &Client{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: config.Logger,
	}
}

// IsConfigured returns true when the provider endpoint is set
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// Operator is one rechargeable operator (mobile carrier, DTH platform)
type Operator struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Operators lists the operators the provider currently serves
func (c *Client) Operators(ctx context.Context) ([]Operator, error) {
	var resp struct {
		Operators []Operator `json:"operators"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/operators", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Operators, nil
}

// Request describes one recharge. ClientRef is our service order id; the
// provider echoes it so callbacks can be matched.
type Request struct {
	OperatorCode string
	SubscriberID string
	AmountPaise  int64
	ClientRef    string
}

// Recharge submits a recharge to the provider
func (c *Client) Recharge(ctx context.Context, req Request) (*vendors.Result, error) {
	payload := map[string]interface{}{
		"operator_code": req.OperatorCode,
		"subscriber_id": req.SubscriberID,
		"amount":        json.Number(decimal.NewFromInt(req.AmountPaise).Div(decimal.NewFromInt(100)).StringFixed(2)),
		"client_ref":    req.ClientRef,
	}

	var resp struct {
		Status  string `json:"status"`
		TxnID   string `json:"txn_id"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/recharge", payload, &resp); err != nil {
		return nil, err
	}

	result := &vendors.Result{
		Status:        vendors.NormalizeStatus(resp.Status),
		ProviderTxnID: resp.TxnID,
		Message:       resp.Message,
	}

	c.logger.WithFields(logging.Fields{
		"client_ref":      req.ClientRef,
		"operator_code":   req.OperatorCode,
		"provider_txn_id": result.ProviderTxnID,
		"status":          result.Status,
	}).Info("Submitted recharge to provider")

	return result, nil
}

// Status queries the provider for a transaction's current state
func (c *Client) Status(ctx context.Context, providerTxnID string) (*vendors.Result, error) {
	var resp struct {
		Status  string `json:"status"`
		TxnID   string `json:"txn_id"`
		Message string `json:"message"`
	}
	path := "/api/v1/status?txn_id=" + url.QueryEscape(providerTxnID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &vendors.Result{
		Status:        vendors.NormalizeStatus(resp.Status),
		ProviderTxnID: resp.TxnID,
		Message:       resp.Message,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("recharge provider request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("recharge provider returned %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse provider response: %w", err)
	}
	return nil
}
