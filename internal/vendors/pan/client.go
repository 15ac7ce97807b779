// Package pan is the client for the PAN card application provider.
package pan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"sevapay/internal/vendors"
	"sevapay/pkg/logging"
)

// Config for creating a PAN provider client
type Config struct {
	BaseURL string // PAN_API_URL
	APIKey  string // PAN_API_KEY
	Logger  logging.Logger
}

// Client talks to the PAN application provider
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient creates a PAN provider client
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

// Application is one PAN card application. ClientRef is our service
// order id, echoed by the provider in status callbacks.
type Application struct {
	FullName    string `json:"full_name"`
	FatherName  string `json:"father_name"`
	DateOfBirth string `json:"date_of_birth"` // YYYY-MM-DD
	AadhaarLast string `json:"aadhaar_last4"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Category    string `json:"category"` // NEW or CORRECTION
	ClientRef   string `json:"client_ref"`
}

// SubmitApplication files a PAN application with the provider. PAN
// processing is never instant, so a healthy submission comes back
// PENDING and resolves through the status callback.
func (c *Client) SubmitApplication(ctx context.Context, app Application) (*vendors.Result, error) {
	var resp struct {
		Status  string `json:"status"`
		AckID   string `json:"ack_id"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/pan/apply", app, &resp); err != nil {
		return nil, err
	}

	result := &vendors.Result{
		Status:        vendors.NormalizeStatus(resp.Status),
		ProviderTxnID: resp.AckID,
		Message:       resp.Message,
	}

	c.logger.WithFields(logging.Fields{
		"client_ref":      app.ClientRef,
		"category":        app.Category,
		"provider_txn_id": result.ProviderTxnID,
		"status":          result.Status,
	}).Info("Submitted PAN application to provider")

	return result, nil
}

// Status queries the provider for an application's current state
func (c *Client) Status(ctx context.Context, providerTxnID string) (*vendors.Result, error) {
	var resp struct {
		Status  string `json:"status"`
		AckID   string `json:"ack_id"`
		Message string `json:"message"`
	}
	path := "/api/v1/pan/status?ack_id=" + url.QueryEscape(providerTxnID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &vendors.Result{
		Status:        vendors.NormalizeStatus(resp.Status),
		ProviderTxnID: resp.AckID,
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
		return fmt.Errorf("pan provider request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("pan provider returned %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse provider response: %w", err)
	}
	return nil
}
