// Package cashfree is a minimal client for the Cashfree Payments order
// API. Only the order-create and webhook-verification surfaces the wallet
// top-up flow needs are implemented.
package cashfree

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"sevapay/pkg/logging"
)

const (
	sandboxBaseURL    = "https://sandbox.cashfree.com"
	productionBaseURL = "https://api.cashfree.com"

	apiVersion = "2023-08-01"
)

// Webhook event types we act on. Everything else is acknowledged and
// ignored.
const (
	EventPaymentSuccess = "PAYMENT_SUCCESS_WEBHOOK"
	EventPaymentFailed  = "PAYMENT_FAILED_WEBHOOK"
)

// Config for creating a new Cashfree client
type Config struct {
	AppID       string // CASHFREE_APP_ID
	SecretKey   string // CASHFREE_SECRET_KEY, also signs webhooks
	Environment string // "sandbox" or "production"
	NotifyURL   string // webhook callback URL sent with each order
	ReturnURL   string // where the payer lands after checkout
	Logger      logging.Logger
}

// Client talks to the Cashfree order API
type Client struct {
	baseURL    string
	appID      string
	secretKey  string
	notifyURL  string
	returnURL  string
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient creates a Cashfree client for the configured environment
func NewClient(config Config) *Client {
	baseURL := sandboxBaseURL
	if config.Environment == "production" {
		baseURL = productionBaseURL
	}

	return &Client{
		baseURL:   baseURL,
		appID:     config.AppID,
		secretKey: config.SecretKey,
		notifyURL: config.NotifyURL,
		returnURL: config.ReturnURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: config.Logger,
	}
}

// IsConfigured returns true when API credentials are present
func (c *Client) IsConfigured() bool {
	return c.appID != "" && c.secretKey != ""
}

// OrderRequest describes one payment order. AmountPaise is converted to
// the rupee amount Cashfree expects on the wire.
type OrderRequest struct {
	OrderID       string
	AmountPaise   int64
	Currency      string
	CustomerID    string
	CustomerEmail string
	CustomerPhone string
}

// Order is the created gateway order. PaymentSessionID is what the
// frontend hands to the Cashfree checkout SDK.
type Order struct {
	OrderID          string `json:"order_id"`
	PaymentSessionID string `json:"payment_session_id"`
	Status           string `json:"order_status"`
}

type orderPayload struct {
	OrderID         string          `json:"order_id"`
	OrderAmount     json.Number     `json:"order_amount"`
	OrderCurrency   string          `json:"order_currency"`
	CustomerDetails customerDetails `json:"customer_details"`
	OrderMeta       orderMeta       `json:"order_meta"`
}

type customerDetails struct {
	CustomerID    string `json:"customer_id"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone"`
}

type orderMeta struct {
	NotifyURL string `json:"notify_url,omitempty"`
	ReturnURL string `json:"return_url,omitempty"`
}

// CreateOrder registers a payment order with Cashfree
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	currency := req.Currency
	if currency == "" {
		currency = "INR"
	}

	rupees := decimal.NewFromInt(req.AmountPaise).Div(decimal.NewFromInt(100))
	payload := orderPayload{
		OrderID:       req.OrderID,
		OrderAmount:   json.Number(rupees.StringFixed(2)),
		OrderCurrency: currency,
		CustomerDetails: customerDetails{
			CustomerID:    req.CustomerID,
			CustomerEmail: req.CustomerEmail,
			CustomerPhone: req.CustomerPhone,
		},
		OrderMeta: orderMeta{
			NotifyURL: c.notifyURL,
			ReturnURL: c.returnURL,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pg/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-version", apiVersion)
	httpReq.Header.Set("x-client-id", c.appID)
	httpReq.Header.Set("x-client-secret", c.secretKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("cashfree request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read cashfree response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("cashfree returned %d: %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("cashfree returned %d", resp.StatusCode)
	}

	var order Order
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, fmt.Errorf("failed to parse cashfree order: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"order_id":     order.OrderID,
		"amount_paise": req.AmountPaise,
		"currency":     currency,
	}).Info("Created Cashfree order")

	return &order, nil
}

// VerifyWebhookSignature checks a webhook's x-webhook-signature header:
// base64(HMAC-SHA256(timestamp + payload)) keyed by the API secret.
func (c *Client) VerifyWebhookSignature(payload []byte, timestamp, signature string) bool {
	if timestamp == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(timestamp))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

// WebhookEvent is the subset of the Cashfree webhook body the top-up flow
// consumes.
type WebhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			OrderID string `json:"order_id"`
		} `json:"order"`
		Payment struct {
			CfPaymentID   json.Number `json:"cf_payment_id"`
			PaymentStatus string      `json:"payment_status"`
		} `json:"payment"`
	} `json:"data"`
}

// ParseWebhook decodes a webhook payload
func ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}
	return &event, nil
}
