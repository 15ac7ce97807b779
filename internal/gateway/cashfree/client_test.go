package cashfree

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sevapay/pkg/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	client := NewClient(Config{
		AppID:     "app-test",
		SecretKey: "secret-test",
		NotifyURL: "https://example.com/webhooks/cashfree",
		Logger:    logging.NewLogger(),
	})
	client.baseURL = server.URL
	return client, server.Close
}

func TestCreateOrderSendsRupeeAmountAndHeaders(t *testing.T) {
	var gotPath, gotVersion, gotClientID string
	var gotBody map[string]interface{}

	client, done := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotVersion = r.Header.Get("x-api-version")
		gotClientID = r.Header.Get("x-client-id")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"order_id":"topup-1","payment_session_id":"session_abc","order_status":"ACTIVE"}`))
	})
	defer done()

	order, err := client.CreateOrder(context.Background(), OrderRequest{
		OrderID:       "topup-1",
		AmountPaise:   49950,
		CustomerID:    "user-1",
		CustomerPhone: "9999999999",
	})
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	if gotPath != "/pg/orders" {
		t.Errorf("expected /pg/orders, got %s", gotPath)
	}
	if gotVersion != apiVersion {
		t.Errorf("expected api version header %s, got %s", apiVersion, gotVersion)
	}
	if gotClientID != "app-test" {
		t.Errorf("expected client id header, got %s", gotClientID)
	}
	// 49950 paise must go over the wire as 499.50 rupees.
	if gotBody["order_amount"] != 499.50 {
		t.Errorf("expected order_amount 499.50, got %v", gotBody["order_amount"])
	}
	if gotBody["order_currency"] != "INR" {
		t.Errorf("expected default currency INR, got %v", gotBody["order_currency"])
	}

	if order.PaymentSessionID != "session_abc" {
		t.Errorf("expected payment session id, got %s", order.PaymentSessionID)
	}
}

func TestCreateOrderSurfacesAPIError(t *testing.T) {
	client, done := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"authentication failed","code":"request_failed"}`))
	})
	defer done()

	_, err := client.CreateOrder(context.Background(), OrderRequest{
		OrderID:     "topup-2",
		AmountPaise: 1000,
		CustomerID:  "user-1",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "authentication failed") {
		t.Errorf("expected API message in error, got %v", err)
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	client := NewClient(Config{
		AppID:     "app-test",
		SecretKey: "secret-test",
		Logger:    logging.NewLogger(),
	})

	payload := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK"}`)
	timestamp := "1756684800000"

	mac := hmac.New(sha256.New, []byte("secret-test"))
	mac.Write([]byte(timestamp))
	mac.Write(payload)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !client.VerifyWebhookSignature(payload, timestamp, signature) {
		t.Error("expected valid signature to verify")
	}
	if client.VerifyWebhookSignature(payload, timestamp, "tampered") {
		t.Error("expected invalid signature to fail")
	}
	if client.VerifyWebhookSignature(payload, "", signature) {
		t.Error("expected missing timestamp to fail")
	}
	if client.VerifyWebhookSignature([]byte(`{"type":"other"}`), timestamp, signature) {
		t.Error("expected altered payload to fail")
	}
}

func TestParseWebhook(t *testing.T) {
	payload := []byte(`{
		"type": "PAYMENT_SUCCESS_WEBHOOK",
		"data": {
			"order": {"order_id": "topup-9"},
			"payment": {"cf_payment_id": 12345, "payment_status": "SUCCESS"}
		}
	}`)

	event, err := ParseWebhook(payload)
	if err != nil {
		t.Fatalf("ParseWebhook returned error: %v", err)
	}
	if event.Type != EventPaymentSuccess {
		t.Errorf("expected %s, got %s", EventPaymentSuccess, event.Type)
	}
	if event.Data.Order.OrderID != "topup-9" {
		t.Errorf("expected order id topup-9, got %s", event.Data.Order.OrderID)
	}
	if event.Data.Payment.PaymentStatus != "SUCCESS" {
		t.Errorf("expected payment status SUCCESS, got %s", event.Data.Payment.PaymentStatus)
	}
}
