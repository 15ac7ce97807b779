package recharge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"sevapay/internal/vendors"
	"sevapay/pkg/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	client := NewClient(Config{
		BaseURL: server.URL,
		APIKey:  "key-test",
		Logger:  logging.NewLogger(),
	})
	return client, server.Close
}

func TestRechargeSendsRupeeAmount(t *testing.T) {
	var gotBody map[string]interface{}
	var gotAPIKey string

	client, done := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("X-Api-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Write([]byte(`{"status":"SUCCESS","txn_id":"prov-77","message":"recharge successful"}`))
	})
	defer done()

	result, err := client.Recharge(context.Background(), Request{
		OperatorCode: "AIRTEL",
		SubscriberID: "9876543210",
		AmountPaise:  19900,
		ClientRef:    "order-1",
	})
	if err != nil {
		t.Fatalf("Recharge returned error: %v", err)
	}

	if gotAPIKey != "key-test" {
		t.Errorf("expected api key header, got %s", gotAPIKey)
	}
	if gotBody["amount"] != 199.00 {
		t.Errorf("expected amount 199.00, got %v", gotBody["amount"])
	}
	if result.Status != vendors.StatusSuccess {
		t.Errorf("expected SUCCESS, got %s", result.Status)
	}
	if result.ProviderTxnID != "prov-77" {
		t.Errorf("expected provider txn id, got %s", result.ProviderTxnID)
	}
}

func TestStatusNormalizesProviderStates(t *testing.T) {
	client, done := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("txn_id"); got != "prov-88" {
			t.Errorf("expected txn_id query param, got %s", got)
		}
		w.Write([]byte(`{"status":"processing","txn_id":"prov-88"}`))
	})
	defer done()

	result, err := client.Status(context.Background(), "prov-88")
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if result.Status != vendors.StatusPending {
		t.Errorf("expected PENDING, got %s", result.Status)
	}
}

func TestRechargeProviderErrorSurfaces(t *testing.T) {
	client, done := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("provider down"))
	})
	defer done()

	_, err := client.Recharge(context.Background(), Request{
		OperatorCode: "JIO",
		SubscriberID: "9876543210",
		AmountPaise:  10000,
		ClientRef:    "order-2",
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestOperators(t *testing.T) {
	client, done := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"operators":[{"code":"AIRTEL","name":"Airtel","category":"MOBILE"},{"code":"TATASKY","name":"Tata Play","category":"DTH"}]}`))
	})
	defer done()

	ops, err := client.Operators(context.Background())
	if err != nil {
		t.Fatalf("Operators returned error: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 operators, got %d", len(ops))
	}
	if ops[1].Category != "DTH" {
		t.Errorf("expected DTH category, got %s", ops[1].Category)
	}
}
