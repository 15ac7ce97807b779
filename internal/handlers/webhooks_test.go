package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"sevapay/internal/gateway/cashfree"
	"sevapay/internal/ledger"
	"sevapay/pkg/logging"
)

func setupWebhookTest(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db = mockDB
	logger = logging.NewLogger()
	walletLedger = ledger.New(mockDB, logger)
	gateway = cashfree.NewClient(cashfree.Config{
		AppID:     "app-test",
		SecretKey: "webhook-test-secret",
		Logger:    logger,
	})
	notifier = nil
	metrics = nil

	t.Cleanup(func() {
		mockDB.Close()
		db = nil
		walletLedger = nil
		gateway = nil
	})
	return mock
}

func signedWebhookRequest(t *testing.T, payload []byte) *http.Request {
	t.Helper()
	timestamp := "1756684800000"
	mac := hmac.New(sha256.New, []byte("webhook-test-secret"))
	mac.Write([]byte(timestamp))
	mac.Write(payload)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/cashfree", bytes.NewReader(payload))
	req.Header.Set("x-webhook-timestamp", timestamp)
	req.Header.Set("x-webhook-signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return req
}

func serveWebhook(req *http.Request) *httptest.ResponseRecorder {
	router := gin.New()
	router.POST("/webhooks/cashfree", CashfreeWebhook)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCashfreeWebhookCreditsPendingTopup(t *testing.T) {
	mock := setupWebhookTest(t)

	topupID := "aaaaaaaa-1111-2222-3333-444444444444"
	payload := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{"order":{"order_id":"` + topupID + `"},"payment":{"cf_payment_id":99,"payment_status":"SUCCESS"}}}`)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, user_id, amount_paise, status").
		WithArgs(topupID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount_paise", "status"}).
			AddRow(topupID, "user-1", int64(25000), "pending"))
	mock.ExpectQuery("UPDATE bursar.wallets").
		WithArgs(int64(25000), "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance_paise"}).
			AddRow("wallet-1", int64(30000)))
	mock.ExpectQuery("INSERT INTO bursar.wallet_transactions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
			AddRow("tx-1", time.Now()))
	mock.ExpectExec("UPDATE bursar.pending_topups").
		WithArgs(topupID, "tx-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := serveWebhook(signedWebhookRequest(t, payload))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCashfreeWebhookReplayIsNoOp(t *testing.T) {
	mock := setupWebhookTest(t)

	topupID := "bbbbbbbb-1111-2222-3333-444444444444"
	payload := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{"order":{"order_id":"` + topupID + `"},"payment":{"payment_status":"SUCCESS"}}}`)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, user_id, amount_paise, status").
		WithArgs(topupID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount_paise", "status"}).
			AddRow(topupID, "user-1", int64(25000), "completed"))
	mock.ExpectRollback()

	w := serveWebhook(signedWebhookRequest(t, payload))
	if w.Code != http.StatusOK {
		t.Fatalf("replayed webhook must be acknowledged, got %d", w.Code)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCashfreeWebhookRejectsInvalidSignature(t *testing.T) {
	setupWebhookTest(t)

	payload := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/cashfree", bytes.NewReader(payload))
	req.Header.Set("x-webhook-timestamp", "123")
	req.Header.Set("x-webhook-signature", "bogus")

	w := serveWebhook(req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func serveVendorStatus(body string) *httptest.ResponseRecorder {
	router := gin.New()
	router.POST("/webhooks/vendor/status", VendorStatusWebhook)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/vendor/status", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestVendorStatusFailureRefundsPendingOrder(t *testing.T) {
	mock := setupWebhookTest(t)

	orderID := "order-dddd-4444"
	now := time.Now()

	mock.ExpectQuery("FROM bursar.service_orders WHERE id").
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "service", "amount_paise", "fee_paise", "status"}).
			AddRow(orderID, "user-1", "RECHARGE", int64(19900), int64(100), "pending"))

	// Refund of amount + fee.
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bursar.wallets").
		WithArgs(int64(20000), "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance_paise"}).
			AddRow("wallet-1", int64(50000)))
	mock.ExpectQuery("INSERT INTO bursar.wallet_transactions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
			AddRow("tx-refund", now))
	mock.ExpectCommit()

	mock.ExpectExec("UPDATE bursar.service_orders").
		WithArgs(orderID, "tx-refund", "operator reversal").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := serveVendorStatus(`{"client_ref":"` + orderID + `","status":"FAILED","message":"operator reversal"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestVendorStatusSuccessConfirmsPendingOrder(t *testing.T) {
	mock := setupWebhookTest(t)

	orderID := "order-eeee-5555"

	mock.ExpectQuery("FROM bursar.service_orders WHERE provider_txn_id").
		WithArgs("prov-9").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "service", "amount_paise", "fee_paise", "status"}).
			AddRow(orderID, "user-1", "RECHARGE", int64(19900), int64(100), "pending"))

	mock.ExpectExec("UPDATE bursar.service_orders").
		WithArgs(orderID, "recharge confirmed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := serveVendorStatus(`{"provider_txn_id":"prov-9","status":"SUCCESS","message":"recharge confirmed"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestVendorStatusRefundedOrderIsTerminal(t *testing.T) {
	mock := setupWebhookTest(t)

	orderID := "order-ffff-6666"

	mock.ExpectQuery("FROM bursar.service_orders WHERE id").
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "service", "amount_paise", "fee_paise", "status"}).
			AddRow(orderID, "user-1", "RECHARGE", int64(19900), int64(100), "refunded"))

	w := serveVendorStatus(`{"client_ref":"` + orderID + `","status":"FAILED","message":"late reversal"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("refunded order must not move money again: %v", err)
	}
}

func TestVendorStatusFailureWithoutDebitIsNotRefunded(t *testing.T) {
	mock := setupWebhookTest(t)

	orderID := "order-gggg-7777"

	// The order was marked failed before any money left the wallet.
	mock.ExpectQuery("FROM bursar.service_orders WHERE id").
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "service", "amount_paise", "fee_paise", "status"}).
			AddRow(orderID, "user-1", "RECHARGE", int64(30100), int64(100), "failed"))

	w := serveVendorStatus(`{"client_ref":"` + orderID + `","status":"FAILED","message":"operator down"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("order without a committed debit must not be credited: %v", err)
	}
}

func TestVendorStatusRejectsMissingReference(t *testing.T) {
	setupWebhookTest(t)

	w := serveVendorStatus(`{"status":"FAILED","message":"no identifiers"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for payload without order reference, got %d", w.Code)
	}
}

func TestCashfreeWebhookMarksFailedPayment(t *testing.T) {
	mock := setupWebhookTest(t)

	topupID := "cccccccc-1111-2222-3333-444444444444"
	payload := []byte(`{"type":"PAYMENT_FAILED_WEBHOOK","data":{"order":{"order_id":"` + topupID + `"},"payment":{"payment_status":"FAILED"}}}`)

	mock.ExpectExec("UPDATE bursar.pending_topups").
		WithArgs(topupID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := serveWebhook(signedWebhookRequest(t, payload))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
