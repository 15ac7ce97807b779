package requests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"sevapay/internal/ledger"
	"sevapay/pkg/logging"
	"sevapay/pkg/models"
)

type recordingNotifier struct {
	reviewed chan *models.WalletRequest
}

func (n *recordingNotifier) WalletRequestReviewed(req *models.WalletRequest) {
	n.reviewed <- req
}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *recordingNotifier, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	logger := logging.NewLogger()
	notifier := &recordingNotifier{reviewed: make(chan *models.WalletRequest, 1)}
	svc := New(db, ledger.New(db, logger), notifier, logger)
	return svc, mock, notifier, func() { db.Close() }
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	svc, _, _, done := newTestService(t)
	defer done()

	if _, err := svc.Submit(context.Background(), "user-1", "TRANSFER", 1000, "", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("unknown type: expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.Submit(context.Background(), "user-1", models.RequestTypeTopup, 0, "", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("zero amount: expected ErrInvalidRequest, got %v", err)
	}
}

func TestApproveTopupCreditsWalletAtomically(t *testing.T) {
	svc, mock, notifier, done := newTestService(t)
	defer done()

	requestID := "req-1"
	userID := "user-1"
	reviewedAt := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bursar.wallet_requests").
		WithArgs(requestID, "admin-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "type", "amount_paise", "payment_method",
			"transaction_reference", "reviewed_at", "created_at", "updated_at",
		}).AddRow(userID, "TOPUP", int64(100000), "UPI", "utr-99", reviewedAt, reviewedAt, reviewedAt))
	mock.ExpectQuery("UPDATE bursar.wallets").
		WithArgs(int64(100000), userID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance_paise"}).
			AddRow("wallet-1", int64(100000)))
	mock.ExpectQuery("INSERT INTO bursar.wallet_transactions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
			AddRow("tx-1", time.Now()))
	mock.ExpectCommit()

	req, err := svc.Approve(context.Background(), requestID, "admin-1")
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	if req.Status != models.RequestStatusApproved {
		t.Errorf("expected status APPROVED, got %s", req.Status)
	}

	select {
	case notice := <-notifier.reviewed:
		if notice.ID != requestID {
			t.Errorf("notified wrong request: %s", notice.ID)
		}
	case <-time.After(time.Second):
		t.Error("expected review notification")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApproveTwiceFailsWithAlreadyProcessed(t *testing.T) {
	svc, mock, _, done := newTestService(t)
	defer done()

	requestID := "req-2"

	mock.ExpectBegin()
	// Conditional transition matches nothing: request is no longer PENDING.
	mock.ExpectQuery("UPDATE bursar.wallet_requests").
		WithArgs(requestID, "admin-2").
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "type", "amount_paise", "payment_method",
			"transaction_reference", "reviewed_at", "created_at", "updated_at",
		}))
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT status FROM bursar.wallet_requests").
		WithArgs(requestID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("APPROVED"))

	_, err := svc.Approve(context.Background(), requestID, "admin-2")
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApproveMissingRequest(t *testing.T) {
	svc, mock, _, done := newTestService(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bursar.wallet_requests").
		WithArgs("req-missing", "admin-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "type", "amount_paise", "payment_method",
			"transaction_reference", "reviewed_at", "created_at", "updated_at",
		}))
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT status FROM bursar.wallet_requests").
		WithArgs("req-missing").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	_, err := svc.Approve(context.Background(), "req-missing", "admin-1")
	if !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApproveWithdrawalInsufficientFundsRollsBackStatus(t *testing.T) {
	svc, mock, _, done := newTestService(t)
	defer done()

	requestID := "req-3"
	userID := "user-3"
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bursar.wallet_requests").
		WithArgs(requestID, "admin-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "type", "amount_paise", "payment_method",
			"transaction_reference", "reviewed_at", "created_at", "updated_at",
		}).AddRow(userID, "WITHDRAWAL", int64(900000), "BANK", "", now, now, now))
	mock.ExpectQuery("UPDATE bursar.wallets").
		WithArgs(int64(900000), userID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance_paise"}))
	mock.ExpectQuery("SELECT true FROM bursar.wallets").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"true"}).AddRow(true))
	mock.ExpectRollback()

	_, err := svc.Approve(context.Background(), requestID, "admin-1")
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRejectNeverTouchesWallet(t *testing.T) {
	svc, mock, notifier, done := newTestService(t)
	defer done()

	requestID := "req-4"
	now := time.Now()

	mock.ExpectQuery("UPDATE bursar.wallet_requests").
		WithArgs(requestID, "emp-1", "receipt unreadable").
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "type", "amount_paise", "payment_method",
			"transaction_reference", "reviewed_at", "created_at", "updated_at",
		}).AddRow("user-4", "TOPUP", int64(5000), "UPI", "utr-1", now, now, now))

	req, err := svc.Reject(context.Background(), requestID, "emp-1", "receipt unreadable")
	if err != nil {
		t.Fatalf("Reject returned error: %v", err)
	}
	if req.Status != models.RequestStatusRejected {
		t.Errorf("expected status REJECTED, got %s", req.Status)
	}
	if req.RejectionReason == nil || *req.RejectionReason != "receipt unreadable" {
		t.Errorf("expected rejection reason recorded, got %v", req.RejectionReason)
	}

	select {
	case <-notifier.reviewed:
	case <-time.After(time.Second):
		t.Error("expected review notification")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
