// Package requests implements the manual wallet top-up / withdrawal
// approval flow. Submitting a request never touches the wallet; the
// balance moves only when a reviewer approves it, atomically with the
// status transition.
package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sevapay/internal/ledger"
	"sevapay/pkg/logging"
	"sevapay/pkg/models"
)

var (
	// ErrRequestNotFound is returned when the request id does not exist.
	ErrRequestNotFound = errors.New("wallet request not found")
	// ErrAlreadyProcessed is returned when the request has already been
	// approved or rejected. Concurrent double-reviews observably fail
	// with this error instead of mutating the wallet twice.
	ErrAlreadyProcessed = errors.New("wallet request already processed")
	// ErrInvalidRequest is returned for a bad type or non-positive amount.
	ErrInvalidRequest = errors.New("invalid wallet request")
)

// ReviewNotifier is notified after a request is approved or rejected.
// Implementations must be safe for concurrent use; sends are best-effort.
type ReviewNotifier interface {
	WalletRequestReviewed(req *models.WalletRequest)
}

// Service drives the wallet request lifecycle
type Service struct {
	db       *sql.DB
	ledger   *ledger.Ledger
	notifier ReviewNotifier
	logger   logging.Logger
}

// New creates a wallet request service. notifier may be nil.
func New(db *sql.DB, l *ledger.Ledger, notifier ReviewNotifier, logger logging.Logger) *Service {
	return &Service{db: db, ledger: l, notifier: notifier, logger: logger}
}

// Submit records a PENDING request for later review
func (s *Service) Submit(ctx context.Context, userID, reqType string, amountPaise int64, paymentMethod, transactionReference string) (*models.WalletRequest, error) {
	if reqType != models.RequestTypeTopup && reqType != models.RequestTypeWithdrawal {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, reqType)
	}
	if amountPaise <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	req := &models.WalletRequest{
		UserID:               userID,
		Type:                 reqType,
		AmountPaise:          amountPaise,
		Status:               models.RequestStatusPending,
		PaymentMethod:        paymentMethod,
		TransactionReference: transactionReference,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO bursar.wallet_requests (user_id, type, amount_paise, payment_method, transaction_reference)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, userID, reqType, amountPaise, paymentMethod, transactionReference).
		Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet request: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"request_id":   req.ID,
		"user_id":      userID,
		"type":         reqType,
		"amount_paise": amountPaise,
	}).Info("Wallet request submitted")

	return req, nil
}

// Approve transitions a PENDING request to APPROVED and applies the
// balance change in the same database transaction. A TOPUP credits the
// wallet; a WITHDRAWAL debits it and fails (rolling back the approval)
// when the balance cannot cover it.
func (s *Service) Approve(ctx context.Context, requestID, reviewerID string) (*models.WalletRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	req := &models.WalletRequest{ID: requestID, Status: models.RequestStatusApproved}
	err = tx.QueryRowContext(ctx, `
		UPDATE bursar.wallet_requests
		SET status = 'APPROVED', reviewed_by = $2, reviewed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING user_id, type, amount_paise, payment_method, transaction_reference, reviewed_at, created_at, updated_at
	`, requestID, reviewerID).Scan(&req.UserID, &req.Type, &req.AmountPaise,
		&req.PaymentMethod, &req.TransactionReference, &req.ReviewedAt, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.classifyMissedTransition(ctx, requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to approve wallet request: %w", err)
	}
	req.ReviewedBy = &reviewerID

	entry := ledger.Entry{
		UserID:      req.UserID,
		AmountPaise: req.AmountPaise,
		Description: fmt.Sprintf("Wallet %s request approved", req.Type),
		Reference:   "wallet-request:" + requestID,
		Metadata:    models.JSONB{"request_id": requestID, "reviewed_by": reviewerID},
	}

	switch req.Type {
	case models.RequestTypeTopup:
		entry.Type = models.TxTypeDeposit
		_, err = s.ledger.CreditTx(ctx, tx, entry)
	case models.RequestTypeWithdrawal:
		entry.Type = models.TxTypeWithdrawal
		_, err = s.ledger.DebitTx(ctx, tx, entry)
	default:
		err = fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, req.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit approval: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"request_id":  requestID,
		"user_id":     req.UserID,
		"type":        req.Type,
		"reviewed_by": reviewerID,
	}).Info("Wallet request approved")

	s.dispatchReviewNotice(req)
	return req, nil
}

// Reject transitions a PENDING request to REJECTED. The wallet is never
// touched.
func (s *Service) Reject(ctx context.Context, requestID, reviewerID, reason string) (*models.WalletRequest, error) {
	req := &models.WalletRequest{ID: requestID, Status: models.RequestStatusRejected}
	err := s.db.QueryRowContext(ctx, `
		UPDATE bursar.wallet_requests
		SET status = 'REJECTED', rejection_reason = $3, reviewed_by = $2, reviewed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING user_id, type, amount_paise, payment_method, transaction_reference, reviewed_at, created_at, updated_at
	`, requestID, reviewerID, reason).Scan(&req.UserID, &req.Type, &req.AmountPaise,
		&req.PaymentMethod, &req.TransactionReference, &req.ReviewedAt, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.classifyMissedTransition(ctx, requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reject wallet request: %w", err)
	}
	req.ReviewedBy = &reviewerID
	req.RejectionReason = &reason

	s.logger.WithFields(logging.Fields{
		"request_id":  requestID,
		"user_id":     req.UserID,
		"reviewed_by": reviewerID,
		"reason":      reason,
	}).Info("Wallet request rejected")

	s.dispatchReviewNotice(req)
	return req, nil
}

// ListByUser returns a user's own requests, newest first
func (s *Service) ListByUser(ctx context.Context, userID string) ([]models.WalletRequest, error) {
	return s.list(ctx, `
		SELECT id, user_id, type, amount_paise, status, payment_method, transaction_reference,
		       rejection_reason, reviewed_by, reviewed_at, created_at, updated_at
		FROM bursar.wallet_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 100
	`, userID)
}

// ListByStatus returns requests for review. An empty status returns all.
func (s *Service) ListByStatus(ctx context.Context, status string) ([]models.WalletRequest, error) {
	return s.list(ctx, `
		SELECT id, user_id, type, amount_paise, status, payment_method, transaction_reference,
		       rejection_reason, reviewed_by, reviewed_at, created_at, updated_at
		FROM bursar.wallet_requests
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT 200
	`, status)
}

func (s *Service) list(ctx context.Context, query string, arg interface{}) ([]models.WalletRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet requests: %w", err)
	}
	defer rows.Close()

	var out []models.WalletRequest
	for rows.Next() {
		var r models.WalletRequest
		if err := rows.Scan(&r.ID, &r.UserID, &r.Type, &r.AmountPaise, &r.Status,
			&r.PaymentMethod, &r.TransactionReference, &r.RejectionReason,
			&r.ReviewedBy, &r.ReviewedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wallet request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// classifyMissedTransition decides why a conditional status update matched
// nothing: the row is gone, or another reviewer got there first.
func (s *Service) classifyMissedTransition(ctx context.Context, requestID string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM bursar.wallet_requests WHERE id = $1
	`, requestID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRequestNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read wallet request: %w", err)
	}
	return fmt.Errorf("%w: status is %s", ErrAlreadyProcessed, status)
}

func (s *Service) dispatchReviewNotice(req *models.WalletRequest) {
	if s.notifier == nil {
		return
	}
	go s.notifier.WalletRequestReviewed(req)
}
