// Package fees runs the recurring platform fee billing. Fee definitions
// target a role through the fee_type suffix (YEARLY_FEE_RETAILER charges
// retailers yearly); the scheduler walks the due population daily and
// debits wallets through the ledger.
package fees

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sevapay/internal/ledger"
	"sevapay/pkg/logging"
	"sevapay/pkg/models"
)

// ErrRunInProgress is returned when another replica holds the run lock.
var ErrRunInProgress = errors.New("fee billing run already in progress")

const (
	runLockKey = "bursar:fees:run"
	runLockTTL = 10 * time.Minute
)

// ReceiptNotifier is told about each successful fee charge. Sends are
// best-effort and must not block.
type ReceiptNotifier interface {
	FeeCharged(payment *models.FeePayment)
}

// RunSummary reports one billing run. A user's failure is recorded here
// and never aborts the batch.
type RunSummary struct {
	RanAt     time.Time         `json:"ran_at"`
	Processed int               `json:"processed"`
	Charged   int               `json:"charged"`
	Skipped   int               `json:"skipped"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Scheduler drives recurring fee billing and top-up expiry
type Scheduler struct {
	db       *sql.DB
	ledger   *ledger.Ledger
	locker   RunLocker
	notifier ReceiptNotifier
	logger   logging.Logger
	stopCh   chan struct{}
}

// NewScheduler creates a fee billing scheduler. locker and notifier may
// be nil; without a locker runs are only safe single-instance.
func NewScheduler(db *sql.DB, l *ledger.Ledger, locker RunLocker, notifier ReceiptNotifier, logger logging.Logger) *Scheduler {
	return &Scheduler{
		db:       db,
		ledger:   l,
		locker:   locker,
		notifier: notifier,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background billing jobs
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting fee billing scheduler")
	go s.runBilling(ctx)
	go s.runTopupExpiry(ctx)
}

// Stop stops the background billing jobs
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping fee billing scheduler")
	close(s.stopCh)
}

func (s *Scheduler) runBilling(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
				s.logger.WithError(err).Error("Fee billing run failed")
			}
		}
	}
}

func (s *Scheduler) runTopupExpiry(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.expireStaleTopups(ctx)
		}
	}
}

// RunOnce executes one billing pass over every active fee definition.
// Safe to trigger repeatedly: charges carry a deterministic reference per
// (fee, user, due date), so a re-run cannot double-charge a window.
func (s *Scheduler) RunOnce(ctx context.Context) (*RunSummary, error) {
	if s.locker != nil {
		ok, err := s.locker.Acquire(ctx, runLockKey, runLockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrRunInProgress
		}
		defer s.locker.Release(ctx, runLockKey) //nolint:errcheck // lock expires on its own
	}

	summary := &RunSummary{RanAt: time.Now(), Errors: map[string]string{}}

	defs, err := s.activeDefinitions(ctx)
	if err != nil {
		return nil, err
	}

	for _, def := range defs {
		role, ok := roleForFeeType(def.FeeType)
		if !ok {
			s.logger.WithField("fee_type", def.FeeType).Warn("Fee type does not name a target role, skipping")
			continue
		}
		if err := s.billDefinition(ctx, def, role, summary); err != nil {
			s.logger.WithError(err).WithField("fee_type", def.FeeType).Error("Failed to bill fee definition")
		}
	}

	if len(summary.Errors) == 0 {
		summary.Errors = nil
	}

	s.logger.WithFields(logging.Fields{
		"processed": summary.Processed,
		"charged":   summary.Charged,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
	}).Info("Fee billing run completed")

	return summary, nil
}

func (s *Scheduler) activeDefinitions(ctx context.Context) ([]models.FeeDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fee_type, amount_paise, billing_period
		FROM bursar.fee_definitions
		WHERE is_active = true AND amount_paise > 0
		ORDER BY fee_type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load fee definitions: %w", err)
	}
	defer rows.Close()

	var defs []models.FeeDefinition
	for rows.Next() {
		var d models.FeeDefinition
		if err := rows.Scan(&d.ID, &d.FeeType, &d.AmountPaise, &d.BillingPeriod); err != nil {
			return nil, fmt.Errorf("failed to scan fee definition: %w", err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func (s *Scheduler) billDefinition(ctx context.Context, def models.FeeDefinition, role string, summary *RunSummary) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at FROM bursar.users
		WHERE is_active = true AND role = $1
	`, role)
	if err != nil {
		return fmt.Errorf("failed to load users for role %s: %w", role, err)
	}
	defer rows.Close()

	type target struct {
		userID    string
		createdAt time.Time
	}
	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.userID, &t.createdAt); err != nil {
			return fmt.Errorf("failed to scan user: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	now := time.Now()
	for _, t := range targets {
		summary.Processed++

		dueDate, err := s.nextDueDate(ctx, t.userID, def, t.createdAt)
		if err != nil {
			summary.Failed++
			summary.Errors[def.FeeType+":"+t.userID] = err.Error()
			continue
		}
		if now.Before(dueDate) {
			continue
		}

		payment, err := s.chargeUser(ctx, t.userID, def, dueDate)
		switch {
		case err == nil:
			summary.Charged++
			s.dispatchReceipt(payment)
		case errors.Is(err, ledger.ErrInsufficientFunds):
			// The due date is not advanced; the next run retries.
			summary.Skipped++
			summary.Errors[def.FeeType+":"+t.userID] = "insufficient wallet balance"
		case errors.Is(err, ledger.ErrDuplicateReference):
			// Already charged for this window by an earlier run.
			summary.Skipped++
		default:
			summary.Failed++
			summary.Errors[def.FeeType+":"+t.userID] = err.Error()
			s.logger.WithError(err).WithFields(logging.Fields{
				"fee_type": def.FeeType,
				"user_id":  t.userID,
			}).Error("Failed to charge fee")
		}
	}
	return nil
}

// nextDueDate determines when the user's next charge for this fee falls
// due. Without payment history the first charge lands one billing period
// after the account was created.
func (s *Scheduler) nextDueDate(ctx context.Context, userID string, def models.FeeDefinition, createdAt time.Time) (time.Time, error) {
	var due time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT next_due_date FROM bursar.fee_payments
		WHERE user_id = $1 AND fee_type = $2
		ORDER BY next_due_date DESC
		LIMIT 1
	`, userID, def.FeeType).Scan(&due)
	if errors.Is(err, sql.ErrNoRows) {
		return advancePeriod(createdAt, def.BillingPeriod), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read fee history: %w", err)
	}
	return due, nil
}

// chargeUser debits the fee and records the payment in one database
// transaction. The next due date advances from the previous due date, not
// from now, so late runs do not drift the schedule.
func (s *Scheduler) chargeUser(ctx context.Context, userID string, def models.FeeDefinition, dueDate time.Time) (*models.FeePayment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	wtx, err := s.ledger.DebitTx(ctx, tx, ledger.Entry{
		UserID:      userID,
		AmountPaise: def.AmountPaise,
		Type:        models.TxTypeFeeDeduction,
		Description: fmt.Sprintf("%s platform fee", def.FeeType),
		Reference:   feeReference(def.FeeType, userID, dueDate),
		Metadata:    models.JSONB{"fee_type": def.FeeType, "due_date": dueDate.Format("2006-01-02")},
	})
	if err != nil {
		return nil, err
	}

	payment := &models.FeePayment{
		UserID:        userID,
		FeeType:       def.FeeType,
		AmountPaise:   def.AmountPaise,
		NextDueDate:   advancePeriod(dueDate, def.BillingPeriod),
		Status:        models.TxStatusCompleted,
		TransactionID: wtx.ID,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO bursar.fee_payments (user_id, fee_type, amount_paise, next_due_date, transaction_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, paid_at, created_at
	`, userID, def.FeeType, def.AmountPaise, payment.NextDueDate, wtx.ID).
		Scan(&payment.ID, &payment.PaidAt, &payment.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record fee payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit fee charge: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"user_id":       userID,
		"fee_type":      def.FeeType,
		"amount_paise":  def.AmountPaise,
		"next_due_date": payment.NextDueDate.Format("2006-01-02"),
	}).Info("Charged platform fee")

	return payment, nil
}

// expireStaleTopups marks gateway top-ups that never saw their payment
// webhook as expired.
func (s *Scheduler) expireStaleTopups(ctx context.Context) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bursar.pending_topups
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending'
		  AND created_at < NOW() - INTERVAL '24 hours'
	`)
	if err != nil {
		s.logger.WithError(err).Error("Failed to expire stale top-ups")
		return
	}

	if n, _ := result.RowsAffected(); n > 0 {
		s.logger.WithField("expired_topups", n).Info("Expired stale pending top-ups")
	}
}

func (s *Scheduler) dispatchReceipt(payment *models.FeePayment) {
	if s.notifier == nil {
		return
	}
	go s.notifier.FeeCharged(payment)
}

// feeReference builds the deterministic idempotency reference for one
// (fee, user, due date) charge window.
func feeReference(feeType, userID string, dueDate time.Time) string {
	name := fmt.Sprintf("fee:%s:%s:%s", feeType, userID, dueDate.Format("2006-01-02"))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// roleForFeeType resolves the role a fee targets from its name suffix.
func roleForFeeType(feeType string) (string, bool) {
	for _, role := range []string{models.RoleAdmin, models.RoleEmployee, models.RoleRetailer, models.RoleCustomer} {
		if strings.HasSuffix(feeType, "_"+role) {
			return role, true
		}
	}
	return "", false
}

func advancePeriod(from time.Time, period string) time.Time {
	switch period {
	case models.PeriodMonthly:
		return from.AddDate(0, 1, 0)
	case models.PeriodQuarterly:
		return from.AddDate(0, 3, 0)
	case models.PeriodHalfYearly:
		return from.AddDate(0, 6, 0)
	default: // YEARLY
		return from.AddDate(1, 0, 0)
	}
}
