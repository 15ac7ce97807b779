package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"sevapay/pkg/logging"
	"sevapay/pkg/models"
)

var (
	// ErrInvalidAmount is returned when an entry amount is not positive.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrWalletNotFound is returned when the user has no wallet row.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrInsufficientFunds is returned when a debit would take the balance
	// below zero. The wallet is left untouched.
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	// ErrDuplicateReference is returned when an entry reuses a reference
	// already recorded for the same user. The caller's operation already
	// happened; retrying is safe.
	ErrDuplicateReference = errors.New("duplicate transaction reference")
)

const uniqueViolation = "23505"

// Entry describes one balance mutation. AmountPaise is always positive;
// Credit and Debit decide the sign recorded on the audit row.
type Entry struct {
	UserID      string
	AmountPaise int64
	Type        string
	Description string
	Reference   string
	Metadata    models.JSONB
}

// Ledger owns every wallet balance mutation. Each mutation updates the
// wallet and appends exactly one audit row in the same database
// transaction, so the balance and the trail can never drift apart.
type Ledger struct {
	db     *sql.DB
	logger logging.Logger
}

// New creates a ledger backed by the given database
func New(db *sql.DB, logger logging.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// CreateWallet provisions a zero-balance wallet for a newly approved user.
// Safe to call repeatedly.
func (l *Ledger) CreateWallet(ctx context.Context, userID string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO bursar.wallets (user_id, balance_paise)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

// Balance returns the current balance in paise
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := l.db.QueryRowContext(ctx, `
		SELECT balance_paise FROM bursar.wallets WHERE user_id = $1
	`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrWalletNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// Credit adds funds to a wallet in its own database transaction
func (l *Ledger) Credit(ctx context.Context, e Entry) (*models.WalletTransaction, error) {
	if err := validateEntry(e); err != nil {
		return nil, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	wtx, err := l.CreditTx(ctx, tx, e)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit credit: %w", err)
	}
	return wtx, nil
}

// Debit removes funds from a wallet in its own database transaction
func (l *Ledger) Debit(ctx context.Context, e Entry) (*models.WalletTransaction, error) {
	if err := validateEntry(e); err != nil {
		return nil, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	wtx, err := l.DebitTx(ctx, tx, e)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit debit: %w", err)
	}
	return wtx, nil
}

// CreditTx adds funds inside a caller-owned transaction, so status
// transitions (request approval, top-up completion) commit atomically with
// the balance change.
func (l *Ledger) CreditTx(ctx context.Context, tx *sql.Tx, e Entry) (*models.WalletTransaction, error) {
	if err := validateEntry(e); err != nil {
		return nil, err
	}

	var walletID string
	var balanceAfter int64
	err := tx.QueryRowContext(ctx, `
		UPDATE bursar.wallets
		SET balance_paise = balance_paise + $1, updated_at = NOW()
		WHERE user_id = $2
		RETURNING id, balance_paise
	`, e.AmountPaise, e.UserID).Scan(&walletID, &balanceAfter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to credit wallet: %w", err)
	}

	return l.insertTransaction(ctx, tx, walletID, e, e.AmountPaise, balanceAfter)
}

// DebitTx removes funds inside a caller-owned transaction. The conditional
// update is what enforces the non-negative balance invariant: a wallet row
// is only mutated when it can cover the full amount.
func (l *Ledger) DebitTx(ctx context.Context, tx *sql.Tx, e Entry) (*models.WalletTransaction, error) {
	if err := validateEntry(e); err != nil {
		return nil, err
	}

	var walletID string
	var balanceAfter int64
	err := tx.QueryRowContext(ctx, `
		UPDATE bursar.wallets
		SET balance_paise = balance_paise - $1, updated_at = NOW()
		WHERE user_id = $2 AND balance_paise >= $1
		RETURNING id, balance_paise
	`, e.AmountPaise, e.UserID).Scan(&walletID, &balanceAfter)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a short balance from a missing wallet. A missing
		// wallet for a transacting user is an integrity problem and is
		// logged loudly.
		var exists bool
		probeErr := tx.QueryRowContext(ctx, `
			SELECT true FROM bursar.wallets WHERE user_id = $1
		`, e.UserID).Scan(&exists)
		if errors.Is(probeErr, sql.ErrNoRows) {
			l.logger.WithFields(logging.Fields{
				"user_id":   e.UserID,
				"reference": e.Reference,
			}).Error("Debit attempted against missing wallet")
			return nil, ErrWalletNotFound
		}
		if probeErr != nil {
			return nil, fmt.Errorf("failed to probe wallet: %w", probeErr)
		}
		return nil, ErrInsufficientFunds
	}
	if err != nil {
		return nil, fmt.Errorf("failed to debit wallet: %w", err)
	}

	return l.insertTransaction(ctx, tx, walletID, e, -e.AmountPaise, balanceAfter)
}

// Transactions returns a page of a user's audit trail, newest first.
// txType filters by transaction type when non-empty.
func (l *Ledger) Transactions(ctx context.Context, userID, txType string, limit, offset int) ([]models.WalletTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, user_id, wallet_id, type, amount_paise, balance_after_paise,
		       status, description, reference, metadata, created_at
		FROM bursar.wallet_transactions
		WHERE user_id = $1 AND ($2 = '' OR type = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, userID, txType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.WalletTransaction
	for rows.Next() {
		var t models.WalletTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.WalletID, &t.Type, &t.AmountPaise,
			&t.BalanceAfterPaise, &t.Status, &t.Description, &t.Reference,
			&t.Metadata, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (l *Ledger) insertTransaction(ctx context.Context, tx *sql.Tx, walletID string, e Entry, signedAmount, balanceAfter int64) (*models.WalletTransaction, error) {
	wtx := &models.WalletTransaction{
		UserID:            e.UserID,
		WalletID:          walletID,
		Type:              e.Type,
		AmountPaise:       signedAmount,
		BalanceAfterPaise: balanceAfter,
		Status:            models.TxStatusCompleted,
		Description:       e.Description,
		Reference:         e.Reference,
		Metadata:          e.Metadata,
	}

	err := tx.QueryRowContext(ctx, `
		INSERT INTO bursar.wallet_transactions (
			user_id, wallet_id, type, amount_paise, balance_after_paise,
			status, description, reference, metadata
		) VALUES ($1, $2, $3, $4, $5, 'COMPLETED', $6, $7, $8)
		RETURNING id, created_at
	`, e.UserID, walletID, e.Type, signedAmount, balanceAfter,
		e.Description, e.Reference, e.Metadata).Scan(&wtx.ID, &wtx.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	l.logger.WithFields(logging.Fields{
		"user_id":       e.UserID,
		"type":          e.Type,
		"amount_paise":  signedAmount,
		"balance_after": balanceAfter,
		"reference":     e.Reference,
	}).Info("Recorded wallet transaction")

	return wtx, nil
}

func validateEntry(e Entry) error {
	if e.AmountPaise <= 0 {
		return ErrInvalidAmount
	}
	if e.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if e.Reference == "" {
		return fmt.Errorf("transaction reference is required")
	}
	return nil
}
