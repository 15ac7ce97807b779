package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// JSONB is a custom type for handling JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// User roles
const (
	RoleAdmin    = "ADMIN"
	RoleEmployee = "EMPLOYEE"
	RoleRetailer = "RETAILER"
	RoleCustomer = "CUSTOMER"
)

// Transaction types. The type is descriptive metadata; the sign of
// AmountPaise is authoritative (credits positive, debits negative).
const (
	TxTypeDeposit       = "DEPOSIT"
	TxTypeWithdrawal    = "WITHDRAWAL"
	TxTypeDebit         = "DEBIT"
	TxTypeRefund        = "REFUND"
	TxTypeCommission    = "COMMISSION"
	TxTypeFeeDeduction  = "FEE_DEDUCTION"
	TxTypeSchemePayment = "SCHEME_PAYMENT"
)

// Transaction statuses
const (
	TxStatusPending   = "PENDING"
	TxStatusCompleted = "COMPLETED"
	TxStatusFailed    = "FAILED"
)

// Wallet request types
const (
	RequestTypeTopup      = "TOPUP"
	RequestTypeWithdrawal = "WITHDRAWAL"
)

// Wallet request statuses
const (
	RequestStatusPending  = "PENDING"
	RequestStatusApproved = "APPROVED"
	RequestStatusRejected = "REJECTED"
)

// Billing periods for fee definitions
const (
	PeriodMonthly    = "MONTHLY"
	PeriodQuarterly  = "QUARTERLY"
	PeriodHalfYearly = "HALF_YEARLY"
	PeriodYearly     = "YEARLY"
)

// User is the bursar's read view of a marketplace user. Accounts are
// provisioned by the auth service; bursar consumes role, activity flag
// and creation time for fee targeting.
type User struct {
	ID         string    `json:"id" db:"id"`
	Email      string    `json:"email" db:"email"`
	FullName   string    `json:"full_name" db:"full_name"`
	Phone      string    `json:"phone" db:"phone"`
	Role       string    `json:"role" db:"role"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	ReferredBy *string   `json:"referred_by,omitempty" db:"referred_by"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Wallet holds a user's balance in paise. One row per user.
type Wallet struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	BalancePaise int64     `json:"balance_paise" db:"balance_paise"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// WalletTransaction is an append-only audit record of a balance mutation.
// AmountPaise is signed; BalanceAfterPaise is the wallet balance after the
// mutation committed. (UserID, Reference) is unique, which is what makes
// every balance operation safely retryable.
type WalletTransaction struct {
	ID                string    `json:"id" db:"id"`
	UserID            string    `json:"user_id" db:"user_id"`
	WalletID          string    `json:"wallet_id" db:"wallet_id"`
	Type              string    `json:"type" db:"type"`
	AmountPaise       int64     `json:"amount_paise" db:"amount_paise"`
	BalanceAfterPaise int64     `json:"balance_after_paise" db:"balance_after_paise"`
	Status            string    `json:"status" db:"status"`
	Description       string    `json:"description" db:"description"`
	Reference         string    `json:"reference" db:"reference"`
	Metadata          JSONB     `json:"metadata,omitempty" db:"metadata"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// WalletRequest is a manual top-up or withdrawal awaiting review.
// The wallet is only touched when an admin approves the request.
type WalletRequest struct {
	ID                   string     `json:"id" db:"id"`
	UserID               string     `json:"user_id" db:"user_id"`
	Type                 string     `json:"type" db:"type"`
	AmountPaise          int64      `json:"amount_paise" db:"amount_paise"`
	Status               string     `json:"status" db:"status"`
	PaymentMethod        string     `json:"payment_method,omitempty" db:"payment_method"`
	TransactionReference string     `json:"transaction_reference,omitempty" db:"transaction_reference"`
	RejectionReason      *string    `json:"rejection_reason,omitempty" db:"rejection_reason"`
	ReviewedBy           *string    `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt           *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// FeeDefinition configures a recurring platform fee. The fee type's suffix
// names the role it targets (e.g. YEARLY_FEE_CUSTOMER).
type FeeDefinition struct {
	ID            string    `json:"id" db:"id"`
	FeeType       string    `json:"fee_type" db:"fee_type"`
	AmountPaise   int64     `json:"amount_paise" db:"amount_paise"`
	BillingPeriod string    `json:"billing_period" db:"billing_period"`
	IsActive      bool      `json:"is_active" db:"is_active"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// FeePayment records one successful fee charge. NextDueDate strictly
// increases per (UserID, FeeType).
type FeePayment struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	FeeType       string    `json:"fee_type" db:"fee_type"`
	AmountPaise   int64     `json:"amount_paise" db:"amount_paise"`
	PaidAt        time.Time `json:"paid_at" db:"paid_at"`
	NextDueDate   time.Time `json:"next_due_date" db:"next_due_date"`
	Status        string    `json:"status" db:"status"`
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// PendingTopup tracks a gateway-initiated wallet top-up awaiting its
// payment webhook.
type PendingTopup struct {
	ID                  string     `json:"id" db:"id"`
	UserID              string     `json:"user_id" db:"user_id"`
	AmountPaise         int64      `json:"amount_paise" db:"amount_paise"`
	Currency            string     `json:"currency" db:"currency"`
	Provider            string     `json:"provider" db:"provider"`
	ProviderOrderID     string     `json:"provider_order_id" db:"provider_order_id"`
	PaymentSessionID    string     `json:"payment_session_id" db:"payment_session_id"`
	Status              string     `json:"status" db:"status"`
	WalletTransactionID *string    `json:"wallet_transaction_id,omitempty" db:"wallet_transaction_id"`
	CompletedAt         *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// Pending top-up statuses
const (
	TopupStatusPending   = "pending"
	TopupStatusCompleted = "completed"
	TopupStatusExpired   = "expired"
	TopupStatusFailed    = "failed"
)

// Service order services
const (
	ServiceRecharge = "RECHARGE"
	ServicePAN      = "PAN"
)

// Service order statuses
const (
	OrderStatusPending  = "pending"
	OrderStatusSuccess  = "success"
	OrderStatusFailed   = "failed"
	OrderStatusRefunded = "refunded"
)

// ServiceOrder tracks one vendor-service purchase: the wallet debit, the
// provider call, and the compensating refund when the provider fails.
type ServiceOrder struct {
	ID                  string    `json:"id" db:"id"`
	UserID              string    `json:"user_id" db:"user_id"`
	Service             string    `json:"service" db:"service"`
	OperatorCode        string    `json:"operator_code,omitempty" db:"operator_code"`
	SubscriberID        string    `json:"subscriber_id,omitempty" db:"subscriber_id"`
	AmountPaise         int64     `json:"amount_paise" db:"amount_paise"`
	FeePaise            int64     `json:"fee_paise" db:"fee_paise"`
	CommissionPaise     int64     `json:"commission_paise" db:"commission_paise"`
	Status              string    `json:"status" db:"status"`
	ProviderTxnID       string    `json:"provider_txn_id,omitempty" db:"provider_txn_id"`
	DebitTransactionID  string    `json:"debit_transaction_id,omitempty" db:"debit_transaction_id"`
	RefundTransactionID *string   `json:"refund_transaction_id,omitempty" db:"refund_transaction_id"`
	Message             string    `json:"message,omitempty" db:"message"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}
