package bursar

import "sevapay/pkg/models"

// BalanceResponse represents the wallet balance API response
type BalanceResponse struct {
	UserID       string `json:"user_id"`
	BalancePaise int64  `json:"balance_paise"`
	Balance      string `json:"balance"` // rupee string, e.g. "1250.00"
}

// TransactionsResponse represents a page of wallet transactions
type TransactionsResponse struct {
	Transactions []models.WalletTransaction `json:"transactions"`
	Limit        int                        `json:"limit"`
	Offset       int                        `json:"offset"`
}

// CreateWalletRequestRequest submits a manual top-up or withdrawal request
type CreateWalletRequestRequest struct {
	Type                 string `json:"type" binding:"required"`
	AmountPaise          int64  `json:"amount_paise" binding:"required"`
	PaymentMethod        string `json:"payment_method"`
	TransactionReference string `json:"transaction_reference"`
}

// RejectWalletRequestRequest carries the rejection reason
type RejectWalletRequestRequest struct {
	Reason string `json:"reason"`
}

// WalletRequestResponse wraps a single wallet request
type WalletRequestResponse struct {
	Request *models.WalletRequest `json:"request"`
}

// WalletRequestsResponse wraps a list of wallet requests
type WalletRequestsResponse struct {
	Requests []models.WalletRequest `json:"requests"`
}

// CreateTopupRequest initiates a gateway top-up order
type CreateTopupRequest struct {
	AmountPaise int64 `json:"amount_paise" binding:"required"`
}

// CreateTopupResponse returns the gateway order handles the frontend needs
// to open the payment session
type CreateTopupResponse struct {
	TopupID          string `json:"topup_id"`
	OrderID          string `json:"order_id"`
	PaymentSessionID string `json:"payment_session_id"`
}

// RechargeRequest submits a mobile/DTH recharge order
type RechargeRequest struct {
	OperatorCode string `json:"operator_code" binding:"required"`
	SubscriberID string `json:"subscriber_id" binding:"required"`
	AmountPaise  int64  `json:"amount_paise" binding:"required"`
}

// PANApplicationRequest submits a PAN card application order
type PANApplicationRequest struct {
	ApplicantName string `json:"applicant_name" binding:"required"`
	FatherName    string `json:"father_name"`
	DateOfBirth   string `json:"date_of_birth" binding:"required"` // YYYY-MM-DD
	Aadhaar       string `json:"aadhaar"`
	Mobile        string `json:"mobile" binding:"required"`
	Email         string `json:"email"`
}

// ServiceOrderResponse wraps a vendor service order
type ServiceOrderResponse struct {
	Order *models.ServiceOrder `json:"order"`
}

// UpsertFeeDefinitionRequest creates or updates a fee definition
type UpsertFeeDefinitionRequest struct {
	FeeType       string `json:"fee_type" binding:"required"`
	AmountPaise   int64  `json:"amount_paise"`
	BillingPeriod string `json:"billing_period" binding:"required"`
	IsActive      *bool  `json:"is_active"`
}

// FeeDefinitionsResponse wraps the fee definition list
type FeeDefinitionsResponse struct {
	Fees []models.FeeDefinition `json:"fees"`
}

// DisburseRewardRequest credits a reward to a set of recipients
type DisburseRewardRequest struct {
	Event       string   `json:"event" binding:"required"`
	UserIDs     []string `json:"user_ids" binding:"required"`
	AmountPaise int64    `json:"amount_paise" binding:"required"`
	Description string   `json:"description"`
}

// ErrorResponse is the standard error envelope
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
