// Package notify delivers user-facing notifications over email and
// WhatsApp. Every send is best-effort: a notification failure never
// fails the wallet operation that triggered it.
package notify

import (
	"database/sql"

	"github.com/shopspring/decimal"

	"sevapay/pkg/logging"
	"sevapay/pkg/models"
)

// Notifier fans one business event out to every configured channel
type Notifier struct {
	db       *sql.DB
	email    *EmailService
	whatsapp *WhatsAppService
	logger   logging.Logger
}

// NewNotifier creates the notification facade
func NewNotifier(db *sql.DB, logger logging.Logger) *Notifier {
	return &Notifier{
		db:       db,
		email:    NewEmailService(logger),
		whatsapp: NewWhatsAppService(logger),
		logger:   logger,
	}
}

// WalletRequestReviewed notifies the requester of the review outcome
func (n *Notifier) WalletRequestReviewed(req *models.WalletRequest) {
	contact, err := n.lookupContact(req.UserID)
	if err != nil {
		n.logger.WithError(err).WithField("user_id", req.UserID).Warn("Cannot notify user, contact lookup failed")
		return
	}

	amount := rupees(req.AmountPaise)
	switch req.Status {
	case models.RequestStatusApproved:
		n.email.SendRequestApprovedEmail(contact.email, contact.name, req.Type, amount)     //nolint:errcheck // best-effort
		n.whatsapp.SendTemplate(contact.phone, "wallet_request_approved", req.Type, amount) //nolint:errcheck // best-effort
	case models.RequestStatusRejected:
		reason := ""
		if req.RejectionReason != nil {
			reason = *req.RejectionReason
		}
		n.email.SendRequestRejectedEmail(contact.email, contact.name, req.Type, amount, reason)     //nolint:errcheck // best-effort
		n.whatsapp.SendTemplate(contact.phone, "wallet_request_rejected", req.Type, amount, reason) //nolint:errcheck // best-effort
	}
}

// FeeCharged sends the user a receipt for a platform fee deduction
func (n *Notifier) FeeCharged(payment *models.FeePayment) {
	contact, err := n.lookupContact(payment.UserID)
	if err != nil {
		n.logger.WithError(err).WithField("user_id", payment.UserID).Warn("Cannot notify user, contact lookup failed")
		return
	}

	amount := rupees(payment.AmountPaise)
	n.email.SendFeeReceiptEmail(contact.email, contact.name, payment.FeeType, amount, payment.NextDueDate) //nolint:errcheck // best-effort
	n.whatsapp.SendTemplate(contact.phone, "fee_receipt", payment.FeeType, amount)                         //nolint:errcheck // best-effort
}

// TopupCredited confirms an online top-up reached the wallet
func (n *Notifier) TopupCredited(topup *models.PendingTopup) {
	contact, err := n.lookupContact(topup.UserID)
	if err != nil {
		n.logger.WithError(err).WithField("user_id", topup.UserID).Warn("Cannot notify user, contact lookup failed")
		return
	}

	amount := rupees(topup.AmountPaise)
	n.email.SendTopupCreditedEmail(contact.email, contact.name, amount) //nolint:errcheck // best-effort
	n.whatsapp.SendTemplate(contact.phone, "topup_credited", amount)    //nolint:errcheck // best-effort
}

type contact struct {
	email string
	name  string
	phone string
}

func (n *Notifier) lookupContact(userID string) (*contact, error) {
	var c contact
	err := n.db.QueryRow(`
		SELECT email, full_name, phone FROM bursar.users WHERE id = $1
	`, userID).Scan(&c.email, &c.name, &c.phone)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// rupees renders a paise amount as a rupee string for human channels
func rupees(paise int64) string {
	return decimal.NewFromInt(paise).Div(decimal.NewFromInt(100)).StringFixed(2)
}
