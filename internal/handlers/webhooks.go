package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sevapay/internal/gateway/cashfree"
	"sevapay/internal/ledger"
	"sevapay/internal/vendors"
	bursarapi "sevapay/pkg/api/bursar"
	"sevapay/pkg/logging"
	"sevapay/pkg/models"
)

// CashfreeWebhook handles payment status callbacks from the gateway.
// The route is unauthenticated; the HMAC signature is the auth.
func CashfreeWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Cannot read payload"})
		return
	}

	timestamp := c.GetHeader("x-webhook-timestamp")
	signature := c.GetHeader("x-webhook-signature")
	if !gateway.VerifyWebhookSignature(payload, timestamp, signature) {
		if metrics != nil {
			metrics.GatewayWebhooks.WithLabelValues("invalid_signature").Inc()
		}
		logger.Warn("Rejected Cashfree webhook with invalid signature")
		c.JSON(http.StatusUnauthorized, bursarapi.ErrorResponse{Error: "Invalid signature"})
		return
	}

	event, err := cashfree.ParseWebhook(payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid payload"})
		return
	}

	if metrics != nil {
		metrics.GatewayWebhooks.WithLabelValues(event.Type).Inc()
	}

	switch event.Type {
	case cashfree.EventPaymentSuccess:
		if err := completeTopup(c, event.Data.Order.OrderID); err != nil {
			logger.WithFields(logging.Fields{
				"error":    err,
				"order_id": event.Data.Order.OrderID,
			}).Error("Failed to complete top-up from webhook")
			c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to process webhook"})
			return
		}
	case cashfree.EventPaymentFailed:
		failTopup(c, event.Data.Order.OrderID)
	default:
		logger.WithField("type", event.Type).Debug("Ignoring unhandled Cashfree webhook event")
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// completeTopup credits the wallet for a paid order. The status flip and
// the credit share one database transaction, and a replayed webhook finds
// the row already completed and does nothing.
func completeTopup(c *gin.Context, orderID string) error {
	ctx := c.Request.Context()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	var topup models.PendingTopup
	err = tx.QueryRowContext(ctx, `
		SELECT id, user_id, amount_paise, status
		FROM bursar.pending_topups
		WHERE id = $1
		FOR UPDATE
	`, orderID).Scan(&topup.ID, &topup.UserID, &topup.AmountPaise, &topup.Status)
	if errors.Is(err, sql.ErrNoRows) {
		logger.WithField("order_id", orderID).Warn("Webhook for unknown top-up order")
		return nil
	}
	if err != nil {
		return err
	}

	if topup.Status != models.TopupStatusPending {
		logger.WithFields(logging.Fields{
			"topup_id": topup.ID,
			"status":   topup.Status,
		}).Info("Top-up already processed, skipping webhook")
		return nil
	}

	wtx, err := walletLedger.CreditTx(ctx, tx, ledger.Entry{
		UserID:      topup.UserID,
		AmountPaise: topup.AmountPaise,
		Type:        models.TxTypeDeposit,
		Description: "Online wallet top-up",
		Reference:   topup.ID,
		Metadata:    models.JSONB{"provider": "cashfree", "order_id": orderID},
	})
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE bursar.pending_topups
		SET status = 'completed', wallet_transaction_id = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, topup.ID, wtx.ID)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logger.WithFields(logging.Fields{
		"topup_id":     topup.ID,
		"user_id":      topup.UserID,
		"amount_paise": topup.AmountPaise,
	}).Info("Credited wallet from gateway top-up")

	if notifier != nil {
		go notifier.TopupCredited(&topup)
	}
	return nil
}

func failTopup(c *gin.Context, orderID string) {
	_, err := db.ExecContext(c.Request.Context(), `
		UPDATE bursar.pending_topups
		SET status = 'failed', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, orderID)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":    err,
			"order_id": orderID,
		}).Error("Failed to mark top-up failed")
	}
}

// vendorStatusPayload is the reconciliation callback from service
// providers. ClientRef is our service order id.
type vendorStatusPayload struct {
	ClientRef     string `json:"client_ref"`
	ProviderTxnID string `json:"provider_txn_id"`
	Status        string `json:"status" binding:"required"`
	Message       string `json:"message"`
}

// VendorStatusWebhook reconciles a provisional service order with the
// provider's final verdict. Service-token protected.
func VendorStatusWebhook(c *gin.Context) {
	var payload vendorStatusPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid payload"})
		return
	}
	if payload.ClientRef == "" && payload.ProviderTxnID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Missing order reference", Code: "missing_reference"})
		return
	}

	ctx := c.Request.Context()
	var order models.ServiceOrder
	var err error
	if payload.ClientRef != "" {
		err = db.QueryRowContext(ctx, `
			SELECT id, user_id, service, amount_paise, fee_paise, status
			FROM bursar.service_orders WHERE id = $1
		`, payload.ClientRef).Scan(&order.ID, &order.UserID, &order.Service,
			&order.AmountPaise, &order.FeePaise, &order.Status)
	} else {
		err = db.QueryRowContext(ctx, `
			SELECT id, user_id, service, amount_paise, fee_paise, status
			FROM bursar.service_orders WHERE provider_txn_id = $1
		`, payload.ProviderTxnID).Scan(&order.ID, &order.UserID, &order.Service,
			&order.AmountPaise, &order.FeePaise, &order.Status)
	}
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, bursarapi.ErrorResponse{Error: "Service order not found", Code: "order_not_found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to load service order for reconciliation")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to reconcile order"})
		return
	}

	if order.Status == models.OrderStatusRefunded {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	switch vendors.NormalizeStatus(payload.Status) {
	case vendors.StatusFailure:
		// Only orders whose debit committed hold money to give back. An
		// order marked failed never took anything from the wallet.
		if order.Status != models.OrderStatusPending && order.Status != models.OrderStatusSuccess {
			logger.WithFields(logging.Fields{
				"order_id": order.ID,
				"status":   order.Status,
			}).Warn("Ignoring failure callback for order without a committed debit")
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		if err := refundServiceOrder(c, &order, payload.Message); err != nil {
			logger.WithFields(logging.Fields{
				"error":    err,
				"order_id": order.ID,
			}).Error("Failed to refund reconciled service order")
			c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to reconcile order"})
			return
		}
	case vendors.StatusSuccess:
		_, err := db.ExecContext(ctx, `
			UPDATE bursar.service_orders
			SET status = 'success', message = $2, updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
		`, order.ID, payload.Message)
		if err != nil {
			logger.WithError(err).Error("Failed to confirm service order")
			c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to reconcile order"})
			return
		}
	default:
		// Still pending at the provider; nothing to reconcile yet.
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
