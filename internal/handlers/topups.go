package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sevapay/internal/gateway/cashfree"
	bursarapi "sevapay/pkg/api/bursar"
	"sevapay/pkg/logging"
)

// CreateTopup opens a gateway payment order for a wallet top-up. The
// wallet is only credited when the payment webhook confirms the order.
func CreateTopup(c *gin.Context) {
	userID := c.GetString("user_id")

	var req bursarapi.CreateTopupRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AmountPaise <= 0 {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid top-up amount"})
		return
	}

	if !gateway.IsConfigured() {
		c.JSON(http.StatusServiceUnavailable, bursarapi.ErrorResponse{Error: "Online top-up is not available", Code: "gateway_unavailable"})
		return
	}

	var email, phone string
	err := db.QueryRowContext(c.Request.Context(), `
		SELECT email, phone FROM bursar.users WHERE id = $1
	`, userID).Scan(&email, &phone)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":   err,
			"user_id": userID,
		}).Error("Failed to load user for top-up")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to create top-up"})
		return
	}

	var topupID string
	err = db.QueryRowContext(c.Request.Context(), `
		INSERT INTO bursar.pending_topups (user_id, amount_paise)
		VALUES ($1, $2)
		RETURNING id
	`, userID, req.AmountPaise).Scan(&topupID)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":   err,
			"user_id": userID,
		}).Error("Failed to record pending top-up")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to create top-up"})
		return
	}

	order, err := gateway.CreateOrder(c.Request.Context(), cashfree.OrderRequest{
		OrderID:       topupID,
		AmountPaise:   req.AmountPaise,
		CustomerID:    userID,
		CustomerEmail: email,
		CustomerPhone: phone,
	})
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":    err,
			"topup_id": topupID,
		}).Error("Failed to create gateway order")
		// The pending row stays; the expiry sweep cleans it up.
		c.JSON(http.StatusBadGateway, bursarapi.ErrorResponse{Error: "Payment gateway is unavailable", Code: "gateway_error"})
		return
	}

	_, err = db.ExecContext(c.Request.Context(), `
		UPDATE bursar.pending_topups
		SET provider_order_id = $2, payment_session_id = $3, updated_at = NOW()
		WHERE id = $1
	`, topupID, order.OrderID, order.PaymentSessionID)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":    err,
			"topup_id": topupID,
		}).Error("Failed to link gateway order to top-up")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to create top-up"})
		return
	}

	logger.WithFields(logging.Fields{
		"topup_id":     topupID,
		"user_id":      userID,
		"amount_paise": req.AmountPaise,
	}).Info("Created gateway top-up order")

	c.JSON(http.StatusCreated, bursarapi.CreateTopupResponse{
		TopupID:          topupID,
		OrderID:          order.OrderID,
		PaymentSessionID: order.PaymentSessionID,
	})
}
