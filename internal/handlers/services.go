package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sevapay/internal/ledger"
	"sevapay/internal/vendors"
	"sevapay/internal/vendors/pan"
	"sevapay/internal/vendors/recharge"
	bursarapi "sevapay/pkg/api/bursar"
	"sevapay/pkg/config"
	"sevapay/pkg/logging"
	"sevapay/pkg/models"
)

// GetRechargeOperators lists operators from the recharge provider
func GetRechargeOperators(c *gin.Context) {
	ops, err := rechargeClient.Operators(c.Request.Context())
	if err != nil {
		if metrics != nil {
			metrics.VendorCalls.WithLabelValues("recharge", "operators", "error").Inc()
		}
		logger.WithError(err).Error("Failed to fetch recharge operators")
		c.JSON(http.StatusBadGateway, bursarapi.ErrorResponse{Error: "Recharge provider is unavailable", Code: "vendor_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"operators": ops})
}

// CreateRecharge runs one mobile/DTH recharge: debit first, then the
// provider call, with a compensating refund when the provider fails.
func CreateRecharge(c *gin.Context) {
	userID := c.GetString("user_id")

	var req bursarapi.RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AmountPaise <= 0 {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid recharge request"})
		return
	}

	feePaise := envPaise("RECHARGE_FEE_PAISE", 0)
	commissionPaise := req.AmountPaise * envPaise("RECHARGE_COMMISSION_BPS", 100) / 10000

	order, err := createServiceOrder(c, &models.ServiceOrder{
		UserID:          userID,
		Service:         models.ServiceRecharge,
		OperatorCode:    req.OperatorCode,
		SubscriberID:    req.SubscriberID,
		AmountPaise:     req.AmountPaise,
		FeePaise:        feePaise,
		CommissionPaise: commissionPaise,
	})
	if err != nil {
		return
	}

	result, vendorErr := rechargeClient.Recharge(c.Request.Context(), recharge.Request{
		OperatorCode: req.OperatorCode,
		SubscriberID: req.SubscriberID,
		AmountPaise:  req.AmountPaise,
		ClientRef:    order.ID,
	})

	finishServiceOrder(c, order, result, vendorErr)
}

// CreatePANApplication files a PAN card application through the provider
func CreatePANApplication(c *gin.Context) {
	userID := c.GetString("user_id")

	var req bursarapi.PANApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid PAN application"})
		return
	}

	amountPaise := envPaise("PAN_PRICE_PAISE", 10700)
	commissionPaise := envPaise("PAN_COMMISSION_PAISE", 500)

	order, err := createServiceOrder(c, &models.ServiceOrder{
		UserID:          userID,
		Service:         models.ServicePAN,
		SubscriberID:    req.Mobile,
		AmountPaise:     amountPaise,
		CommissionPaise: commissionPaise,
	})
	if err != nil {
		return
	}

	result, vendorErr := panClient.SubmitApplication(c.Request.Context(), pan.Application{
		FullName:    req.ApplicantName,
		FatherName:  req.FatherName,
		DateOfBirth: req.DateOfBirth,
		AadhaarLast: req.Aadhaar,
		Email:       req.Email,
		Phone:       req.Mobile,
		Category:    "NEW",
		ClientRef:   order.ID,
	})

	finishServiceOrder(c, order, result, vendorErr)
}

// createServiceOrder records the order and debits the wallet up front.
// On a debit failure the order is marked failed and the HTTP error is
// written; the caller just returns.
func createServiceOrder(c *gin.Context, order *models.ServiceOrder) (*models.ServiceOrder, error) {
	ctx := c.Request.Context()

	err := db.QueryRowContext(ctx, `
		INSERT INTO bursar.service_orders (user_id, service, operator_code, subscriber_id, amount_paise, fee_paise, commission_paise)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, order.UserID, order.Service, order.OperatorCode, order.SubscriberID,
		order.AmountPaise, order.FeePaise, order.CommissionPaise).
		Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":   err,
			"user_id": order.UserID,
			"service": order.Service,
		}).Error("Failed to create service order")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to create order"})
		return nil, err
	}

	wtx, err := walletLedger.Debit(ctx, ledger.Entry{
		UserID:      order.UserID,
		AmountPaise: order.AmountPaise + order.FeePaise,
		Type:        models.TxTypeDebit,
		Description: order.Service + " service order",
		Reference:   "service-order:" + order.ID,
		Metadata:    models.JSONB{"order_id": order.ID, "service": order.Service},
	})
	if err != nil {
		markOrderFailed(c, order.ID, "wallet debit failed")
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Insufficient wallet balance", Code: "insufficient_funds"})
			return nil, err
		}
		logger.WithFields(logging.Fields{
			"error":    err,
			"order_id": order.ID,
		}).Error("Failed to debit wallet for service order")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to create order"})
		return nil, err
	}

	order.DebitTransactionID = wtx.ID
	_, err = db.ExecContext(ctx, `
		UPDATE bursar.service_orders SET debit_transaction_id = $2, updated_at = NOW() WHERE id = $1
	`, order.ID, wtx.ID)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":    err,
			"order_id": order.ID,
		}).Error("Failed to link debit to service order")
	}

	return order, nil
}

// finishServiceOrder applies the provider verdict: refund on failure,
// record and pay commission on success, leave pending orders for the
// status callback.
func finishServiceOrder(c *gin.Context, order *models.ServiceOrder, result *vendors.Result, vendorErr error) {
	ctx := c.Request.Context()

	if vendorErr != nil || result.Failed() {
		message := "provider rejected the request"
		if vendorErr != nil {
			message = vendorErr.Error()
		} else if result.Message != "" {
			message = result.Message
		}
		if metrics != nil {
			metrics.VendorCalls.WithLabelValues(order.Service, "submit", "failure").Inc()
		}

		if err := refundServiceOrder(c, order, message); err != nil {
			logger.WithFields(logging.Fields{
				"error":    err,
				"order_id": order.ID,
			}).Error("Failed to refund failed service order")
			c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Order failed; refund pending"})
			return
		}
		c.JSON(http.StatusBadGateway, bursarapi.ErrorResponse{
			Error: "Transaction failed, amount refunded to wallet",
			Code:  "vendor_failure",
		})
		return
	}

	status := models.OrderStatusPending
	if result.Status == vendors.StatusSuccess {
		status = models.OrderStatusSuccess
	}
	if metrics != nil {
		metrics.VendorCalls.WithLabelValues(order.Service, "submit", result.Status).Inc()
	}

	_, err := db.ExecContext(ctx, `
		UPDATE bursar.service_orders
		SET status = $2, provider_txn_id = $3, message = $4, updated_at = NOW()
		WHERE id = $1
	`, order.ID, status, result.ProviderTxnID, result.Message)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":    err,
			"order_id": order.ID,
		}).Error("Failed to update service order")
	}
	order.Status = status
	order.ProviderTxnID = result.ProviderTxnID
	order.Message = result.Message

	if status == models.OrderStatusSuccess && order.CommissionPaise > 0 && c.GetString("role") == models.RoleRetailer {
		disbursement := walletLedger.Disburse(ctx, "service-order:"+order.ID,
			models.TxTypeCommission, order.Service+" commission",
			[]ledger.Award{{UserID: order.UserID, AmountPaise: order.CommissionPaise}})
		if disbursement.Failed > 0 {
			logger.WithFields(logging.Fields{
				"order_id": order.ID,
				"errors":   disbursement.Errors,
			}).Error("Failed to disburse commission")
		}
	}

	c.JSON(http.StatusCreated, bursarapi.ServiceOrderResponse{Order: order})
}

// refundServiceOrder puts the debited amount back and marks the order
// refunded. The distinct :refund reference keeps the compensation
// idempotent alongside the original debit.
func refundServiceOrder(c *gin.Context, order *models.ServiceOrder, message string) error {
	ctx := c.Request.Context()

	wtx, err := walletLedger.Credit(ctx, ledger.Entry{
		UserID:      order.UserID,
		AmountPaise: order.AmountPaise + order.FeePaise,
		Type:        models.TxTypeRefund,
		Description: order.Service + " order refund",
		Reference:   "service-order:" + order.ID + ":refund",
		Metadata:    models.JSONB{"order_id": order.ID, "reason": message},
	})
	if errors.Is(err, ledger.ErrDuplicateReference) {
		// Already refunded by a concurrent path.
		return nil
	}
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		UPDATE bursar.service_orders
		SET status = 'refunded', refund_transaction_id = $2, message = $3, updated_at = NOW()
		WHERE id = $1
	`, order.ID, wtx.ID, message)
	if err != nil {
		return err
	}

	logger.WithFields(logging.Fields{
		"order_id":     order.ID,
		"user_id":      order.UserID,
		"amount_paise": order.AmountPaise + order.FeePaise,
	}).Info("Refunded failed service order")

	return nil
}

func markOrderFailed(c *gin.Context, orderID, message string) {
	_, err := db.ExecContext(c.Request.Context(), `
		UPDATE bursar.service_orders
		SET status = 'failed', message = $2, updated_at = NOW()
		WHERE id = $1
	`, orderID, message)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":    err,
			"order_id": orderID,
		}).Error("Failed to mark service order failed")
	}
}

func envPaise(key string, fallback int64) int64 {
	v, err := strconv.ParseInt(config.GetEnv(key, ""), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}
