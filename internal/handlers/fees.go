package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sevapay/internal/fees"
	"sevapay/internal/ledger"
	bursarapi "sevapay/pkg/api/bursar"
	"sevapay/pkg/logging"
	"sevapay/pkg/models"
)

// GetFeeDefinitions lists all configured recurring fees
func GetFeeDefinitions(c *gin.Context) {
	rows, err := db.QueryContext(c.Request.Context(), `
		SELECT id, fee_type, amount_paise, billing_period, is_active, created_at, updated_at
		FROM bursar.fee_definitions
		ORDER BY fee_type
	`)
	if err != nil {
		logger.WithError(err).Error("Failed to list fee definitions")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to list fees"})
		return
	}
	defer rows.Close()

	var defs []models.FeeDefinition
	for rows.Next() {
		var d models.FeeDefinition
		if err := rows.Scan(&d.ID, &d.FeeType, &d.AmountPaise, &d.BillingPeriod,
			&d.IsActive, &d.CreatedAt, &d.UpdatedAt); err != nil {
			logger.WithError(err).Error("Error scanning fee definition")
			continue
		}
		defs = append(defs, d)
	}

	c.JSON(http.StatusOK, bursarapi.FeeDefinitionsResponse{Fees: defs})
}

// UpsertFeeDefinition creates or updates a fee definition by fee type
func UpsertFeeDefinition(c *gin.Context) {
	var req bursarapi.UpsertFeeDefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request body"})
		return
	}

	switch req.BillingPeriod {
	case models.PeriodMonthly, models.PeriodQuarterly, models.PeriodHalfYearly, models.PeriodYearly:
	default:
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid billing period", Code: "invalid_period"})
		return
	}
	if req.AmountPaise < 0 {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Amount cannot be negative", Code: "invalid_amount"})
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	var def models.FeeDefinition
	err := db.QueryRowContext(c.Request.Context(), `
		INSERT INTO bursar.fee_definitions (fee_type, amount_paise, billing_period, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fee_type) DO UPDATE SET
			amount_paise = EXCLUDED.amount_paise,
			billing_period = EXCLUDED.billing_period,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id, fee_type, amount_paise, billing_period, is_active, created_at, updated_at
	`, req.FeeType, req.AmountPaise, req.BillingPeriod, isActive).
		Scan(&def.ID, &def.FeeType, &def.AmountPaise, &def.BillingPeriod,
			&def.IsActive, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":    err,
			"fee_type": req.FeeType,
		}).Error("Failed to upsert fee definition")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to save fee"})
		return
	}

	logger.WithFields(logging.Fields{
		"fee_type":       def.FeeType,
		"amount_paise":   def.AmountPaise,
		"billing_period": def.BillingPeriod,
		"is_active":      def.IsActive,
	}).Info("Saved fee definition")

	c.JSON(http.StatusOK, def)
}

// DisburseReward credits a reward to a set of users. Safe to retry: the
// event name makes each award idempotent per recipient.
func DisburseReward(c *gin.Context) {
	var req bursarapi.DisburseRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AmountPaise <= 0 || len(req.UserIDs) == 0 {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid reward request"})
		return
	}

	description := req.Description
	if description == "" {
		description = "Reward: " + req.Event
	}

	awards := make([]ledger.Award, 0, len(req.UserIDs))
	for _, userID := range req.UserIDs {
		awards = append(awards, ledger.Award{UserID: userID, AmountPaise: req.AmountPaise})
	}

	result := walletLedger.Disburse(c.Request.Context(), req.Event,
		models.TxTypeSchemePayment, description, awards)

	c.JSON(http.StatusOK, result)
}

// RunFeeBilling triggers one billing pass, for external cron setups
func RunFeeBilling(c *gin.Context) {
	summary, err := feeScheduler.RunOnce(c.Request.Context())
	if errors.Is(err, fees.ErrRunInProgress) {
		c.JSON(http.StatusConflict, bursarapi.ErrorResponse{Error: "A billing run is already in progress", Code: "run_in_progress"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Triggered fee billing run failed")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Billing run failed"})
		return
	}

	if metrics != nil {
		metrics.FeeCharges.WithLabelValues("run").Add(float64(summary.Charged))
	}

	c.JSON(http.StatusOK, summary)
}
