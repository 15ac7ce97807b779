package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sevapay/internal/ledger"
	"sevapay/internal/requests"
	bursarapi "sevapay/pkg/api/bursar"
	"sevapay/pkg/logging"
)

// CreateWalletRequest submits a manual top-up or withdrawal for review
func CreateWalletRequest(c *gin.Context) {
	userID := c.GetString("user_id")

	var req bursarapi.CreateWalletRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request body"})
		return
	}

	created, err := requestService.Submit(c.Request.Context(), userID, req.Type,
		req.AmountPaise, req.PaymentMethod, req.TransactionReference)
	if errors.Is(err, requests.ErrInvalidRequest) {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error(), Code: "invalid_request"})
		return
	}
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":   err,
			"user_id": userID,
		}).Error("Failed to create wallet request")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to create request"})
		return
	}

	c.JSON(http.StatusCreated, bursarapi.WalletRequestResponse{Request: created})
}

// GetOwnWalletRequests lists the caller's wallet requests
func GetOwnWalletRequests(c *gin.Context) {
	userID := c.GetString("user_id")

	list, err := requestService.ListByUser(c.Request.Context(), userID)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":   err,
			"user_id": userID,
		}).Error("Failed to list wallet requests")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to list requests"})
		return
	}

	c.JSON(http.StatusOK, bursarapi.WalletRequestsResponse{Requests: list})
}

// AdminListWalletRequests lists requests for review, optionally by status
func AdminListWalletRequests(c *gin.Context) {
	list, err := requestService.ListByStatus(c.Request.Context(), c.Query("status"))
	if err != nil {
		logger.WithError(err).Error("Failed to list wallet requests for review")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to list requests"})
		return
	}

	c.JSON(http.StatusOK, bursarapi.WalletRequestsResponse{Requests: list})
}

// ApproveWalletRequest approves a pending request and moves the money
func ApproveWalletRequest(c *gin.Context) {
	requestID := c.Param("id")
	reviewerID := c.GetString("user_id")

	req, err := requestService.Approve(c.Request.Context(), requestID, reviewerID)
	if err != nil {
		respondReviewError(c, requestID, err)
		return
	}

	if metrics != nil {
		metrics.WalletOperations.WithLabelValues("request_approve", "success").Inc()
	}

	c.JSON(http.StatusOK, bursarapi.WalletRequestResponse{Request: req})
}

// RejectWalletRequest rejects a pending request with a reason
func RejectWalletRequest(c *gin.Context) {
	requestID := c.Param("id")
	reviewerID := c.GetString("user_id")

	var body bursarapi.RejectWalletRequestRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request body"})
		return
	}

	req, err := requestService.Reject(c.Request.Context(), requestID, reviewerID, body.Reason)
	if err != nil {
		respondReviewError(c, requestID, err)
		return
	}

	c.JSON(http.StatusOK, bursarapi.WalletRequestResponse{Request: req})
}

// respondReviewError maps review failures onto the API error contract
func respondReviewError(c *gin.Context, requestID string, err error) {
	switch {
	case errors.Is(err, requests.ErrRequestNotFound):
		c.JSON(http.StatusNotFound, bursarapi.ErrorResponse{Error: "Wallet request not found", Code: "request_not_found"})
	case errors.Is(err, requests.ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, bursarapi.ErrorResponse{Error: "Request already processed", Code: "already_processed"})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Insufficient wallet balance", Code: "insufficient_funds"})
	default:
		logger.WithFields(logging.Fields{
			"error":      err,
			"request_id": requestID,
		}).Error("Failed to review wallet request")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to review request"})
	}
}
