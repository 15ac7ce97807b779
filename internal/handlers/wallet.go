package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"sevapay/internal/ledger"
	bursarapi "sevapay/pkg/api/bursar"
	"sevapay/pkg/logging"
)

// GetWallet returns the caller's wallet balance
func GetWallet(c *gin.Context) {
	userID := c.GetString("user_id")

	balance, err := walletLedger.Balance(c.Request.Context(), userID)
	if errors.Is(err, ledger.ErrWalletNotFound) {
		c.JSON(http.StatusNotFound, bursarapi.ErrorResponse{Error: "Wallet not found", Code: "wallet_not_found"})
		return
	}
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":   err,
			"user_id": userID,
		}).Error("Failed to read wallet balance")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to read balance"})
		return
	}

	if metrics != nil {
		metrics.WalletOperations.WithLabelValues("balance", "success").Inc()
	}

	c.JSON(http.StatusOK, bursarapi.BalanceResponse{
		UserID:       userID,
		BalancePaise: balance,
		Balance:      decimal.NewFromInt(balance).Div(decimal.NewFromInt(100)).StringFixed(2),
	})
}

// GetWalletTransactions returns a page of the caller's transaction history
func GetWalletTransactions(c *gin.Context) {
	userID := c.GetString("user_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	txType := c.Query("type")

	txs, err := walletLedger.Transactions(c.Request.Context(), userID, txType, limit, offset)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":   err,
			"user_id": userID,
		}).Error("Failed to list wallet transactions")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to list transactions"})
		return
	}

	c.JSON(http.StatusOK, bursarapi.TransactionsResponse{
		Transactions: txs,
		Limit:        limit,
		Offset:       offset,
	})
}
