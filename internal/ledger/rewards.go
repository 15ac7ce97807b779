package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"sevapay/pkg/logging"
	"sevapay/pkg/models"
)

// Award is one recipient of a reward disbursement
type Award struct {
	UserID      string
	AmountPaise int64
}

// DisbursementResult summarizes a reward batch. One recipient's failure
// never aborts the batch.
type DisbursementResult struct {
	Event    string            `json:"event"`
	Credited int               `json:"credited"`
	Skipped  int               `json:"skipped"`
	Failed   int               `json:"failed"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// Disburse credits a reward (referral bonus, recharge commission,
// cashback) to each recipient. The reference is derived from the event and
// recipient, so replaying the same event cannot pay anyone twice.
func (l *Ledger) Disburse(ctx context.Context, event, txType, description string, awards []Award) DisbursementResult {
	result := DisbursementResult{Event: event, Errors: make(map[string]string)}

	for _, award := range awards {
		reference := uuid.NewSHA1(uuid.NameSpaceOID,
			[]byte(fmt.Sprintf("reward:%s:%s", event, award.UserID))).String()

		_, err := l.Credit(ctx, Entry{
			UserID:      award.UserID,
			AmountPaise: award.AmountPaise,
			Type:        txType,
			Description: description,
			Reference:   reference,
			Metadata:    models.JSONB{"event": event},
		})
		switch {
		case err == nil:
			result.Credited++
		case errors.Is(err, ErrDuplicateReference):
			// Already paid for this event, nothing to do.
			result.Skipped++
		default:
			result.Failed++
			result.Errors[award.UserID] = err.Error()
			l.logger.WithError(err).WithFields(logging.Fields{
				"event":   event,
				"user_id": award.UserID,
			}).Error("Failed to credit reward")
		}
	}

	if len(result.Errors) == 0 {
		result.Errors = nil
	}

	l.logger.WithFields(logging.Fields{
		"event":    event,
		"credited": result.Credited,
		"skipped":  result.Skipped,
		"failed":   result.Failed,
	}).Info("Reward disbursement completed")

	return result
}
