// Package vendors holds the shared contract for third-party service
// providers. Provider responses normalize into a three-state Result; a
// SUCCESS is provisional until the provider's status callback confirms it.
package vendors

import "strings"

// Normalized provider statuses
const (
	StatusSuccess = "SUCCESS"
	StatusPending = "PENDING"
	StatusFailure = "FAILURE"
)

// Result is the normalized outcome of a provider call
type Result struct {
	Status        string `json:"status"`
	ProviderTxnID string `json:"provider_txn_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Failed reports whether the provider definitively rejected the request.
// Pending is not a failure; it resolves through the status callback.
func (r *Result) Failed() bool {
	return r.Status == StatusFailure
}

// NormalizeStatus maps a provider's status string onto the shared set.
// Unknown statuses are treated as failures so money is refunded rather
// than stranded.
func NormalizeStatus(providerStatus string) string {
	switch strings.ToUpper(providerStatus) {
	case "SUCCESS", "SUCCESSFUL", "COMPLETED":
		return StatusSuccess
	case "PENDING", "PROCESSING", "INPROGRESS", "IN_PROGRESS":
		return StatusPending
	default:
		return StatusFailure
	}
}
