package amqp

import (
	"encoding/json"
	"time"
)

// ReconcileMessage asks the worker to recompute one account's balance
// from its transaction history. Published after a partial persistence
// failure (transaction row written, balance write failed) and available
// on demand as a repair trigger.
type ReconcileMessage struct {
	UserID    string    `json:"user_id"`
	AccountID string    `json:"account_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Reasons attached to reconcile messages.
const (
	ReasonBalanceWriteFailed = "balance_write_failed"
	ReasonSweep              = "sweep"
)

func NewReconcileMessage(userID, accountID, reason string) *ReconcileMessage {
	return &ReconcileMessage{
		UserID:    userID,
		AccountID: accountID,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *ReconcileMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReconcileMessageFromJSON creates a message from JSON bytes.
func ReconcileMessageFromJSON(data []byte) (*ReconcileMessage, error) {
	var msg ReconcileMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
