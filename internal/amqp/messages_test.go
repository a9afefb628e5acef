package amqp

import (
	"testing"
	"time"
)

func TestReconcileMessageRoundTrip(t *testing.T) {
	msg := NewReconcileMessage("user-1", "acc-1", ReasonBalanceWriteFailed)
	if msg.Timestamp.IsZero() {
		t.Fatal("timestamp should be set")
	}

	body, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	got, err := ReconcileMessageFromJSON(body)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if got.UserID != "user-1" || got.AccountID != "acc-1" || got.Reason != ReasonBalanceWriteFailed {
		t.Fatalf("unexpected message: %+v", got)
	}
	if !got.Timestamp.Truncate(time.Second).Equal(msg.Timestamp.Truncate(time.Second)) {
		t.Fatalf("timestamp mismatch: %v vs %v", got.Timestamp, msg.Timestamp)
	}
}

func TestReconcileMessageFromJSONInvalid(t *testing.T) {
	if _, err := ReconcileMessageFromJSON([]byte("{not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
