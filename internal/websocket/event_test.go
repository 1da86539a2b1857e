package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_String(t *testing.T) {
	tests := []struct {
		name     string
		et       EventType
		expected string
	}{
		{"created", EventTypeCreated, "created"},
		{"updated", EventTypeUpdated, "updated"},
		{"disbursed", EventTypeDisbursed, "disbursed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.et))
		})
	}
}

func TestEntityType_String(t *testing.T) {
	tests := []struct {
		name     string
		et       EntityType
		expected string
	}{
		{"loan", EntityTypeLoan, "loan"},
		{"payment", EntityTypePayment, "payment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.et))
		})
	}
}

func TestNewEvent(t *testing.T) {
	payload := map[string]interface{}{
		"id":     "loan-1",
		"status": "disbursed",
	}

	before := time.Now()
	evt := NewEvent(EventTypeDisbursed, EntityTypeLoan, payload)
	after := time.Now()

	assert.Equal(t, "loan.disbursed", evt.Type)
	assert.Equal(t, EntityTypeLoan, evt.Entity)
	assert.Equal(t, payload, evt.Payload)
	assert.True(t, !evt.Timestamp.Before(before) && !evt.Timestamp.After(after))
}

func TestEvent_JSON_Serialization(t *testing.T) {
	fixedTime := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	payload := map[string]interface{}{
		"id":     "loan-1",
		"amount": "11250.00",
	}

	evt := Event{
		Type:      "loan.disbursed",
		Entity:    EntityTypeLoan,
		Payload:   payload,
		Timestamp: fixedTime,
	}

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded Event
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, evt.Type, decoded.Type)
	assert.Equal(t, evt.Entity, decoded.Entity)
	assert.Equal(t, fixedTime.UTC(), decoded.Timestamp.UTC())

	decodedPayload, ok := decoded.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "loan-1", decodedPayload["id"])
	assert.Equal(t, "11250.00", decodedPayload["amount"])
}

func TestEvent_ToJSON(t *testing.T) {
	payload := map[string]interface{}{
		"id": "payment-1",
	}

	evt := NewEvent(EventTypeReceived, EntityTypePayment, payload)

	data, err := evt.ToJSON()
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	var decoded map[string]interface{}
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, "payment.received", decoded["type"])
	assert.Equal(t, "payment", decoded["entity"])
	assert.NotNil(t, decoded["payload"])
	assert.NotNil(t, decoded["timestamp"])
}

func TestLoanEvent_Helpers(t *testing.T) {
	payload := map[string]interface{}{"id": "loan-1"}

	t.Run("LoanSubmitted", func(t *testing.T) {
		evt := LoanSubmitted(payload)
		assert.Equal(t, "loan.submitted", evt.Type)
		assert.Equal(t, EntityTypeLoan, evt.Entity)
	})

	t.Run("LoanUnderReview", func(t *testing.T) {
		evt := LoanUnderReview(payload)
		assert.Equal(t, "loan.under_review", evt.Type)
	})

	t.Run("LoanApproved", func(t *testing.T) {
		evt := LoanApproved(payload)
		assert.Equal(t, "loan.approved", evt.Type)
	})

	t.Run("LoanRejected", func(t *testing.T) {
		evt := LoanRejected(payload)
		assert.Equal(t, "loan.rejected", evt.Type)
	})

	t.Run("LoanDisbursed", func(t *testing.T) {
		evt := LoanDisbursed(payload)
		assert.Equal(t, "loan.disbursed", evt.Type)
	})

	t.Run("LoanCompleted", func(t *testing.T) {
		evt := LoanCompleted(payload)
		assert.Equal(t, "loan.completed", evt.Type)
	})

	t.Run("LoanDefaulted", func(t *testing.T) {
		evt := LoanDefaulted(payload)
		assert.Equal(t, "loan.defaulted", evt.Type)
	})
}

func TestPaymentEvent_Helpers(t *testing.T) {
	payload := map[string]interface{}{"id": "payment-1"}

	t.Run("PaymentReceived", func(t *testing.T) {
		evt := PaymentReceived(payload)
		assert.Equal(t, "payment.received", evt.Type)
		assert.Equal(t, EntityTypePayment, evt.Entity)
	})

	t.Run("PaymentFailed", func(t *testing.T) {
		evt := PaymentFailed(payload)
		assert.Equal(t, "payment.failed", evt.Type)
	})

	t.Run("PaymentRefunded", func(t *testing.T) {
		evt := PaymentRefunded(payload)
		assert.Equal(t, "payment.refunded", evt.Type)
	})

	t.Run("PaymentProofSubmitted", func(t *testing.T) {
		evt := PaymentProofSubmitted(payload)
		assert.Equal(t, "payment.proof_submitted", evt.Type)
	})

	t.Run("PaymentProofVerified", func(t *testing.T) {
		evt := PaymentProofVerified(payload)
		assert.Equal(t, "payment.proof_verified", evt.Type)
	})
}

func TestNotificationCreated(t *testing.T) {
	payload := map[string]interface{}{"id": "notif-1"}
	evt := NotificationCreated(payload)
	assert.Equal(t, "notification.created", evt.Type)
	assert.Equal(t, EntityTypeNotification, evt.Entity)
}
