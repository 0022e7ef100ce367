package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent(t *testing.T) {
	raw := []byte(`{"id":"evt_1","type":"invoice.payment_succeeded","created":1760000000,"livemode":true,
		"data":{"object":{"id":"in_1","customer":"cus_1"}}}`)

	ev, err := ParseEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, EventInvoicePaymentSucceeded, ev.Type)
	assert.True(t, ev.Livemode)
	assert.Equal(t, int64(1760000000), ev.CreatedAt().Unix())
	assert.JSONEq(t, `{"id":"in_1","customer":"cus_1"}`, string(ev.Data.Object))
}

func TestParseEvent_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":     `{"id":`,
		"missing id":   `{"type":"account.updated"}`,
		"missing type": `{"id":"evt_1"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEvent([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestEventType_Family(t *testing.T) {
	assert.Equal(t, FamilyPaymentSuccess, EventIntentSucceeded.Family())
	assert.Equal(t, FamilyPayout, EventPayoutFailed.Family())
	assert.True(t, EventDisputeCreated.Recognized())
	assert.False(t, EventType("customer.tax_id.created").Recognized())
}

func TestTransient(t *testing.T) {
	assert.NoError(t, Transient(nil))
	err := Transient(assert.AnError)
	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, assert.AnError)
}
