package campaign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/cadence/errors"
)

func TestEvaluateStop(t *testing.T) {
	all := StopConditions{StopPaymentCompletion, StopUserResponse, StopMaxMessages}

	tests := []struct {
		name       string
		conditions StopConditions
		maxMsgs    *int
		recipient  Recipient
		wantReason StopCondition
		wantStop   bool
	}{
		{name: "no conditions never stop", recipient: Recipient{PaymentCompleted: true, ResponseReceived: true, MessagesSent: 99}, maxMsgs: intPtr(1)},
		{name: "payment", conditions: all, maxMsgs: intPtr(3), recipient: Recipient{PaymentCompleted: true}, wantReason: StopPaymentCompletion, wantStop: true},
		{name: "response", conditions: all, recipient: Recipient{ResponseReceived: true}, wantReason: StopUserResponse, wantStop: true},
		{name: "max reached", conditions: all, maxMsgs: intPtr(3), recipient: Recipient{MessagesSent: 3}, wantReason: StopMaxMessages, wantStop: true},
		{name: "below max", conditions: all, maxMsgs: intPtr(3), recipient: Recipient{MessagesSent: 2}},
		{name: "max configured without limit", conditions: all, recipient: Recipient{MessagesSent: 50}},
		{name: "payment first when several match", conditions: all, maxMsgs: intPtr(1), recipient: Recipient{PaymentCompleted: true, ResponseReceived: true, MessagesSent: 5}, wantReason: StopPaymentCompletion, wantStop: true},
		{name: "unconfigured condition is ignored", conditions: StopConditions{StopMaxMessages}, maxMsgs: intPtr(3), recipient: Recipient{PaymentCompleted: true}},
		{name: "response only", conditions: StopConditions{StopUserResponse}, maxMsgs: intPtr(1), recipient: Recipient{ResponseReceived: true, MessagesSent: 4}, wantReason: StopUserResponse, wantStop: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Campaign{StopConditions: tt.conditions, MaxMessages: tt.maxMsgs}
			reason, stop := EvaluateStop(tt.recipient, c)
			assert.Equal(t, tt.wantStop, stop)
			assert.Equal(t, tt.wantReason, reason)
			assert.Equal(t, tt.wantStop, ShouldStop(tt.recipient, c))
		})
	}
}

func TestStopConditionsStorageForm(t *testing.T) {
	s := StopConditions{StopMaxMessages, StopPaymentCompletion}
	assert.Equal(t, "payment_completion,max_messages", s.String())

	parsed, err := ParseStopConditions(" max_messages, payment_completion,,max_messages")
	require.NoError(t, err)
	assert.Equal(t, StopConditions{StopMaxMessages, StopPaymentCompletion}, parsed)

	empty, err := ParseStopConditions("")
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Equal(t, "", StopConditions(nil).String())

	_, err = ParseStopConditions("payment_completion,unsubscribed")
	assert.True(t, errors.IsInvalidRequestError(err))
}
