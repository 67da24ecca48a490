package campaign

import (
	"strings"

	"github.com/teranos/cadence/errors"
)

// StopCondition permanently retires a recipient from a campaign
type StopCondition string

const (
	StopPaymentCompletion StopCondition = "payment_completion"
	StopUserResponse      StopCondition = "user_response"
	StopMaxMessages       StopCondition = "max_messages"
)

// stopOrder is the evaluation order; the first match is the stop reason
var stopOrder = []StopCondition{StopPaymentCompletion, StopUserResponse, StopMaxMessages}

// StopConditions is the set configured on a campaign
type StopConditions []StopCondition

// Has reports whether c is configured
func (s StopConditions) Has(c StopCondition) bool {
	for _, x := range s {
		if x == c {
			return true
		}
	}
	return false
}

// String is the storage form: a comma-separated list in evaluation order
func (s StopConditions) String() string {
	var parts []string
	for _, c := range stopOrder {
		if s.Has(c) {
			parts = append(parts, string(c))
		}
	}
	return strings.Join(parts, ",")
}

// ParseStopConditions parses the storage form. Unknown names are rejected.
func ParseStopConditions(s string) (StopConditions, error) {
	var out StopConditions
	for _, part := range strings.Split(s, ",") {
		c := StopCondition(strings.TrimSpace(part))
		if c == "" {
			continue
		}
		if !c.valid() {
			return nil, errors.NewInvalidRequestError("unknown stop condition %q", c)
		}
		if !out.Has(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (c StopCondition) valid() bool {
	for _, k := range stopOrder {
		if c == k {
			return true
		}
	}
	return false
}

// EvaluateStop applies the campaign's configured stop conditions to r, in
// the fixed order payment_completion, user_response, max_messages. It
// returns the first condition met. Conditions the campaign does not
// configure are never checked, so an empty set never stops anyone.
func EvaluateStop(r Recipient, c Campaign) (StopCondition, bool) {
	for _, cond := range stopOrder {
		if !c.StopConditions.Has(cond) {
			continue
		}
		switch cond {
		case StopPaymentCompletion:
			if r.PaymentCompleted {
				return cond, true
			}
		case StopUserResponse:
			if r.ResponseReceived {
				return cond, true
			}
		case StopMaxMessages:
			if c.MaxMessages != nil && r.MessagesSent >= *c.MaxMessages {
				return cond, true
			}
		}
	}
	return "", false
}

// ShouldStop is the boolean form of EvaluateStop
func ShouldStop(r Recipient, c Campaign) bool {
	_, stop := EvaluateStop(r, c)
	return stop
}
