package lifecycle

import (
	"math"
	"time"

	"ridebook/internal/domain"
)

// FullRefundNotice is how far ahead of a scheduled pickup a cancellation must be
// to get a full refund once a driver is assigned. Exactly 48h qualifies.
const FullRefundNotice = 48 * time.Hour

// Refund reasons, kept human-auditable for the refund collaborator.
const (
	ReasonNoDriverCommitted = "no driver committed yet"
	ReasonImmediateAssigned = "driver assigned to an immediate ride"
	ReasonAmpleNotice       = "cancelled at least 48h before scheduled pickup"
	ReasonShortNotice       = "cancelled less than 48h before scheduled pickup"
	ReasonRideStarted       = "ride considered started for the driver"
)

// RefundDecision is the outcome of the refund policy. Amount is derived from the
// reservation cost, rounded to cents; the cost itself is never changed.
type RefundDecision struct {
	Fraction float64
	Amount   float64
	Reason   string
}

// ComputeRefund is the cancellation refund policy. It is a pure function of its inputs.
func ComputeRefund(status domain.Status, desiredPickupTime *time.Time, now time.Time, cost float64) (RefundDecision, error) {
	fraction, reason, err := refundPolicy(status, desiredPickupTime, now)
	if err != nil {
		return RefundDecision{}, err
	}
	return RefundDecision{
		Fraction: fraction,
		Amount:   math.Round(cost*fraction*100) / 100,
		Reason:   reason,
	}, nil
}

func refundPolicy(status domain.Status, desiredPickupTime *time.Time, now time.Time) (float64, string, error) {
	switch status {
	case domain.StatusPendingAssignment, domain.StatusDriverRefused:
		return 1.0, ReasonNoDriverCommitted, nil

	case domain.StatusDriverAssigned:
		if desiredPickupTime == nil {
			return 0.5, ReasonImmediateAssigned, nil
		}
		if desiredPickupTime.Sub(now) >= FullRefundNotice {
			return 1.0, ReasonAmpleNotice, nil
		}
		return 0.5, ReasonShortNotice, nil

	case domain.StatusDriverAccepted, domain.StatusInProgress, domain.StatusAwaitingReview:
		return 0.0, ReasonRideStarted, nil

	default:
		return 0, "", ErrAlreadyTerminal
	}
}
