package service

import (
	"context"
	"fmt"
	"log"

	"ridebook/internal/domain"
	"ridebook/internal/events"
)

// Notification represents a notification to be sent.
type Notification struct {
	Kind        domain.EventKind
	RecipientID string // customer or driver ID
	Title       string
	Message     string
}

// NotificationService turns lifecycle events into notifications for the
// affected customer and driver. Delivery is logged only.
type NotificationService struct{}

var _ events.Emitter = (*NotificationService)(nil)

// NewNotificationService creates a new NotificationService.
func NewNotificationService() *NotificationService {
	return &NotificationService{}
}

// Emit implements events.Emitter.
func (s *NotificationService) Emit(ctx context.Context, event domain.Event) error {
	for _, n := range s.Render(event) {
		s.send(ctx, n)
	}
	return nil
}

// Render returns the notifications an event triggers.
func (s *NotificationService) Render(event domain.Event) []Notification {
	customerID, _ := event.Payload["customer_id"].(string)
	driverID, _ := event.Payload["driver_id"].(string)

	var out []Notification
	notify := func(recipient, title, message string) {
		if recipient == "" {
			return
		}
		out = append(out, Notification{Kind: event.Kind, RecipientID: recipient, Title: title, Message: message})
	}

	switch event.Kind {
	case domain.EventAssigned:
		notify(customerID, "Driver Assigned", "A driver has been assigned to your reservation")
		notify(driverID, "New Assignment", fmt.Sprintf("You have been assigned reservation %s", event.ReservationID))
	case domain.EventAccepted:
		notify(customerID, "Driver Confirmed", "Your driver accepted the reservation")
	case domain.EventRefused:
		notify(customerID, "Finding Another Driver", "Your driver is unavailable, we are assigning a new one")
	case domain.EventStarted:
		notify(customerID, "Ride Started", "Your ride has started. Enjoy your ride!")
	case domain.EventCompleted:
		notify(customerID, "Ride Completed", "Your ride has ended. Please rate your driver")
	case domain.EventReviewSubmitted:
		notify(driverID, "New Review", "Your customer left a review")
	case domain.EventClientRated:
		// Driver-side ratings are not shown to customers.
	case domain.EventCancelled:
		notify(customerID, "Reservation Cancelled", fmt.Sprintf("Reservation %s was cancelled", event.ReservationID))
		notify(driverID, "Reservation Cancelled", fmt.Sprintf("Reservation %s was cancelled", event.ReservationID))
	case domain.EventRefundComputed:
		amount, _ := event.Payload["amount"].(float64)
		notify(customerID, "Refund", fmt.Sprintf("A refund of $%.2f will be issued", amount))
	}
	return out
}

func (s *NotificationService) send(ctx context.Context, notification Notification) {
	log.Printf("[NOTIFICATION] Type=%s, Recipient=%s, Title=%s, Message=%s",
		notification.Kind, notification.RecipientID, notification.Title, notification.Message)
}
