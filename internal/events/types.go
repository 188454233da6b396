package events

import (
	"fmt"

	errspkg "github.com/drblury/tripflow/internal/runtime/errors"
)

// ListingType selects the topic and the payload variant of an event.
type ListingType string

const (
	ListingFlight ListingType = "flight"
	ListingHotel  ListingType = "hotel"
)

// ParseListingType validates a listing type received from outside.
func ParseListingType(s string) (ListingType, error) {
	switch lt := ListingType(s); lt {
	case ListingFlight, ListingHotel:
		return lt, nil
	default:
		return "", fmt.Errorf("%w: %q", errspkg.ErrUnknownListingType, s)
	}
}

// EventType tags the lifecycle step an envelope describes.
type EventType string

const (
	EventBookingCreated       EventType = "booking-created"
	EventBookingStatusUpdated EventType = "booking-status-updated"
)

// ParseEventType validates an event type read from a header or a body.
func ParseEventType(s string) (EventType, error) {
	switch et := EventType(s); et {
	case EventBookingCreated, EventBookingStatusUpdated:
		return et, nil
	default:
		return "", fmt.Errorf("%w: %q", errspkg.ErrUnknownEventType, s)
	}
}

// Status is the booking lifecycle state carried by every event.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Statuses lists every known status in lifecycle order.
var Statuses = []Status{StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted}

// ParseStatus validates a status received from outside.
func ParseStatus(s string) (Status, error) {
	for _, known := range Statuses {
		if string(known) == s {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: %q", errspkg.ErrUnknownStatus, s)
}
