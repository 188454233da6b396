package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	errspkg "github.com/drblury/tripflow/internal/runtime/errors"
	jsoncodec "github.com/drblury/tripflow/internal/runtime/jsoncodec"
)

// Envelope is the unit published to a booking topic. BookingID doubles as the
// partition key, so every event of one booking lands on one partition.
type Envelope struct {
	BookingID   string      `json:"booking_id"`
	EventType   EventType   `json:"event_type"`
	ListingType ListingType `json:"listing_type"`
	Status      Status      `json:"status"`
	Payload     Payload     `json:"payload"`
	// Timestamp is the producer clock at emission. It is not guaranteed to be
	// monotonic per booking; partition order is what consumers rely on.
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// envelopeWire defers payload decoding until the listing type is known.
type envelopeWire struct {
	BookingID   string          `json:"booking_id"`
	EventType   EventType       `json:"event_type"`
	ListingType ListingType     `json:"listing_type"`
	Status      Status          `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   time.Time       `json:"timestamp"`
	Source      string          `json:"source"`
}

// UnmarshalJSON decodes the payload into the variant named by listing_type.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire envelopeWire
	if err := jsoncodec.Unmarshal(data, &wire); err != nil {
		return err
	}
	payload, err := DecodePayload(wire.ListingType, wire.Payload)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", wire.ListingType, err)
	}
	*e = Envelope{
		BookingID:   wire.BookingID,
		EventType:   wire.EventType,
		ListingType: wire.ListingType,
		Status:      wire.Status,
		Payload:     payload,
		Timestamp:   wire.Timestamp,
		Source:      wire.Source,
	}
	return nil
}

// NewCreated builds a booking-created envelope stamped with now. All times are
// normalised to UTC so the envelope survives Marshal/Unmarshal unchanged.
func NewCreated(b Booking, source string, now time.Time) Envelope {
	return Envelope{
		BookingID:   b.BookingID,
		EventType:   EventBookingCreated,
		ListingType: b.ListingType,
		Status:      b.Status,
		Payload:     b.Payload.inUTC(),
		Timestamp:   utcInstant(now),
		Source:      source,
	}
}

// NewStatusUpdated builds a booking-status-updated envelope stamped with now.
func NewStatusUpdated(bookingID string, status Status, listing ListingType, source string, now time.Time) Envelope {
	return Envelope{
		BookingID:   bookingID,
		EventType:   EventBookingStatusUpdated,
		ListingType: listing,
		Status:      status,
		Timestamp:   utcInstant(now),
		Source:      source,
	}
}

// Validate checks identity, enumerations and that creation events carry the
// payload variant matching their listing type.
func (e Envelope) Validate() error {
	if e.BookingID == "" {
		return errspkg.ErrBookingIDRequired
	}
	if _, err := ParseEventType(string(e.EventType)); err != nil {
		return err
	}
	if _, err := ParseListingType(string(e.ListingType)); err != nil {
		return err
	}
	if _, err := ParseStatus(string(e.Status)); err != nil {
		return err
	}

	kind := e.Payload.Kind()
	switch e.EventType {
	case EventBookingCreated:
		if kind == "" {
			return errspkg.ErrPayloadRequired
		}
		if kind != e.ListingType {
			return fmt.Errorf("%w: %s payload on %s event", errspkg.ErrPayloadMismatch, kind, e.ListingType)
		}
	case EventBookingStatusUpdated:
		if kind != "" && kind != e.ListingType {
			return fmt.Errorf("%w: %s payload on %s event", errspkg.ErrPayloadMismatch, kind, e.ListingType)
		}
	}
	return nil
}

// HotelID returns the hotel id header value, or "" for events that carry no
// hotel payload.
func (e Envelope) HotelID() string {
	if e.ListingType != ListingHotel || e.Payload.Hotel == nil {
		return ""
	}
	return strconv.FormatInt(e.Payload.Hotel.HotelID, 10)
}
