package projection

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/drblury/tripflow/internal/events"
	jsoncodec "github.com/drblury/tripflow/internal/runtime/jsoncodec"
)

// Booking is the merged view of one booking: the creation payload plus the
// latest status observed for it. Payload pointers are shared with the store
// and must not be modified.
type Booking struct {
	BookingID   string             `json:"bookingId"`
	ListingType events.ListingType `json:"listingType"`
	Status      events.Status      `json:"status"`
	Payload     events.Payload     `json:"payload"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`

	// statusUpdated is set once a status update has been applied, so a
	// redelivered creation event cannot roll the status back.
	statusUpdated bool
}

// StatusUpdated reports whether a status update has been applied.
func (b Booking) StatusUpdated() bool { return b.statusUpdated }

type bookingWire struct {
	BookingID     string             `json:"bookingId"`
	ListingType   events.ListingType `json:"listingType"`
	Status        events.Status      `json:"status"`
	Payload       json.RawMessage    `json:"payload"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
	StatusUpdated bool               `json:"statusUpdated,omitempty"`
}

// MarshalJSON keeps the status-updated marker so a mirrored record restores
// with the same redelivery guarantees.
func (b Booking) MarshalJSON() ([]byte, error) {
	payload, err := b.Payload.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return jsoncodec.Marshal(bookingWire{
		BookingID:     b.BookingID,
		ListingType:   b.ListingType,
		Status:        b.Status,
		Payload:       payload,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
		StatusUpdated: b.statusUpdated,
	})
}

// UnmarshalJSON decodes the payload variant named by listingType.
func (b *Booking) UnmarshalJSON(data []byte) error {
	var wire bookingWire
	if err := jsoncodec.Unmarshal(data, &wire); err != nil {
		return err
	}
	payload, err := events.DecodePayload(wire.ListingType, wire.Payload)
	if err != nil {
		return fmt.Errorf("booking %s: %w", wire.BookingID, err)
	}
	*b = Booking{
		BookingID:     wire.BookingID,
		ListingType:   wire.ListingType,
		Status:        wire.Status,
		Payload:       payload,
		CreatedAt:     wire.CreatedAt,
		UpdatedAt:     wire.UpdatedAt,
		statusUpdated: wire.StatusUpdated,
	}
	return nil
}

// Filter selects bookings for All and Stats.
type Filter func(Booking) bool

// ByHotelID matches hotel bookings for one hotel.
func ByHotelID(id int64) Filter {
	return func(b Booking) bool {
		return b.Payload.Hotel != nil && b.Payload.Hotel.HotelID == id
	}
}

// ByAirline matches flight bookings with a leg on airline, ignoring case.
func ByAirline(airline string) Filter {
	return func(b Booking) bool {
		f := b.Payload.Flight
		if f == nil {
			return false
		}
		if strings.EqualFold(f.OutboundFlight.Airline, airline) {
			return true
		}
		return f.ReturnFlight != nil && strings.EqualFold(f.ReturnFlight.Airline, airline)
	}
}

// ByStatus matches bookings currently in status.
func ByStatus(status events.Status) Filter {
	return func(b Booking) bool { return b.Status == status }
}

func matches(b Booking, filters []Filter) bool {
	for _, f := range filters {
		if f != nil && !f(b) {
			return false
		}
	}
	return true
}

// Stats are recomputed from the (filtered) records on every call.
type Stats struct {
	Count        int                   `json:"count"`
	ByStatus     map[events.Status]int `json:"byStatus"`
	TotalRevenue float64               `json:"totalRevenue"`
	// AverageNights is only reported for hotel projections.
	AverageNights *float64 `json:"averageNights,omitempty"`
}
