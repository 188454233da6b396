package events

import (
	"time"

	errspkg "github.com/drblury/tripflow/internal/runtime/errors"
	jsoncodec "github.com/drblury/tripflow/internal/runtime/jsoncodec"
)

// Contact is the traveller contact captured at booking time.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// FlightLeg is one direction of a flight booking.
type FlightLeg struct {
	Airline       string    `json:"airline"`
	FlightNumber  string    `json:"flightNumber,omitempty"`
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	DepartureTime time.Time `json:"departureTime"`
}

// FlightBooking is the flight variant of a booking payload.
type FlightBooking struct {
	OutboundFlight FlightLeg  `json:"outboundFlight"`
	ReturnFlight   *FlightLeg `json:"returnFlight,omitempty"`
	Passengers     int        `json:"passengers"`
	PassengerInfo  Contact    `json:"passengerInfo"`
	TotalPrice     float64    `json:"totalPrice"`
}

// HotelBooking is the hotel variant of a booking payload. CheckIn and
// CheckOut are calendar dates (YYYY-MM-DD).
type HotelBooking struct {
	HotelID       int64   `json:"hotelId"`
	HotelName     string  `json:"hotelName"`
	City          string  `json:"city"`
	Neighbourhood string  `json:"neighbourhood,omitempty"`
	CheckIn       string  `json:"checkIn"`
	CheckOut      string  `json:"checkOut"`
	Guests        int     `json:"guests"`
	Nights        int     `json:"nights"`
	GuestInfo     Contact `json:"guestInfo"`
	TotalPrice    float64 `json:"totalPrice"`
}

// Payload is a tagged union keyed by listing type: exactly one variant is set
// on creation events, none on status updates.
type Payload struct {
	Flight *FlightBooking
	Hotel  *HotelBooking
}

// FlightPayload wraps a flight booking. Departure times are stored in UTC.
func FlightPayload(b FlightBooking) Payload { return Payload{Flight: &b}.inUTC() }

// HotelPayload wraps a hotel booking.
func HotelPayload(b HotelBooking) Payload { return Payload{Hotel: &b} }

// inUTC returns p with flight departure times as UTC instants, the form they
// take after a trip through JSON. The caller's legs are not modified.
func (p Payload) inUTC() Payload {
	if p.Flight == nil {
		return p
	}
	fb := *p.Flight
	fb.OutboundFlight.DepartureTime = utcInstant(fb.OutboundFlight.DepartureTime)
	if fb.ReturnFlight != nil {
		leg := *fb.ReturnFlight
		leg.DepartureTime = utcInstant(leg.DepartureTime)
		fb.ReturnFlight = &leg
	}
	p.Flight = &fb
	return p
}

// utcInstant drops the zone name and monotonic reading, neither of which is
// encoded.
func utcInstant(t time.Time) time.Time { return t.Round(0).UTC() }

// Kind reports which variant is set. The empty string means no payload.
func (p Payload) Kind() ListingType {
	switch {
	case p.Flight != nil:
		return ListingFlight
	case p.Hotel != nil:
		return ListingHotel
	default:
		return ""
	}
}

// IsZero reports whether no variant is set.
func (p Payload) IsZero() bool { return p.Kind() == "" }

// TotalPrice returns the price of whichever variant is set.
func (p Payload) TotalPrice() float64 {
	switch p.Kind() {
	case ListingFlight:
		return p.Flight.TotalPrice
	case ListingHotel:
		return p.Hotel.TotalPrice
	default:
		return 0
	}
}

// MarshalJSON writes the active variant, or null when none is set.
func (p Payload) MarshalJSON() ([]byte, error) {
	switch p.Kind() {
	case ListingFlight:
		return jsoncodec.Marshal(p.Flight)
	case ListingHotel:
		return jsoncodec.Marshal(p.Hotel)
	default:
		return []byte("null"), nil
	}
}

// DecodePayload decodes raw JSON into the variant for listing. null or empty
// input yields a zero Payload.
func DecodePayload(listing ListingType, raw []byte) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Payload{}, nil
	}
	switch listing {
	case ListingFlight:
		var fb FlightBooking
		if err := jsoncodec.Unmarshal(raw, &fb); err != nil {
			return Payload{}, err
		}
		return Payload{Flight: &fb}, nil
	case ListingHotel:
		var hb HotelBooking
		if err := jsoncodec.Unmarshal(raw, &hb); err != nil {
			return Payload{}, err
		}
		return Payload{Hotel: &hb}, nil
	default:
		return Payload{}, errspkg.ErrUnknownListingType
	}
}

// Booking is what booking-service hands to the producer after persisting a
// booking in the relational store.
type Booking struct {
	BookingID   string
	ListingType ListingType
	Status      Status
	Payload     Payload
}
