package events

import (
	"fmt"

	errspkg "github.com/drblury/tripflow/internal/runtime/errors"
)

// Durable topics, one per listing type.
const (
	TopicFlightBookings = "flight-bookings"
	TopicHotelBookings  = "hotel-bookings"
)

var topicsByListing = map[ListingType]string{
	ListingFlight: TopicFlightBookings,
	ListingHotel:  TopicHotelBookings,
}

// TopicFor maps a listing type to its topic.
func TopicFor(listing ListingType) (string, error) {
	topic, ok := topicsByListing[listing]
	if !ok {
		return "", fmt.Errorf("%w: %q", errspkg.ErrUnknownListingType, listing)
	}
	return topic, nil
}

// ListingTypeForTopic is the inverse of TopicFor.
func ListingTypeForTopic(topic string) (ListingType, error) {
	for listing, t := range topicsByListing {
		if t == topic {
			return listing, nil
		}
	}
	return "", fmt.Errorf("%w: no listing type for topic %q", errspkg.ErrUnknownListingType, topic)
}
