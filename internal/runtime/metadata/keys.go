package metadata

// Header names carried on every booking message. Kafka receives metadata
// entries as record headers, so consumers can route on them without decoding
// the body.
const (
	HeaderEventType = "event-type"
	HeaderSource    = "source"
	// HeaderHotelID is only set on hotel events that carry a payload.
	HeaderHotelID = "hotel-id"
)

// Internal metadata keys. These are reserved and should not be used for
// custom headers.
const (
	// KeyPartition holds the partition key (the booking id) read by the Kafka marshaler.
	KeyPartition = "partition_key"

	// KeyCorrelationID tracks related messages across services.
	KeyCorrelationID = "correlation_id"

	// KeyOriginalTopic and KeyDeadLetterReason are stamped on dead-lettered copies.
	KeyOriginalTopic    = "original_topic"
	KeyDeadLetterReason = "dead_letter_reason"
)
