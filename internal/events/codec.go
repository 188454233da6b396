package events

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/tripflow/internal/runtime/errors"
	"github.com/drblury/tripflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/tripflow/internal/runtime/jsoncodec"
	"github.com/drblury/tripflow/internal/runtime/metadata"
)

// Marshal validates e and encodes it as a Watermill message: a JSON body plus
// the event-type, source, partition key and (for hotel payloads) hotel-id
// headers. Times are encoded as RFC 3339 instants: an envelope built by
// NewCreated or NewStatusUpdated round-trips exactly, any other one round-trips
// up to time.Time.Equal.
func Marshal(e Envelope) (*message.Message, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	body, err := jsoncodec.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", e.BookingID, err)
	}

	md := metadata.New(
		metadata.HeaderEventType, string(e.EventType),
		metadata.KeyPartition, e.BookingID,
	).
		With(metadata.HeaderSource, e.Source).
		With(metadata.HeaderHotelID, e.HotelID())

	msg := message.NewMessage(ids.CreateULID(), body)
	msg.Metadata = metadata.ToWatermill(md)
	return msg, nil
}

// Unmarshal decodes a message body into an Envelope. The event-type header,
// when present, must agree with the body.
func Unmarshal(msg *message.Message) (Envelope, error) {
	if msg == nil {
		return Envelope{}, errspkg.ErrPayloadRequired
	}
	var e Envelope
	if err := jsoncodec.Unmarshal(msg.Payload, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if header := msg.Metadata.Get(metadata.HeaderEventType); header != "" && header != string(e.EventType) {
		return Envelope{}, fmt.Errorf("%w: header %q, body %q", errspkg.ErrHeaderMismatch, header, e.EventType)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// EventTypeFromHeaders reads the event type without touching the body.
func EventTypeFromHeaders(md message.Metadata) (EventType, error) {
	return ParseEventType(md.Get(metadata.HeaderEventType))
}
