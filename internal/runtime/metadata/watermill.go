package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// ToWatermill converts Metadata into the map attached to an outgoing message.
func ToWatermill(md Metadata) message.Metadata {
	wm := make(message.Metadata, len(md))
	for k, v := range md {
		wm[k] = v
	}
	return wm
}

// ForDeadLetter copies the headers of a failed message and records the topic
// it was consumed from and the handling error.
func ForDeadLetter(md message.Metadata, originalTopic, reason string) message.Metadata {
	out := make(message.Metadata, len(md)+2)
	for k, v := range md {
		out[k] = v
	}
	out[KeyOriginalTopic] = originalTopic
	out[KeyDeadLetterReason] = reason
	return out
}
