package transport

// Capabilities describes what a transport backend guarantees to the booking
// pipeline. Consumers rely on per-key ordering; anything else is informational.
type Capabilities struct {
	// Name is the PubSubSystem value the transport registers under.
	Name string

	// PreservesKeyOrder indicates messages sharing a partition key are
	// delivered in publish order.
	PreservesKeyOrder bool

	// SupportsPartitioning indicates topics are split into partitions that
	// consumer group members share.
	SupportsPartitioning bool

	// CrossProcess indicates publishers and subscribers may live in different
	// processes.
	CrossProcess bool

	// SupportsNativeDLQ indicates the broker routes failed messages itself.
	// When false the consumer republishes them to the dead-letter topic.
	SupportsNativeDLQ bool

	SupportsAck  bool
	SupportsNack bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// RequiresDLQEmulation returns true if dead letters must be republished by
// the consumer.
func (c Capabilities) RequiresDLQEmulation() bool {
	return !c.SupportsNativeDLQ
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

var (
	// ChannelCapabilities for the in-process Go channel bus.
	ChannelCapabilities = Capabilities{
		Name:              "channel",
		PreservesKeyOrder: true,
		SupportsAck:       true,
		SupportsNack:      true,
	}

	// KafkaCapabilities for Apache Kafka.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		PreservesKeyOrder:    true,
		SupportsPartitioning: true,
		CrossProcess:         true,
		SupportsAck:          true,
		MaxMessageSize:       1048576, // broker default message.max.bytes
	}
)

// GetCapabilities returns the capabilities registered for a transport.
// Returns a zero Capabilities struct if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
