package events

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/tripflow/internal/runtime/errors"
	"github.com/drblury/tripflow/internal/runtime/metadata"
)

// PartitionKey returns the key the Kafka marshaler hashes to pick a
// partition. It has the signature kafka.NewWithPartitioningMarshaler expects.
func PartitionKey(_ string, msg *message.Message) (string, error) {
	key := msg.Metadata.Get(metadata.KeyPartition)
	if key == "" {
		return "", fmt.Errorf("message %s: %w", msg.UUID, errspkg.ErrBookingIDRequired)
	}
	return key, nil
}

// PartitionFor reports the partition sarama's hash partitioner assigns to key
// on a topic with the given number of partitions.
func PartitionFor(topic, key string, partitions int32) (int32, error) {
	if partitions <= 0 {
		return 0, fmt.Errorf("topic %s: partition count must be positive, got %d", topic, partitions)
	}
	partitioner := sarama.NewHashPartitioner(topic)
	return partitioner.Partition(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
	}, partitions)
}
