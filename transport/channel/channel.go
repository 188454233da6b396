// Package channel provides an in-memory Go channel transport. Every Build in
// a process shares one bus, so a producer and a consumer wired separately
// still see each other. It backs local runs and end-to-end tests.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/tripflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

var (
	busMu sync.Mutex
	bus   *transport.Transport
)

func init() {
	Register()
}

// Register adds the channel builder to the default registry.
func Register() {
	transport.Register(TransportName, Build)
	transport.RegisterCapabilities(TransportName, transport.ChannelCapabilities)
}

// BusConfig makes Publish wait for the subscriber's ack, which gives the
// same per-topic ordering the Kafka transport gives per partition.
func BusConfig() gochannel.Config {
	return gochannel.Config{BlockPublishUntilSubscriberAck: true}
}

// Build returns handles onto the process-wide bus, creating it on first use.
// Closing the handles is a no-op; use Shutdown to tear the bus down.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	busMu.Lock()
	defer busMu.Unlock()

	if bus == nil {
		pub, sub := Factory(BusConfig(), logger)
		bus = &transport.Transport{Publisher: pub, Subscriber: sub}
	}
	return transport.Transport{
		Publisher:  sharedPublisher{bus.Publisher},
		Subscriber: sharedSubscriber{bus.Subscriber},
	}, nil
}

// Shutdown closes the shared bus. The next Build starts a fresh one.
func Shutdown() error {
	busMu.Lock()
	defer busMu.Unlock()

	if bus == nil {
		return nil
	}
	// gochannel hands back one value for both sides; close it once.
	var err error
	if closer, ok := bus.Subscriber.(message.Publisher); ok && closer == bus.Publisher {
		err = bus.Publisher.Close()
	} else {
		err = bus.Close()
	}
	bus = nil
	return err
}

type sharedPublisher struct {
	message.Publisher
}

func (sharedPublisher) Close() error { return nil }

type sharedSubscriber struct {
	message.Subscriber
}

func (sharedSubscriber) Close() error { return nil }
