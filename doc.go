// Package tripflow propagates booking lifecycle events from the booking
// service to the services that follow them. It is a thin layer on top of
// Watermill: events travel as JSON envelopes over Kafka, keyed by booking id
// so every booking keeps its order inside one partition.
//
// A Producer publishes booking-created and booking-status-updated events to
// the topic of the booking's listing type (flight-bookings or hotel-bookings).
// Publishing never panics and never returns an error: failures are logged,
// retried with exponential backoff and reported as false.
//
// A Consumer follows exactly one topic with one consumer group, routes each
// message to a Handler by its event-type header and acknowledges every
// message after a single attempt. The projection Store is the usual Handler:
// an idempotent, replay-safe, insertion-ordered view of the bookings with
// filtered listing and aggregate queries.
//
// RunService wires the whole consuming side (transport, consumer, projection,
// optional Redis mirror and the read API) for the admin or owner role.
//
// # Transports
//
// The transport is selected through Config.PubSubSystem:
//   - kafka: the production transport, partitioned by booking id
//   - channel: an in-memory bus shared by the whole process, for local runs and tests
package tripflow
