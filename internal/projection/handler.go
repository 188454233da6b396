package projection

import (
	"context"

	"github.com/drblury/tripflow/internal/events"
	"github.com/drblury/tripflow/internal/runtime/logging"
)

// Sink receives a record every time an event changes it.
type Sink interface {
	Save(ctx context.Context, b Booking) error
}

// Handler applies consumed events to a Store and forwards the changed record
// to an optional Sink. It satisfies the consumer's handler contract.
type Handler struct {
	store  *Store
	sink   Sink
	logger logging.ServiceLogger
}

// NewHandler wires store and sink. sink may be nil.
func NewHandler(store *Store, sink Sink, logger logging.ServiceLogger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{store: store, sink: sink, logger: logger}
}

// HandleCreated applies a booking-created event.
func (h *Handler) HandleCreated(ctx context.Context, env events.Envelope) error {
	if err := h.store.ApplyCreated(env); err != nil {
		return err
	}
	h.mirror(ctx, env.BookingID)
	return nil
}

// HandleStatusUpdated applies a booking-status-updated event.
func (h *Handler) HandleStatusUpdated(ctx context.Context, env events.Envelope) error {
	if err := h.store.ApplyStatusUpdate(env); err != nil {
		return err
	}
	h.mirror(ctx, env.BookingID)
	return nil
}

// mirror failures are logged only: the in-memory record is authoritative.
func (h *Handler) mirror(ctx context.Context, bookingID string) {
	if h.sink == nil {
		return
	}
	rec, ok := h.store.Get(bookingID)
	if !ok {
		return
	}
	if err := h.sink.Save(ctx, rec); err != nil {
		h.logger.Error("Mirroring booking failed", err, logging.LogFields{"booking_id": bookingID})
	}
}
